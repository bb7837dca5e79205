package service

import (
	"context"
	"fmt"

	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
)

// GetActivePlan returns the tenant's active subscription joined with its
// plan, or nil when the tenant has no active subscription. Absence is a
// normal answer, not an error.
func (s *Service) GetActivePlan(ctx context.Context, orgID string) (*billingdomain.ActivePlan, error) {
	if orgID == "" {
		return nil, billingdomain.ErrInvalidOrg
	}

	subscription, err := s.subscriptionRepo.FindActiveByOrgID(ctx, s.db, orgID)
	if err != nil {
		return nil, fmt.Errorf("look up active subscription for org %s: %w", orgID, err)
	}
	if subscription == nil {
		return nil, nil
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, subscription.PlanID)
	if err != nil {
		return nil, fmt.Errorf("look up plan %s: %w", subscription.PlanID, err)
	}
	if plan == nil {
		// Active subscription referencing a deleted plan is a data
		// integrity fault, not an empty read.
		return nil, fmt.Errorf("active subscription %s references missing plan %s",
			subscription.ID.String(), subscription.PlanID)
	}

	return &billingdomain.ActivePlan{Plan: *plan, Subscription: *subscription}, nil
}

// GetSubscriptions lists the tenant's full subscription history, newest
// first.
func (s *Service) GetSubscriptions(ctx context.Context, orgID string) ([]subscriptiondomain.Subscription, error) {
	if orgID == "" {
		return nil, billingdomain.ErrInvalidOrg
	}
	subscriptions, err := s.subscriptionRepo.ListByOrgID(ctx, s.db, orgID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for org %s: %w", orgID, err)
	}
	return subscriptions, nil
}
