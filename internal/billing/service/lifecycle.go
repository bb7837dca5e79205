package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	pkgdb "github.com/pressplane/pressplane/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CancelSubscription deactivates the tenant's active subscription. The
// database commit is the point of no return: the gateway cancellation runs
// after commit so a gateway outage can never resurrect a cancelled
// subscription locally.
func (s *Service) CancelSubscription(ctx context.Context, orgID string) error {
	if orgID == "" {
		return billingdomain.ErrInvalidOrg
	}

	var cancelled *subscriptiondomain.Subscription
	err := s.lifecycleTx(ctx, orgID, func(tx *gorm.DB) error {
		active, err := s.subscriptionRepo.FindActiveByOrgID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if active == nil {
			return subscriptiondomain.ErrNoActiveSubscription
		}

		rows, err := s.subscriptionRepo.MarkCancelled(ctx, tx, active.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 0 {
			// Lost the race to another canceller inside the lock window.
			return subscriptiondomain.ErrNoActiveSubscription
		}

		cancelled = active
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			OrgID:      orgID,
			ActorType:  "system",
			Action:     "subscription_cancelled",
			EntityType: "subscription",
			EntityID:   active.ID.String(),
			Metadata:   map[string]any{"plan_id": active.PlanID},
		})
	})
	if err != nil {
		return err
	}

	if cancelled.StripeSubscriptionID != nil && *cancelled.StripeSubscriptionID != "" {
		if _, err := s.gateway.CancelSubscription(ctx, *cancelled.StripeSubscriptionID); err != nil {
			// Already committed locally. Surface for reconciliation, never
			// fail the call.
			s.metrics.RecordGatewayError(ctx, "cancel_subscription")
			s.log.Error("gateway cancellation failed after local cancel, manual reconciliation required",
				zap.String("org_id", orgID),
				zap.String("subscription_id", cancelled.ID.String()),
				zap.String("gateway_subscription_id", *cancelled.StripeSubscriptionID),
				zap.Error(paymentdomain.WrapError("cancel_subscription", err)),
			)
		}
	}

	s.log.Info("subscription cancelled",
		zap.String("org_id", orgID),
		zap.String("subscription_id", cancelled.ID.String()),
	)
	return nil
}

// EnterGrace stamps a grace deadline onto the tenant's active subscription
// and returns it. Days must be positive; the deadline is now plus that many
// whole days.
func (s *Service) EnterGrace(ctx context.Context, orgID string, days int) (time.Time, error) {
	if orgID == "" {
		return time.Time{}, billingdomain.ErrInvalidOrg
	}
	if days <= 0 {
		return time.Time{}, billingdomain.ErrInvalidDays
	}

	now := s.clock.Now()
	graceUntil := now.Add(time.Duration(days) * 24 * time.Hour)

	err := s.lifecycleTx(ctx, orgID, func(tx *gorm.DB) error {
		rows, err := s.subscriptionRepo.SetGraceUntil(ctx, tx, orgID, graceUntil, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return subscriptiondomain.ErrNoActiveSubscription
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			OrgID:      orgID,
			ActorType:  "system",
			Action:     "subscription_grace_entered",
			EntityType: "subscription",
			Metadata: map[string]any{
				"grace_days":  days,
				"grace_until": graceUntil.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		return time.Time{}, err
	}

	s.log.Info("subscription entered grace",
		zap.String("org_id", orgID),
		zap.Time("grace_until", graceUntil),
	)
	return graceUntil, nil
}

// UpdateSubscriptionStatus applies an externally driven status transition,
// typically from a gateway webhook. The status string is validated before
// any database access.
func (s *Service) UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string) error {
	if subscriptionID == "" {
		return billingdomain.ErrInvalidSubscription
	}
	parsed, err := subscriptiondomain.ParseStatus(status)
	if err != nil {
		return err
	}
	id, err := snowflake.ParseString(subscriptionID)
	if err != nil {
		return billingdomain.ErrInvalidSubscription
	}

	var updated *subscriptiondomain.Subscription
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLocalStatementTimeout(ctx, tx, s.holder.Get().LifecycleStatementTimeout); err != nil {
			return err
		}

		existing, err := s.subscriptionRepo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if err := pkgdb.AcquireTenantLock(ctx, tx, existing.OrgID); err != nil {
			return err
		}
		rows, err := s.subscriptionRepo.UpdateStatus(ctx, tx, id, parsed, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		updated = existing
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			OrgID:      existing.OrgID,
			ActorType:  "system",
			Action:     "subscription_status_updated",
			EntityType: "subscription",
			EntityID:   subscriptionID,
			Metadata: map[string]any{
				"old_status": string(existing.Status),
				"new_status": string(parsed),
			},
		})
	})
	if txErr != nil {
		return txErr
	}

	s.log.Info("subscription status updated",
		zap.String("org_id", updated.OrgID),
		zap.String("subscription_id", subscriptionID),
		zap.String("old_status", string(updated.Status)),
		zap.String("new_status", string(parsed)),
	)
	return nil
}

// lifecycleTx wraps fn in a transaction guarded by the lifecycle statement
// timeout and the per-tenant advisory lock.
func (s *Service) lifecycleTx(ctx context.Context, orgID string, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLocalStatementTimeout(ctx, tx, s.holder.Get().LifecycleStatementTimeout); err != nil {
			return err
		}
		if err := pkgdb.AcquireTenantLock(ctx, tx, orgID); err != nil {
			return fmt.Errorf("acquire tenant lock for org %s: %w", orgID, err)
		}
		return fn(tx)
	})
}
