// Package domain defines the billing engine's caller-facing contract: the
// plan assignment protocol, lifecycle transitions, and the read path.
package domain

import (
	"context"
	"errors"
	"time"

	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
)

// AssignPlanResult reports the subscription created (or replayed) for the
// tenant. Replayed is true when the result came from the idempotency cache
// without re-executing the operation.
type AssignPlanResult struct {
	SubscriptionID string `json:"subscription_id"`
	Replayed       bool   `json:"replayed"`
}

// ActivePlan pairs the tenant's active subscription with its plan.
type ActivePlan struct {
	Plan         plandomain.Plan                 `json:"plan"`
	Subscription subscriptiondomain.Subscription `json:"subscription"`
}

// Service is the billing state-transition engine. Every operation either
// fully succeeds or fails with a typed error; none return partial success.
type Service interface {
	AssignPlan(ctx context.Context, orgID, planID string) (AssignPlanResult, error)
	CancelSubscription(ctx context.Context, orgID string) error
	EnterGrace(ctx context.Context, orgID string, days int) (time.Time, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string) error
	GetActivePlan(ctx context.Context, orgID string) (*ActivePlan, error)
	GetSubscriptions(ctx context.Context, orgID string) ([]subscriptiondomain.Subscription, error)
}

var (
	// Input validation. No side effects have happened when these surface.
	ErrInvalidOrg          = errors.New("invalid_organization")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidDays         = errors.New("invalid_grace_days")

	// Precondition violations discovered before any gateway call.
	ErrAlreadySubscribed = errors.New("already_subscribed")

	// Idempotency-layer contention. The caller's correct response differs
	// per kind: retry shortly, wait, or issue a fresh explicit retry.
	ErrConcurrentOperation = errors.New("concurrent_operation")
	ErrOperationInProgress = errors.New("operation_in_progress")
	ErrOperationTimedOut   = errors.New("operation_timed_out")

	// Conflict detected under the tenant lock after the gateway call.
	ErrSubscriptionConflict = errors.New("subscription_conflict")
)

// ReplayedError carries the stored failure message of a previous identical
// attempt, so retries observe a deterministic answer without re-executing
// side effects.
type ReplayedError struct {
	Message string
}

func (e *ReplayedError) Error() string {
	if e.Message == "" {
		return "previous attempt failed"
	}
	return e.Message
}
