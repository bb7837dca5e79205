package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	"github.com/pressplane/pressplane/internal/clock"
	"github.com/pressplane/pressplane/internal/config"
	"github.com/pressplane/pressplane/internal/idempotency"
	obsmetrics "github.com/pressplane/pressplane/internal/observability/metrics"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	pkgdb "github.com/pressplane/pressplane/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	holder *config.BillingConfigHolder

	subscriptionRepo subscriptiondomain.Repository
	planRepo         plandomain.Repository
	auditSvc         auditdomain.Service
	idem             *idempotency.Store
	gateway          paymentdomain.Gateway
	compensator      *compensator
	metrics          *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Holder *config.BillingConfigHolder

	SubscriptionRepo subscriptiondomain.Repository
	PlanRepo         plandomain.Repository
	AuditSvc         auditdomain.Service
	Idem             *idempotency.Store
	Gateway          paymentdomain.Gateway
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("billing.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		holder:           p.Holder,
		subscriptionRepo: p.SubscriptionRepo,
		planRepo:         p.PlanRepo,
		auditSvc:         p.AuditSvc,
		idem:             p.Idem,
		gateway:          p.Gateway,
		compensator:      newCompensator(p.Gateway, p.Log, p.Metrics),
		metrics:          p.Metrics,
	}
}

// claimState is the outcome of the idempotency phase. Exactly one of the
// fields is meaningful: granted means proceed, degraded means the cache is
// unavailable and the advisory lock is the only guard, replay carries a
// previous terminal result, and failure carries a contention error.
type claimState struct {
	granted  bool
	degraded bool
	replay   *billingdomain.AssignPlanResult
	failure  error
}

// AssignPlan runs the multi-phase assignment protocol: validate, claim
// idempotency, pre-check, call the gateway, then persist under the
// per-tenant advisory lock with a recheck. Control returns only after full
// success or fully compensated failure.
func (s *Service) AssignPlan(ctx context.Context, orgID, planID string) (billingdomain.AssignPlanResult, error) {
	// Identifiers are opaque: reject empty, never normalize.
	if orgID == "" {
		return billingdomain.AssignPlanResult{}, billingdomain.ErrInvalidOrg
	}
	if planID == "" {
		return billingdomain.AssignPlanResult{}, billingdomain.ErrInvalidPlan
	}

	key := idempotency.Key("assignPlan:"+planID, orgID)
	claim := s.claimIdempotency(ctx, key)
	switch {
	case claim.replay != nil:
		s.metrics.RecordIdempotentReplay(ctx, "assignPlan")
		return *claim.replay, nil
	case claim.failure != nil:
		return billingdomain.AssignPlanResult{}, claim.failure
	}

	if err := s.checkPreconditions(ctx, orgID, planID); err != nil {
		s.markFailed(ctx, key, claim, err)
		s.metrics.RecordPlanAssignment(ctx, "precondition_failed")
		return billingdomain.AssignPlanResult{}, err
	}

	// External I/O happens outside any transaction so a slow gateway never
	// holds a database connection or lock.
	customerID, gatewaySubID, err := s.provisionGateway(ctx, orgID, planID)
	if err != nil {
		s.compensator.compensate(ctx, customerID, gatewaySubID)
		s.markFailed(ctx, key, claim, err)
		s.metrics.RecordPlanAssignment(ctx, "gateway_failed")
		return billingdomain.AssignPlanResult{}, err
	}

	subscription, err := s.persistSubscription(ctx, orgID, planID, customerID, gatewaySubID)
	if err != nil {
		// The locked transaction has already rolled back without
		// compensating; this is the single compensation pass.
		s.compensator.compensate(ctx, customerID, gatewaySubID)
		s.markFailed(ctx, key, claim, err)
		s.metrics.RecordPlanAssignment(ctx, "persist_failed")
		return billingdomain.AssignPlanResult{}, err
	}

	result := billingdomain.AssignPlanResult{SubscriptionID: subscription.ID.String()}
	if !claim.degraded {
		if err := s.idem.SetStatus(ctx, key, idempotency.StatusCompleted,
			map[string]any{"subscription_id": result.SubscriptionID}, ""); err != nil {
			s.log.Warn("failed to mark idempotency completed", zap.String("key", key), zap.Error(err))
		}
	}
	s.metrics.RecordPlanAssignment(ctx, "success")
	s.log.Info("plan assigned",
		zap.String("org_id", orgID),
		zap.String("plan_id", planID),
		zap.String("subscription_id", result.SubscriptionID),
	)
	return result, nil
}

func (s *Service) claimIdempotency(ctx context.Context, key string) claimState {
	outcome, err := s.idem.TryClaim(ctx, key)
	if errors.Is(err, idempotency.ErrEntryCorrupted) {
		// Fail safe: an unattributable claim must not be overridden by a
		// fresh concurrent execution.
		return claimState{failure: billingdomain.ErrConcurrentOperation}
	}
	if err != nil {
		// Cache outage: idempotency degrades to best effort, the advisory
		// lock remains the correctness guard.
		s.log.Warn("idempotency cache unavailable, proceeding without claim", zap.Error(err))
		return claimState{granted: true, degraded: true}
	}
	if outcome.Claimed {
		return claimState{granted: true}
	}

	entry := outcome.Entry
	if entry == nil {
		// TTL race between the failed conditional set and the follow-up
		// read; the client should retry immediately.
		return claimState{failure: billingdomain.ErrConcurrentOperation}
	}

	switch entry.Status {
	case idempotency.StatusProcessing:
		if s.clock.Now().Sub(entry.StartedAt) > s.idem.ProcessingTimeout() {
			// A crashed holder is never silently resumed; the client must
			// issue a fresh explicit retry.
			return claimState{failure: billingdomain.ErrOperationTimedOut}
		}
		return claimState{failure: billingdomain.ErrOperationInProgress}
	case idempotency.StatusCompleted:
		result := billingdomain.AssignPlanResult{Replayed: true}
		if id, ok := entry.Result["subscription_id"].(string); ok {
			result.SubscriptionID = id
		}
		return claimState{replay: &result}
	case idempotency.StatusFailed:
		return claimState{failure: &billingdomain.ReplayedError{Message: entry.Error}}
	default:
		return claimState{failure: billingdomain.ErrConcurrentOperation}
	}
}

// checkPreconditions runs the optimistic pre-check before the gateway call.
// It cannot close the race window on its own; the locked recheck in
// persistSubscription does that.
func (s *Service) checkPreconditions(ctx context.Context, orgID, planID string) error {
	plan, err := s.planRepo.FindByID(ctx, s.db, planID)
	if err != nil {
		return fmt.Errorf("look up plan %s: %w", planID, err)
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}

	existing, err := s.subscriptionRepo.FindActiveByOrgID(ctx, s.db, orgID)
	if err != nil {
		return fmt.Errorf("look up active subscription for org %s: %w", orgID, err)
	}
	if existing != nil {
		return billingdomain.ErrAlreadySubscribed
	}
	return nil
}

func (s *Service) provisionGateway(ctx context.Context, orgID, planID string) (customerID, subscriptionID string, err error) {
	customer, err := s.gateway.CreateCustomer(ctx, orgID)
	if err != nil {
		s.metrics.RecordGatewayError(ctx, "create_customer")
		return "", "", paymentdomain.WrapError("create_customer", err)
	}

	subscription, err := s.gateway.CreateSubscription(ctx, customer.CustomerID, planID)
	if err != nil {
		s.metrics.RecordGatewayError(ctx, "create_subscription")
		return customer.CustomerID, "", paymentdomain.WrapError("create_subscription", err)
	}

	return customer.CustomerID, subscription.SubscriptionID, nil
}

func (s *Service) persistSubscription(ctx context.Context, orgID, planID, customerID, gatewaySubID string) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:                   s.genID.Generate(),
		OrgID:                orgID,
		PlanID:               planID,
		Status:               subscriptiondomain.StatusActive,
		StripeCustomerID:     &customerID,
		StripeSubscriptionID: &gatewaySubID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.SetLocalStatementTimeout(ctx, tx, s.holder.Get().AssignStatementTimeout); err != nil {
			return err
		}
		if err := pkgdb.AcquireTenantLock(ctx, tx, orgID); err != nil {
			return err
		}

		// Recheck under the lock: a concurrent request may have won the
		// race since the optimistic pre-check.
		existing, err := s.subscriptionRepo.FindActiveByOrgID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if existing != nil {
			return billingdomain.ErrSubscriptionConflict
		}

		if err := s.subscriptionRepo.Insert(ctx, tx, subscription); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			OrgID:      orgID,
			ActorType:  "system",
			Action:     "subscription_created",
			EntityType: "subscription",
			EntityID:   subscription.ID.String(),
			Metadata: map[string]any{
				"plan_id":                 planID,
				"gateway_customer_id":     customerID,
				"gateway_subscription_id": gatewaySubID,
			},
		})
	})
	if err != nil {
		if errors.Is(err, billingdomain.ErrSubscriptionConflict) {
			return nil, err
		}
		if pkgdb.IsDuplicateKeyErr(err) {
			// The partial unique index on active subscriptions caught an
			// insert the locked recheck missed.
			return nil, billingdomain.ErrSubscriptionConflict
		}
		return nil, fmt.Errorf("persist subscription for org %s: %w", orgID, err)
	}
	return subscription, nil
}

func (s *Service) markFailed(ctx context.Context, key string, claim claimState, cause error) {
	if claim.degraded {
		return
	}
	if err := s.idem.SetStatus(ctx, key, idempotency.StatusFailed, nil, cause.Error()); err != nil {
		s.log.Warn("failed to mark idempotency failed", zap.String("key", key), zap.Error(err))
	}
}
