package service

import (
	"context"
	"testing"
	"time"

	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	"github.com/pressplane/pressplane/internal/idempotency"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAssignPlanCreatesActiveSubscription(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	result, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, result.SubscriptionID)

	rows := h.subscriptions(t, "org-1")
	require.Len(t, rows, 1)
	assert.Equal(t, subscriptiondomain.StatusActive, rows[0].Status)
	assert.Equal(t, "plan-pro", rows[0].PlanID)
	assert.Equal(t, result.SubscriptionID, rows[0].ID.String())
	require.NotNil(t, rows[0].StripeCustomerID)
	require.NotNil(t, rows[0].StripeSubscriptionID)

	assert.Equal(t, []string{"subscription_created"}, h.auditActions(t, "org-1"))

	record := h.idempotencyRecord(t, idempotency.Key("assignPlan:plan-pro", "org-1"))
	require.NotNil(t, record)
	assert.Equal(t, idempotency.StatusCompleted, record.Status)
	assert.Equal(t, result.SubscriptionID, record.Result["subscription_id"])
}

func TestAssignPlanReplaysCompletedAttempt(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	first, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)

	second, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)

	// The replay never touched the gateway or the database again.
	assert.Equal(t, 1, h.gateway.customersCreated)
	assert.Equal(t, 1, h.gateway.subscriptionsCreated)
	assert.Len(t, h.subscriptions(t, "org-1"), 1)
}

func TestAssignPlanRejectsEmptyIdentifiers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "", "plan-pro")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidOrg)

	_, err = h.svc.AssignPlan(ctx, "org-1", "")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidPlan)

	// Validation failures never claim an idempotency key.
	assert.Empty(t, h.redis.Keys())
	assert.Equal(t, 0, h.gateway.customersCreated)
}

func TestAssignPlanUnknownPlanMarksFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-ghost")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
	assert.Equal(t, 0, h.gateway.customersCreated)

	record := h.idempotencyRecord(t, idempotency.Key("assignPlan:plan-ghost", "org-1"))
	require.NotNil(t, record)
	assert.Equal(t, idempotency.StatusFailed, record.Status)
}

func TestAssignPlanAlreadySubscribed(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	h.seedPlan(t, "plan-business", 2999)
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)

	_, err = h.svc.AssignPlan(ctx, "org-1", "plan-business")
	assert.ErrorIs(t, err, billingdomain.ErrAlreadySubscribed)
	assert.Len(t, h.subscriptions(t, "org-1"), 1)
	assert.Equal(t, 1, h.gateway.customersCreated)
}

func TestAssignPlanFailedAttemptReplaysError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-ghost")
	require.ErrorIs(t, err, plandomain.ErrPlanNotFound)

	_, err = h.svc.AssignPlan(ctx, "org-1", "plan-ghost")
	var replayed *billingdomain.ReplayedError
	require.ErrorAs(t, err, &replayed)
	assert.Equal(t, plandomain.ErrPlanNotFound.Error(), replayed.Message)
}

func TestAssignPlanCustomerCreationFailure(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	h.gateway.createCustomerErr = errNetwork
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	var gatewayErr *paymentdomain.Error
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, "create_customer", gatewayErr.Call)

	// Nothing was created, so nothing is compensated.
	assert.Empty(t, h.gateway.cancelled)
	assert.Empty(t, h.gateway.deleted)
	assert.Empty(t, h.subscriptions(t, "org-1"))
}

func TestAssignPlanSubscriptionCreationFailureCompensatesCustomer(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	h.gateway.createSubscriptionErr = errNetwork
	ctx := context.Background()

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	var gatewayErr *paymentdomain.Error
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, "create_subscription", gatewayErr.Call)

	// The orphaned gateway customer is cleaned up exactly once.
	assert.Empty(t, h.gateway.cancelled)
	assert.Equal(t, []string{"cus_org-1_1"}, h.gateway.deleted)
	assert.Empty(t, h.subscriptions(t, "org-1"))

	record := h.idempotencyRecord(t, idempotency.Key("assignPlan:plan-pro", "org-1"))
	require.NotNil(t, record)
	assert.Equal(t, idempotency.StatusFailed, record.Status)
}

func TestAssignPlanPersistFailureCompensatesBothObjects(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	// Break the transaction after the gateway phase: the audit insert fails,
	// rolling back the subscription row.
	require.NoError(t, h.db.Exec("DROP TABLE audit_events").Error)

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.Error(t, err)

	assert.Equal(t, []string{"sub_plan-pro_1"}, h.gateway.cancelled)
	assert.Equal(t, []string{"cus_org-1_1"}, h.gateway.deleted)
	assert.Empty(t, h.subscriptions(t, "org-1"))

	record := h.idempotencyRecord(t, idempotency.Key("assignPlan:plan-pro", "org-1"))
	require.NotNil(t, record)
	assert.Equal(t, idempotency.StatusFailed, record.Status)
}

func TestAssignPlanWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	// Another worker holds a fresh processing claim.
	outcome, err := h.store.TryClaim(ctx, idempotency.Key("assignPlan:plan-pro", "org-1"))
	require.NoError(t, err)
	require.True(t, outcome.Claimed)

	_, err = h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	assert.ErrorIs(t, err, billingdomain.ErrOperationInProgress)
	assert.Equal(t, 0, h.gateway.customersCreated)
}

func TestAssignPlanStaleProcessingClaimTimesOut(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	outcome, err := h.store.TryClaim(ctx, idempotency.Key("assignPlan:plan-pro", "org-1"))
	require.NoError(t, err)
	require.True(t, outcome.Claimed)

	// Past the processing deadline the holder is presumed dead; the claim is
	// still never silently taken over.
	h.clock.Advance(6 * time.Minute)

	_, err = h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	assert.ErrorIs(t, err, billingdomain.ErrOperationTimedOut)
	assert.Equal(t, 0, h.gateway.customersCreated)
}

func TestAssignPlanCorruptedClaimFailsSafe(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	require.NoError(t, h.redis.Set(idempotency.Key("assignPlan:plan-pro", "org-1"), "{corrupt"))

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	assert.ErrorIs(t, err, billingdomain.ErrConcurrentOperation)
	assert.Equal(t, 0, h.gateway.customersCreated)
	assert.Empty(t, h.subscriptions(t, "org-1"))
}

func TestAssignPlanCacheOutageDegradesToLockOnly(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	h.redis.Close()
	ctx := context.Background()

	result, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)
	assert.False(t, result.Replayed)

	rows := h.subscriptions(t, "org-1")
	require.Len(t, rows, 1)
	assert.Equal(t, subscriptiondomain.StatusActive, rows[0].Status)
}

// blindActiveRepo never reports an active subscription, simulating the
// window where a concurrent insert lands after both the pre-check and the
// locked recheck observed none.
type blindActiveRepo struct {
	subscriptiondomain.Repository
}

func (r blindActiveRepo) FindActiveByOrgID(context.Context, *gorm.DB, string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func TestAssignPlanDuplicateInsertMapsToConflict(t *testing.T) {
	h := newHarnessWith(t, func(p *Params) {
		p.SubscriptionRepo = blindActiveRepo{p.SubscriptionRepo}
	})
	h.seedPlan(t, "plan-pro", 999)
	h.seedPlan(t, "plan-business", 2999)
	ctx := context.Background()

	// The storage-level guard from the production schema.
	require.NoError(t, h.db.Exec(
		`CREATE UNIQUE INDEX uq_subscriptions_org_active ON subscriptions (org_id) WHERE status = 'active'`,
	).Error)

	_, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)

	_, err = h.svc.AssignPlan(ctx, "org-1", "plan-business")
	assert.ErrorIs(t, err, billingdomain.ErrSubscriptionConflict)

	// The losing attempt's gateway objects were compensated.
	assert.Equal(t, []string{"sub_plan-business_1"}, h.gateway.cancelled)
	assert.Equal(t, []string{"cus_org-1_2"}, h.gateway.deleted)

	rows := h.subscriptions(t, "org-1")
	require.Len(t, rows, 1)
	assert.Equal(t, "plan-pro", rows[0].PlanID)
}

func TestAssignPlanIdentifiersAreOpaque(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	// A padded plan id is a different plan, not a sloppy spelling of an
	// existing one.
	_, err := h.svc.AssignPlan(ctx, "org-1", " plan-pro ")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
	assert.Equal(t, 0, h.gateway.customersCreated)
}

func TestAssignPlanDistinctOrgsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.seedPlan(t, "plan-pro", 999)
	ctx := context.Background()

	first, err := h.svc.AssignPlan(ctx, "org-1", "plan-pro")
	require.NoError(t, err)
	second, err := h.svc.AssignPlan(ctx, "org-2", "plan-pro")
	require.NoError(t, err)

	assert.NotEqual(t, first.SubscriptionID, second.SubscriptionID)
	assert.Len(t, h.subscriptions(t, "org-1"), 1)
	assert.Len(t, h.subscriptions(t, "org-2"), 1)
}
