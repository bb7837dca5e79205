package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	auditrepository "github.com/pressplane/pressplane/internal/audit/repository"
	auditservice "github.com/pressplane/pressplane/internal/audit/service"
	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	"github.com/pressplane/pressplane/internal/clock"
	"github.com/pressplane/pressplane/internal/config"
	"github.com/pressplane/pressplane/internal/idempotency"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	planrepository "github.com/pressplane/pressplane/internal/plan/repository"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	subscriptionrepository "github.com/pressplane/pressplane/internal/subscription/repository"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// mockGateway records every call and returns configurable failures. All
// successful calls hand back deterministic identifiers so assertions can
// follow them through the database.
type mockGateway struct {
	mu sync.Mutex

	createCustomerErr     error
	createSubscriptionErr error
	cancelErr             error
	deleteErr             error

	customersCreated     int
	subscriptionsCreated int
	cancelled            []string
	deleted              []string
}

func (g *mockGateway) CreateCustomer(_ context.Context, orgID string) (paymentdomain.CustomerResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createCustomerErr != nil {
		return paymentdomain.CustomerResult{}, g.createCustomerErr
	}
	g.customersCreated++
	return paymentdomain.CustomerResult{CustomerID: fmt.Sprintf("cus_%s_%d", orgID, g.customersCreated)}, nil
}

func (g *mockGateway) CreateSubscription(_ context.Context, customerID, planID string) (paymentdomain.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createSubscriptionErr != nil {
		return paymentdomain.SubscriptionResult{}, g.createSubscriptionErr
	}
	g.subscriptionsCreated++
	return paymentdomain.SubscriptionResult{SubscriptionID: fmt.Sprintf("sub_%s_%d", planID, g.subscriptionsCreated)}, nil
}

func (g *mockGateway) CancelSubscription(_ context.Context, subscriptionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return false, g.cancelErr
	}
	g.cancelled = append(g.cancelled, subscriptionID)
	return true, nil
}

func (g *mockGateway) DeleteCustomer(_ context.Context, customerID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return false, g.deleteErr
	}
	g.deleted = append(g.deleted, customerID)
	return true, nil
}

type harness struct {
	svc     billingdomain.Service
	db      *gorm.DB
	gateway *mockGateway
	redis   *miniredis.Miniredis
	store   *idempotency.Store
	clock   *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, mutate func(*Params)) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Each connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&auditdomain.Event{},
	))

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	store := idempotency.NewStore(client, holder, clk, zap.NewNop())

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	gateway := &mockGateway{}
	params := Params{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Holder:           holder,
		SubscriptionRepo: subscriptionrepository.Provide(),
		PlanRepo:         planrepository.Provide(),
		AuditSvc:         auditSvc,
		Idem:             store,
		Gateway:          gateway,
	}
	if mutate != nil {
		mutate(&params)
	}
	svc := NewService(params)

	return &harness{
		svc:     svc,
		db:      db,
		gateway: gateway,
		redis:   srv,
		store:   store,
		clock:   clk,
	}
}

func (h *harness) seedPlan(t *testing.T, id string, priceCents int64) {
	t.Helper()
	require.NoError(t, h.db.Create(&plandomain.Plan{
		ID:         id,
		Name:       id,
		PriceCents: priceCents,
		Interval:   plandomain.IntervalMonth,
		CreatedAt:  h.clock.Now(),
	}).Error)
}

func (h *harness) subscriptions(t *testing.T, orgID string) []subscriptiondomain.Subscription {
	t.Helper()
	var rows []subscriptiondomain.Subscription
	require.NoError(t, h.db.Where("org_id = ?", orgID).Order("created_at desc, id desc").Find(&rows).Error)
	return rows
}

func (h *harness) auditActions(t *testing.T, orgID string) []string {
	t.Helper()
	var rows []auditdomain.Event
	require.NoError(t, h.db.Where("org_id = ?", orgID).Order("id asc").Find(&rows).Error)
	actions := make([]string, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, row.Action)
	}
	return actions
}

func (h *harness) idempotencyRecord(t *testing.T, key string) *idempotency.Record {
	t.Helper()
	raw, err := h.redis.Get(key)
	if err != nil {
		return nil
	}
	var record idempotency.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	return &record
}

var errNetwork = errors.New("connection reset by peer")
