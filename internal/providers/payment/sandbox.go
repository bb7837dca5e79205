package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	"go.uber.org/zap"
)

// SandboxGateway is an in-process gateway for local development and
// self-hosted deployments without a payment processor. Objects live only in
// memory; cancels and deletes are idempotent like the real processor's.
type SandboxGateway struct {
	mu            sync.Mutex
	log           *zap.Logger
	customers     map[string]string
	subscriptions map[string]string
}

func NewSandboxGateway(log *zap.Logger) *SandboxGateway {
	return &SandboxGateway{
		log:           log.Named("payment.sandbox"),
		customers:     make(map[string]string),
		subscriptions: make(map[string]string),
	}
}

func (g *SandboxGateway) CreateCustomer(ctx context.Context, orgID string) (paymentdomain.CustomerResult, error) {
	_ = ctx
	customerID := "cus_sandbox_" + uuid.NewString()

	g.mu.Lock()
	g.customers[customerID] = strings.TrimSpace(orgID)
	g.mu.Unlock()

	g.log.Debug("sandbox customer created", zap.String("customer_id", customerID))
	return paymentdomain.CustomerResult{CustomerID: customerID}, nil
}

func (g *SandboxGateway) CreateSubscription(ctx context.Context, customerID, planID string) (paymentdomain.SubscriptionResult, error) {
	_ = ctx
	subscriptionID := "sub_sandbox_" + uuid.NewString()

	g.mu.Lock()
	g.subscriptions[subscriptionID] = strings.TrimSpace(customerID) + ":" + strings.TrimSpace(planID)
	g.mu.Unlock()

	g.log.Debug("sandbox subscription created", zap.String("subscription_id", subscriptionID))
	return paymentdomain.SubscriptionResult{SubscriptionID: subscriptionID}, nil
}

func (g *SandboxGateway) CancelSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	_ = ctx
	g.mu.Lock()
	_, found := g.subscriptions[subscriptionID]
	delete(g.subscriptions, subscriptionID)
	g.mu.Unlock()
	return found, nil
}

func (g *SandboxGateway) DeleteCustomer(ctx context.Context, customerID string) (bool, error) {
	_ = ctx
	g.mu.Lock()
	_, found := g.customers[customerID]
	delete(g.customers, customerID)
	g.mu.Unlock()
	return found, nil
}

var _ paymentdomain.Gateway = (*SandboxGateway)(nil)
