package service

import (
	"context"

	obsmetrics "github.com/pressplane/pressplane/internal/observability/metrics"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	"go.uber.org/zap"
)

// compensator reverses gateway side effects created earlier in a failed
// attempt. Reversal is best effort: failures are logged and counted but
// never propagate, so the original error is what the caller sees.
type compensator struct {
	gateway paymentdomain.Gateway
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func newCompensator(gateway paymentdomain.Gateway, log *zap.Logger, metrics *obsmetrics.Metrics) *compensator {
	return &compensator{
		gateway: gateway,
		log:     log.Named("billing.compensator"),
		metrics: metrics,
	}
}

// compensate cancels the gateway subscription and deletes the gateway
// customer, skipping whichever IDs were never obtained. Safe to call with
// empty IDs and safe to call for objects the gateway already removed.
func (c *compensator) compensate(ctx context.Context, customerID, subscriptionID string) {
	if customerID == "" && subscriptionID == "" {
		return
	}
	c.metrics.RecordCompensationRun(ctx)

	if subscriptionID != "" {
		if _, err := c.gateway.CancelSubscription(ctx, subscriptionID); err != nil {
			c.metrics.RecordCompensationFailure(ctx, "cancel_subscription")
			c.log.Error("failed to cancel gateway subscription during compensation",
				zap.String("gateway_subscription_id", subscriptionID),
				zap.Error(err),
			)
		}
	}

	if customerID != "" {
		if _, err := c.gateway.DeleteCustomer(ctx, customerID); err != nil {
			c.metrics.RecordCompensationFailure(ctx, "delete_customer")
			c.log.Error("failed to delete gateway customer during compensation",
				zap.String("gateway_customer_id", customerID),
				zap.Error(err),
			)
		}
	}
}
