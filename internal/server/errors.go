package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a domain error onto an HTTP status and a stable machine
// code. Unknown errors collapse to 500 without leaking internals.
func classify(err error) (int, string, string) {
	var replayed *billingdomain.ReplayedError
	var gatewayErr *paymentdomain.Error

	switch {
	case errors.Is(err, billingdomain.ErrInvalidOrg),
		errors.Is(err, billingdomain.ErrInvalidPlan),
		errors.Is(err, billingdomain.ErrInvalidSubscription),
		errors.Is(err, billingdomain.ErrInvalidDays),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, auditdomain.ErrInvalidPageToken):
		return http.StatusBadRequest, "validation_error", err.Error()

	case errors.Is(err, plandomain.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found", "plan does not exist"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found", "subscription does not exist"

	case errors.Is(err, billingdomain.ErrAlreadySubscribed):
		return http.StatusConflict, "already_subscribed", "organization already has an active subscription"
	case errors.Is(err, billingdomain.ErrSubscriptionConflict):
		return http.StatusConflict, "subscription_conflict", "a concurrent request created an active subscription"
	case errors.Is(err, subscriptiondomain.ErrNoActiveSubscription):
		return http.StatusConflict, "no_active_subscription", "organization has no active subscription"

	case errors.Is(err, billingdomain.ErrOperationInProgress):
		return http.StatusConflict, "operation_in_progress", "an identical operation is still running"
	case errors.Is(err, billingdomain.ErrConcurrentOperation):
		return http.StatusConflict, "concurrent_operation", "a concurrent operation interfered, retry shortly"
	case errors.Is(err, billingdomain.ErrOperationTimedOut):
		return http.StatusConflict, "operation_timed_out", "a previous identical operation timed out, retry explicitly"

	case errors.As(err, &replayed):
		return http.StatusUnprocessableEntity, "previous_attempt_failed", replayed.Message
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway, "payment_gateway_error", "payment gateway call failed: " + gatewayErr.Call

	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// ClassifyForLog exposes the status code and machine code for the request
// logger without the client-facing message.
func ClassifyForLog(err error) (string, string) {
	status, code, _ := classify(err)
	return http.StatusText(status), code
}

func respondError(c *gin.Context, err error) {
	status, code, message := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}
