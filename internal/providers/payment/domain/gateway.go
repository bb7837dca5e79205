// Package domain defines the payment gateway port. The engine consumes this
// capability only; the wire protocol behind it is an integration concern.
package domain

import (
	"context"
	"fmt"
)

// Gateway abstracts the external payment processor. None of these calls are
// transactional or retried here; any error is treated as total failure of
// that call.
type Gateway interface {
	CreateCustomer(ctx context.Context, orgID string) (CustomerResult, error)
	CreateSubscription(ctx context.Context, customerID, planID string) (SubscriptionResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (bool, error)
	DeleteCustomer(ctx context.Context, customerID string) (bool, error)
}

type CustomerResult struct {
	CustomerID string
}

type SubscriptionResult struct {
	SubscriptionID string
}

// Error wraps a gateway call failure so callers can distinguish external
// payment failures from local ones.
type Error struct {
	Call string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Call, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func WrapError(call string, err error) *Error {
	return &Error{Call: call, Err: err}
}
