// Package domain contains the subscription aggregate owned by the billing
// engine. Rows are mutated in place; an audit event accompanies every
// mutation in the same transaction.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
	StatusUnpaid    Status = "unpaid"
	StatusTrialing  Status = "trialing"
	StatusPaused    Status = "paused"
)

// ParseStatus validates a raw status value against the fixed enum.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.TrimSpace(value))
	switch status {
	case StatusActive, StatusCancelled, StatusPastDue, StatusUnpaid, StatusTrialing, StatusPaused:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Subscription captures a tenant's billing agreement. At most one active
// row may exist per org at any time; the engine enforces this with an
// application pre-check plus a database re-check under a per-tenant
// advisory lock.
type Subscription struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	OrgID                string       `gorm:"type:text;not null;index"`
	PlanID               string       `gorm:"type:text;not null"`
	Status               Status       `gorm:"type:text;not null;index"`
	StripeCustomerID     *string      `gorm:"type:text"`
	StripeSubscriptionID *string      `gorm:"type:text"`
	GraceUntil           *time.Time   `gorm:""`
	CancelledAt          *time.Time   `gorm:""`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

var (
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
)
