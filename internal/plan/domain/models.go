// Package domain contains the plan catalog model. Plans are created out of
// band and are read-only to the billing engine.
package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// BillingInterval is the recurring charge cadence for a plan.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Plan is an immutable catalog entity keyed by a human-readable slug.
type Plan struct {
	ID         string          `gorm:"primaryKey;type:text"`
	Name       string          `gorm:"type:text;not null"`
	PriceCents int64           `gorm:"not null"`
	Interval   BillingInterval `gorm:"column:interval;type:text;not null"`
	Features   datatypes.JSON  `gorm:"type:jsonb"`
	MaxDomains *int            `gorm:""`
	MaxContent *int            `gorm:""`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

var (
	ErrPlanNotFound = errors.New("plan_not_found")
)
