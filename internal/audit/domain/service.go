// Package domain defines the append-only audit event record. Audit rows are
// the compliance-grade history of billing mutations and are written in the
// same transaction as the mutation they describe.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pressplane/pressplane/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is a single audit fact.
type Event struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      string            `gorm:"type:text;not null;index"`
	ActorType  string            `gorm:"type:text;not null"`
	Action     string            `gorm:"type:text;not null"`
	EntityType string            `gorm:"type:text;not null"`
	EntityID   string            `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

func (Event) TableName() string { return "audit_events" }

// Entry is the caller-facing shape for recording an event.
type Entry struct {
	OrgID      string
	ActorType  string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	OrgID  string
	Action string
}

type ListResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

// Service records audit events. Record must be given the transaction that
// carries the mutation being described so both commit or roll back together.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type ListFilter struct {
	OrgID  string
	Action string
	Cursor *Cursor
	Limit  int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Event, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidOrg       = errors.New("invalid_organization")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
