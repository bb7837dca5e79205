package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*Subscription, error)
	ListByOrgID(ctx context.Context, db *gorm.DB, orgID string) ([]Subscription, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) (int64, error)
	SetGraceUntil(ctx context.Context, db *gorm.DB, orgID string, graceUntil, updatedAt time.Time) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, updatedAt time.Time) (int64, error)
}
