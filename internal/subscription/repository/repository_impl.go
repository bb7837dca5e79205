package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	pkgdb "github.com/pressplane/pressplane/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, org_id, plan_id, status, stripe_customer_id, stripe_subscription_id,
			grace_until, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.PlanID,
		subscription.Status,
		subscription.StripeCustomerID,
		subscription.StripeSubscriptionID,
		subscription.GraceUntil,
		subscription.CancelledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM subscriptions WHERE id = ? LIMIT 1`, id).
		First(&subscription).Error
	if err != nil {
		if pkgdb.IsNotFoundErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindActiveByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM subscriptions WHERE org_id = ? AND status = ? LIMIT 1`,
			orgID,
			subscriptiondomain.StatusActive,
		).
		First(&subscription).Error
	if err != nil {
		if pkgdb.IsNotFoundErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListByOrgID(ctx context.Context, db *gorm.DB, orgID string) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	if err := db.WithContext(ctx).
		Raw(`SELECT * FROM subscriptions WHERE org_id = ? ORDER BY created_at DESC, id DESC`, orgID).
		Scan(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusCancelled,
		cancelledAt,
		cancelledAt,
		id,
		subscriptiondomain.StatusActive,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) SetGraceUntil(ctx context.Context, db *gorm.DB, orgID string, graceUntil, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET grace_until = ?, updated_at = ?
		 WHERE org_id = ? AND status = ?`,
		graceUntil,
		updatedAt,
		orgID,
		subscriptiondomain.StatusActive,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.Status, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		updatedAt,
		id,
	)
	return result.RowsAffected, result.Error
}
