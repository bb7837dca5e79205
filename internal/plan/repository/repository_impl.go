package repository

import (
	"context"

	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	pkgdb "github.com/pressplane/pressplane/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

// FindByID looks up a plan by its catalog slug. The slug is opaque and
// matched byte-for-byte.
func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*plandomain.Plan, error) {
	if id == "" {
		return nil, nil
	}

	var plan plandomain.Plan
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM plans WHERE id = ? LIMIT 1`, id).
		First(&plan).Error
	if err != nil {
		if pkgdb.IsNotFoundErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	if err := db.WithContext(ctx).
		Raw(`SELECT * FROM plans ORDER BY price_cents ASC`).
		Scan(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
