// Package seed installs the default plan catalog. Seeding is additive and
// idempotent: existing plans are never overwritten.
package seed

import (
	"time"

	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

func intPtr(v int) *int { return &v }

func defaultPlans(now time.Time) []plandomain.Plan {
	return []plandomain.Plan{
		{
			ID:         "plan-free",
			Name:       "Free",
			PriceCents: 0,
			Interval:   plandomain.IntervalMonth,
			Features:   datatypes.JSON(`["1 site"]`),
			MaxDomains: intPtr(1),
			MaxContent: intPtr(50),
			CreatedAt:  now,
		},
		{
			ID:         "plan-pro",
			Name:       "Pro",
			PriceCents: 999,
			Interval:   plandomain.IntervalMonth,
			Features:   datatypes.JSON(`["custom domains","priority support"]`),
			MaxDomains: intPtr(5),
			MaxContent: intPtr(1000),
			CreatedAt:  now,
		},
		{
			ID:         "plan-business",
			Name:       "Business",
			PriceCents: 2999,
			Interval:   plandomain.IntervalMonth,
			Features:   datatypes.JSON(`["custom domains","priority support","sso"]`),
			CreatedAt:  now,
		},
	}
}

func Run(db *gorm.DB, log *zap.Logger) error {
	plans := defaultPlans(time.Now().UTC())
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&plans)
	if result.Error != nil {
		return result.Error
	}
	log.Named("seed").Info("plan catalog ensured",
		zap.Int("plans", len(plans)),
		zap.Int64("inserted", result.RowsAffected),
	)
	return nil
}
