// Package migration applies the schema. Postgres deployments run the
// embedded SQL migrations; other dialects fall back to model-driven
// migration for local development and tests.
package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	subscriptiondomain "github.com/pressplane/pressplane/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func Run(db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	if db.Dialector.Name() != "postgres" {
		log.Info("non-postgres dialect, using model-driven migration",
			zap.String("dialect", db.Dialector.Name()),
		)
		return db.AutoMigrate(
			&plandomain.Plan{},
			&subscriptiondomain.Subscription{},
			&auditdomain.Event{},
		)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
