package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pressplane/pressplane/internal/audit"
	"github.com/pressplane/pressplane/internal/billing"
	"github.com/pressplane/pressplane/internal/clock"
	"github.com/pressplane/pressplane/internal/config"
	"github.com/pressplane/pressplane/internal/idempotency"
	"github.com/pressplane/pressplane/internal/migration"
	"github.com/pressplane/pressplane/internal/observability"
	"github.com/pressplane/pressplane/internal/plan"
	"github.com/pressplane/pressplane/internal/providers/payment"
	"github.com/pressplane/pressplane/internal/seed"
	"github.com/pressplane/pressplane/internal/server"
	"github.com/pressplane/pressplane/internal/subscription"
	"github.com/pressplane/pressplane/pkg/db"
	"go.uber.org/fx"
)

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(int64(cfg.NodeID))
}

func main() {
	fx.New(
		config.Module,
		observability.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		seed.Module,
		idempotency.Module,
		payment.Module,
		plan.Module,
		subscription.Module,
		audit.Module,
		billing.Module,
		server.Module,
	).Run()
}
