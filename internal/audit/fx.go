package audit

import (
	"github.com/pressplane/pressplane/internal/audit/repository"
	"github.com/pressplane/pressplane/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
