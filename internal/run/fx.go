package run

import (
	"github.com/smallbiznis/agentmarket/internal/run/repository"
	"github.com/smallbiznis/agentmarket/internal/run/service"
	"go.uber.org/fx"
)

var Module = fx.Module("run.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewTemplateGenerator),
	fx.Provide(service.NewService),
)
