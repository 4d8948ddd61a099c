package payment

import (
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/payment/adapters"
	"github.com/smallbiznis/agentmarket/internal/payment/adapters/stripe"
	"github.com/smallbiznis/agentmarket/internal/payment/repository"
	paymentservice "github.com/smallbiznis/agentmarket/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(stripe.NewAdapterFromConfig(cfg))
	}),
	fx.Provide(stripe.NewClient),
	fx.Provide(paymentservice.NewService),
)
