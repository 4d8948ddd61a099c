package entitlement

import (
	"github.com/smallbiznis/agentmarket/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.gate",
	fx.Provide(service.NewGate),
)
