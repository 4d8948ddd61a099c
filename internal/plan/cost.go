package plan

import (
	"github.com/smallbiznis/agentmarket/internal/config"
)

// Cost is what one run charges against a usage period.
type Cost struct {
	Credits int64 `json:"credits"`
	Actions int64 `json:"actions"`
}

// DefaultRunCost applies when neither the agent nor the metering config says otherwise.
var DefaultRunCost = Cost{Credits: 5, Actions: 1}

// CostPolicy prices a run of an agent for an organization on plan.
type CostPolicy interface {
	CostFor(p Plan, override *Cost) Cost
}

// ConfigCostPolicy reads costs from the hot-reloaded metering config.
// Resolution order: agent override, per-plan override, configured default.
type ConfigCostPolicy struct {
	holder *config.MeteringConfigHolder
}

func NewConfigCostPolicy(holder *config.MeteringConfigHolder) CostPolicy {
	return &ConfigCostPolicy{holder: holder}
}

func (p *ConfigCostPolicy) CostFor(pl Plan, override *Cost) Cost {
	if override != nil && override.Credits >= 0 && override.Actions >= 0 {
		return *override
	}
	if p.holder == nil {
		return DefaultRunCost
	}
	cfg := p.holder.Get()
	if c, ok := cfg.PlanCost(string(pl)); ok {
		return Cost{Credits: c.Credits, Actions: c.Actions}
	}
	if cfg.DefaultRunCost.Credits == 0 && cfg.DefaultRunCost.Actions == 0 {
		return DefaultRunCost
	}
	return Cost{Credits: cfg.DefaultRunCost.Credits, Actions: cfg.DefaultRunCost.Actions}
}
