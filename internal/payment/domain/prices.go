package domain

import (
	"strings"

	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/plan"
)

// PriceMap links provider price ids to plans in both directions.
type PriceMap struct {
	byPlan  map[plan.Plan]string
	byPrice map[string]plan.Plan
}

func NewPriceMap(prices map[plan.Plan]string) PriceMap {
	m := PriceMap{byPlan: map[plan.Plan]string{}, byPrice: map[string]plan.Plan{}}
	for p, price := range prices {
		price = strings.TrimSpace(price)
		if price == "" {
			continue
		}
		m.byPlan[p] = price
		m.byPrice[price] = p
	}
	return m
}

func PriceMapFromConfig(cfg config.Config) PriceMap {
	return NewPriceMap(map[plan.Plan]string{
		plan.PlanPremium:     cfg.Stripe.PricePremium,
		plan.PlanPremiumPlus: cfg.Stripe.PricePremiumPlus,
	})
}

// PriceFor returns the price id configured for p.
func (m PriceMap) PriceFor(p plan.Plan) (string, bool) {
	price, ok := m.byPlan[p]
	return price, ok
}

// PlanFor returns FREE for an empty or unknown price id.
func (m PriceMap) PlanFor(price string) plan.Plan {
	if p, ok := m.byPrice[strings.TrimSpace(price)]; ok {
		return p
	}
	return plan.PlanFree
}
