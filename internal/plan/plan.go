// Package plan is the static catalog of subscription tiers and their monthly quotas.
package plan

import (
	"errors"
	"strings"
)

type Plan string

const (
	PlanFree        Plan = "FREE"
	PlanPremium     Plan = "PREMIUM"
	PlanPremiumPlus Plan = "PREMIUM_PLUS"
)

var ErrUnknownPlan = errors.New("unknown_plan")

// Quota is the monthly allowance of a plan.
type Quota struct {
	CreditLimit int64  `json:"credits"`
	ActionLimit int64  `json:"actions"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var catalog = map[Plan]Quota{
	PlanFree: {
		CreditLimit: 200,
		ActionLimit: 50,
		Label:       "Free",
		Description: "For experimenting with public agents",
	},
	PlanPremium: {
		CreditLimit: 2000,
		ActionLimit: 500,
		Label:       "Premium",
		Description: "Best for growing teams and active workflows",
	},
	PlanPremiumPlus: {
		CreditLimit: 10000,
		ActionLimit: 2500,
		Label:       "Premium Plus",
		Description: "High-throughput usage with larger credit caps",
	},
}

// All lists the plans in ascending order.
func All() []Plan {
	return []Plan{PlanFree, PlanPremium, PlanPremiumPlus}
}

// Parse accepts a plan identifier in any case.
func Parse(value string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := catalog[p]; !ok {
		return "", ErrUnknownPlan
	}
	return p, nil
}

func (p Plan) String() string { return string(p) }

func (p Plan) IsPaid() bool {
	return p == PlanPremium || p == PlanPremiumPlus
}

// QuotaFor never fails; a value outside the catalog gets the free quota.
func QuotaFor(p Plan) Quota {
	if q, ok := catalog[p]; ok {
		return q
	}
	return catalog[PlanFree]
}
