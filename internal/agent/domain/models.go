// Package domain contains the marketplace agent listing.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Agent is a listing authored by one organization and runnable by any organization.
type Agent struct {
	ID               string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID            string                      `gorm:"type:varchar(36);not null;index:ix_agents_org" json:"org_id"`
	Name             string                      `gorm:"type:varchar(80);not null" json:"name"`
	Slug             string                      `gorm:"type:varchar(120);not null;uniqueIndex:ux_agents_slug" json:"slug"`
	Category         string                      `gorm:"type:varchar(40);not null" json:"category"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	ShortDescription string                      `gorm:"type:varchar(180);not null" json:"short_description"`
	LongDescription  string                      `gorm:"type:text;not null" json:"long_description"`
	IsFeatured       bool                        `gorm:"not null;default:false" json:"is_featured"`
	IsPublished      bool                        `gorm:"not null;default:false;index:ix_agents_published" json:"is_published"`
	FreeTryEnabled   bool                        `gorm:"not null;default:true" json:"free_try_enabled"`
	PremiumOnly      bool                        `gorm:"not null;default:false" json:"premium_only"`
	// Run cost overrides apply only when both are set.
	RunCreditCost *int64    `json:"run_credit_cost,omitempty"`
	RunActionCost *int64    `json:"run_action_cost,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// Runnable reports whether the listing may be executed at all.
func (a *Agent) Runnable() bool {
	return a != nil && a.IsPublished
}

// CostOverride returns the per-agent run cost when both columns are set.
func (a *Agent) CostOverride() (credits, actions int64, ok bool) {
	if a == nil || a.RunCreditCost == nil || a.RunActionCost == nil {
		return 0, 0, false
	}
	return *a.RunCreditCost, *a.RunActionCost, true
}
