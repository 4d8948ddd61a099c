// Package domain holds agent run records and the errors a run request can fail with.
package domain

import "time"

// Run is committed in the same transaction as the usage it consumed.
type Run struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID           string    `gorm:"type:varchar(36);not null;index:ix_runs_org_created,priority:1" json:"org_id"`
	UserID          string    `gorm:"type:varchar(64);not null" json:"user_id"`
	AgentID         string    `gorm:"type:varchar(36);not null;index:ix_runs_agent" json:"agent_id"`
	Input           string    `gorm:"type:text;not null" json:"input"`
	Output          string    `gorm:"type:text;not null" json:"output"`
	CreditsConsumed int64     `gorm:"not null" json:"credits_consumed"`
	ActionsConsumed int64     `gorm:"not null" json:"actions_consumed"`
	CreatedAt       time.Time `gorm:"not null;index:ix_runs_org_created,priority:2" json:"created_at"`
}

func (Run) TableName() string { return "runs" }
