// Package domain holds the usage period counters and the append-only usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsagePeriod is the single mutable counter row per organization and calendar month.
type UsagePeriod struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID       string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_usage_periods_org_month,priority:1" json:"org_id"`
	MonthKey    string    `gorm:"type:varchar(7);not null;uniqueIndex:ux_usage_periods_org_month,priority:2" json:"month_key"`
	CreditsUsed int64     `gorm:"not null;default:0;check:chk_usage_periods_credits,credits_used >= 0" json:"credits_used"`
	ActionsUsed int64     `gorm:"not null;default:0;check:chk_usage_periods_actions,actions_used >= 0" json:"actions_used"`
	Version     int64     `gorm:"not null;default:0" json:"version"`
	ResetAt     time.Time `gorm:"not null" json:"reset_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (UsagePeriod) TableName() string { return "usage_periods" }

// LedgerEntry is an immutable consumption fact. Rows are never updated or deleted.
type LedgerEntry struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OrgID       string       `gorm:"type:varchar(36);not null;index:ix_usage_ledger_org_created,priority:1" json:"org_id"`
	PeriodID    string       `gorm:"type:varchar(36);not null;index:ix_usage_ledger_period" json:"period_id"`
	UserID      string       `gorm:"type:varchar(64);not null" json:"user_id"`
	AgentID     *string      `gorm:"type:varchar(36)" json:"agent_id,omitempty"`
	RunID       *string      `gorm:"type:varchar(36)" json:"run_id,omitempty"`
	ActionCount int64        `gorm:"not null" json:"action_count"`
	CreditCount int64        `gorm:"not null" json:"credit_count"`
	CreatedAt   time.Time    `gorm:"not null;index:ix_usage_ledger_org_created,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "usage_ledger" }

// Delta is a requested consumption.
type Delta struct {
	Credits int64
	Actions int64
}

// Limits are the plan quotas a period is checked against.
type Limits struct {
	Credits int64 `json:"credits"`
	Actions int64 `json:"actions"`
}

// LedgerTotals is the sum of ledger rows for one period.
type LedgerTotals struct {
	Credits int64
	Actions int64
	Entries int64
}

// MonthKey returns the UTC calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ResetAt returns the first instant of the UTC month after t.
func ResetAt(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Remaining clamps at zero; a downgrade mid-period can leave usage above the new quota.
func Remaining(limits Limits, period UsagePeriod) Limits {
	return Limits{
		Credits: max(limits.Credits-period.CreditsUsed, 0),
		Actions: max(limits.Actions-period.ActionsUsed, 0),
	}
}
