package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// GetOrCreatePeriod inserts candidate unless a row for its (org, month) exists, then returns the stored row.
	GetOrCreatePeriod(ctx context.Context, db *gorm.DB, candidate UsagePeriod) (*UsagePeriod, error)
	FindPeriod(ctx context.Context, db *gorm.DB, orgID, monthKey string) (*UsagePeriod, error)
	FindPeriodByID(ctx context.Context, db *gorm.DB, id string) (*UsagePeriod, error)
	// IncrementIfWithinLimit is a compare-and-swap on period.Version that also re-checks both limits.
	IncrementIfWithinLimit(ctx context.Context, db *gorm.DB, period UsagePeriod, delta Delta, limits Limits, now time.Time) (*UsagePeriod, error)
	AppendLedger(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	RecentLedger(ctx context.Context, db *gorm.DB, orgID string, from, to time.Time, limit int) ([]LedgerEntry, error)
	SumLedger(ctx context.Context, db *gorm.DB, periodID string) (LedgerTotals, error)
	ListPeriods(ctx context.Context, db *gorm.DB, orgID string, limit int) ([]UsagePeriod, error)
}

type Service interface {
	Summary(ctx context.Context, orgID string) (*SummaryResponse, error)
	History(ctx context.Context, orgID string, months int) ([]PeriodResponse, error)
	Reconcile(ctx context.Context, orgID, monthKey string) (*ReconcileResponse, error)
}

type UsageMonth struct {
	MonthKey    string    `json:"month"`
	CreditsUsed int64     `json:"creditsUsed"`
	ActionsUsed int64     `json:"actionsUsed"`
	ResetAt     time.Time `json:"resetAt"`
}

type RecentUsage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AgentID     *string   `json:"agentId,omitempty"`
	RunID       *string   `json:"runId,omitempty"`
	CreditCount int64     `json:"creditCount"`
	ActionCount int64     `json:"actionCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SummaryResponse struct {
	Plan        string        `json:"plan"`
	PlanLabel   string        `json:"planLabel"`
	Limits      Limits        `json:"limits"`
	UsageMonth  UsageMonth    `json:"usageMonth"`
	Remaining   Limits        `json:"remaining"`
	RecentUsage []RecentUsage `json:"recentUsage"`
}

type PeriodResponse struct {
	UsageMonth
	Version int64 `json:"version"`
}

// ReconcileResponse compares a period's counters with the sum of its ledger rows.
type ReconcileResponse struct {
	MonthKey      string `json:"month"`
	PeriodCredits int64  `json:"periodCredits"`
	PeriodActions int64  `json:"periodActions"`
	LedgerCredits int64  `json:"ledgerCredits"`
	LedgerActions int64  `json:"ledgerActions"`
	LedgerEntries int64  `json:"ledgerEntries"`
	Consistent    bool   `json:"consistent"`
}
