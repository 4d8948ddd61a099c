package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const periodColumns = `id, org_id, month_key, credits_used, actions_used, version, reset_at, created_at, updated_at`

func (r *repo) GetOrCreatePeriod(ctx context.Context, db *gorm.DB, candidate usagedomain.UsagePeriod) (*usagedomain.UsagePeriod, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "month_key"}},
			DoNothing: true,
		}).
		Create(&candidate).Error
	if err != nil {
		return nil, err
	}
	// The insert may have lost the race; the stored row is authoritative.
	period, err := r.FindPeriod(ctx, db, candidate.OrgID, candidate.MonthKey)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, usagedomain.ErrPeriodNotFound
	}
	return period, nil
}

func (r *repo) FindPeriod(ctx context.Context, db *gorm.DB, orgID, monthKey string) (*usagedomain.UsagePeriod, error) {
	var period usagedomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM usage_periods WHERE org_id = ? AND month_key = ?`,
		orgID,
		monthKey,
	).Scan(&period).Error
	if err != nil {
		return nil, err
	}
	if period.ID == "" {
		return nil, nil
	}
	return &period, nil
}

func (r *repo) FindPeriodByID(ctx context.Context, db *gorm.DB, id string) (*usagedomain.UsagePeriod, error) {
	return r.findPeriodByID(ctx, db, id, false)
}

// lockClause turns a read into a locking read. Under REPEATABLE READ a plain
// SELECT returns the transaction snapshot; a locking read returns the latest
// committed row. sqlite serializes writers and has no row locks.
func lockClause(dialect string, forUpdate bool) string {
	if forUpdate && dialect != "sqlite" {
		return " FOR UPDATE"
	}
	return ""
}

func (r *repo) findPeriodByID(ctx context.Context, db *gorm.DB, id string, forUpdate bool) (*usagedomain.UsagePeriod, error) {
	var period usagedomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM usage_periods WHERE id = ?`+lockClause(db.Dialector.Name(), forUpdate),
		id,
	).Scan(&period).Error
	if err != nil {
		return nil, err
	}
	if period.ID == "" {
		return nil, nil
	}
	return &period, nil
}

func (r *repo) IncrementIfWithinLimit(ctx context.Context, db *gorm.DB, period usagedomain.UsagePeriod, delta usagedomain.Delta, limits usagedomain.Limits, now time.Time) (*usagedomain.UsagePeriod, error) {
	if delta.Credits < 0 || delta.Actions < 0 {
		return nil, usagedomain.ErrInvalidDelta
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET credits_used = credits_used + ?,
		     actions_used = actions_used + ?,
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ?
		   AND version = ?
		   AND credits_used + ? <= ?
		   AND actions_used + ? <= ?`,
		delta.Credits,
		delta.Actions,
		now,
		period.ID,
		period.Version,
		delta.Credits,
		limits.Credits,
		delta.Actions,
		limits.Actions,
	)
	if res.Error != nil {
		return nil, res.Error
	}

	current, err := r.findPeriodByID(ctx, db, period.ID, res.RowsAffected != 1)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, usagedomain.ErrPeriodNotFound
	}
	if res.RowsAffected == 1 {
		return current, nil
	}
	if current.Version != period.Version {
		return nil, usagedomain.ErrVersionConflict
	}
	return nil, &usagedomain.LimitExceededError{
		Limits:    limits,
		Used:      usagedomain.Limits{Credits: current.CreditsUsed, Actions: current.ActionsUsed},
		Requested: delta,
	}
}

func (r *repo) AppendLedger(ctx context.Context, db *gorm.DB, entry *usagedomain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_ledger (id, org_id, period_id, user_id, agent_id, run_id, action_count, credit_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.PeriodID,
		entry.UserID,
		entry.AgentID,
		entry.RunID,
		entry.ActionCount,
		entry.CreditCount,
		entry.CreatedAt,
	).Error
}

func (r *repo) RecentLedger(ctx context.Context, db *gorm.DB, orgID string, from, to time.Time, limit int) ([]usagedomain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 7
	}
	var entries []usagedomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, period_id, user_id, agent_id, run_id, action_count, credit_count, created_at
		 FROM usage_ledger
		 WHERE org_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		orgID,
		from,
		to,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SumLedger(ctx context.Context, db *gorm.DB, periodID string) (usagedomain.LedgerTotals, error) {
	var totals usagedomain.LedgerTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credit_count), 0) AS credits,
		        COALESCE(SUM(action_count), 0) AS actions,
		        COUNT(*) AS entries
		 FROM usage_ledger WHERE period_id = ?`,
		periodID,
	).Scan(&totals).Error
	return totals, err
}

func (r *repo) ListPeriods(ctx context.Context, db *gorm.DB, orgID string, limit int) ([]usagedomain.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}
	var periods []usagedomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM usage_periods WHERE org_id = ? ORDER BY month_key DESC LIMIT ?`,
		orgID,
		limit,
	).Scan(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}
