package repository

import (
	"context"

	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() rundomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, run *rundomain.Run) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO runs (id, org_id, user_id, agent_id, input, output, credits_consumed, actions_consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.OrgID,
		run.UserID,
		run.AgentID,
		run.Input,
		run.Output,
		run.CreditsConsumed,
		run.ActionsConsumed,
		run.CreatedAt,
	).Error
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, orgID string, limit int) ([]rundomain.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []rundomain.Run
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, agent_id, input, output, credits_consumed, actions_consumed, created_at
		 FROM runs WHERE org_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		orgID,
		limit,
	).Scan(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repo) CountByOrg(ctx context.Context, db *gorm.DB, orgID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM runs WHERE org_id = ?`, orgID).Scan(&count).Error
	return count, err
}
