package repository

import (
	"context"
	"strings"
	"time"

	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() agentdomain.Repository {
	return &repo{}
}

const agentColumns = `id, org_id, name, slug, category, tags, short_description, long_description,
		 is_featured, is_published, free_try_enabled, premium_only, run_credit_cost, run_action_cost,
		 created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, agent *agentdomain.Agent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID,
		agent.OrgID,
		agent.Name,
		agent.Slug,
		agent.Category,
		agent.Tags,
		agent.ShortDescription,
		agent.LongDescription,
		agent.IsFeatured,
		agent.IsPublished,
		agent.FreeTryEnabled,
		agent.PremiumOnly,
		agent.RunCreditCost,
		agent.RunActionCost,
		agent.CreatedAt,
		agent.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, agent *agentdomain.Agent) error {
	return db.WithContext(ctx).Exec(
		`UPDATE agents
		 SET name = ?, slug = ?, category = ?, tags = ?, short_description = ?, long_description = ?,
		     is_featured = ?, free_try_enabled = ?, premium_only = ?, run_credit_cost = ?, run_action_cost = ?,
		     updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		agent.Name,
		agent.Slug,
		agent.Category,
		agent.Tags,
		agent.ShortDescription,
		agent.LongDescription,
		agent.IsFeatured,
		agent.FreeTryEnabled,
		agent.PremiumOnly,
		agent.RunCreditCost,
		agent.RunActionCost,
		agent.UpdatedAt,
		agent.ID,
		agent.OrgID,
	).Error
}

func (r *repo) SetPublished(ctx context.Context, db *gorm.DB, orgID, id string, published bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE agents SET is_published = ?, updated_at = ? WHERE id = ? AND org_id = ?`,
		published,
		now,
		id,
		orgID,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id string) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM agents WHERE id = ? AND org_id = ?`, id, orgID)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*agentdomain.Agent, error) {
	var agent agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`,
		id,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.ID == "" {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) FindSlugOwner(ctx context.Context, db *gorm.DB, slug string) (string, error) {
	var id string
	err := db.WithContext(ctx).Raw(`SELECT id FROM agents WHERE slug = ?`, slug).Scan(&id).Error
	return id, err
}

func (r *repo) ListPublished(ctx context.Context, db *gorm.DB, filter agentdomain.ListRequest) ([]agentdomain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE is_published = ?`
	args := []any{true}
	if category := strings.TrimSpace(filter.Category); category != "" {
		query += ` AND LOWER(category) = ?`
		args = append(args, strings.ToLower(category))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		query += ` AND (LOWER(name) LIKE ? OR LOWER(short_description) LIKE ?)`
		pattern := "%" + strings.ToLower(q) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Featured != nil {
		query += ` AND is_featured = ?`
		args = append(args, *filter.Featured)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += ` ORDER BY is_featured DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	var agents []agentdomain.Agent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID string) ([]agentdomain.Agent, error) {
	var agents []agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT `+agentColumns+` FROM agents WHERE org_id = ? ORDER BY created_at DESC`,
		orgID,
	).Scan(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}
