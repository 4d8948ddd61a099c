package domain

import (
	"context"
	"time"

	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, run *Run) error
	ListRecent(ctx context.Context, db *gorm.DB, orgID string, limit int) ([]Run, error)
	CountByOrg(ctx context.Context, db *gorm.DB, orgID string) (int64, error)
}

type Service interface {
	Run(ctx context.Context, req Request) (*Result, error)
	ListRecent(ctx context.Context, orgID string, limit int) ([]Response, error)
}

// OutputGenerator produces the text a run returns.
type OutputGenerator interface {
	Generate(agent *agentdomain.Agent, input string) string
}

type Request struct {
	OrgID   string `json:"-"`
	UserID  string `json:"-"`
	AgentID string `json:"agentId"`
	Input   string `json:"input"`
}

type Result struct {
	Run       Run                `json:"-"`
	Output    string             `json:"output"`
	RunID     string             `json:"runId"`
	AgentSlug string             `json:"agentSlug"`
	Plan      string             `json:"plan"`
	Remaining usagedomain.Limits `json:"remaining"`
}

type Response struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agentId"`
	UserID          string    `json:"userId"`
	Input           string    `json:"input"`
	Output          string    `json:"output"`
	CreditsConsumed int64     `json:"creditsConsumed"`
	ActionsConsumed int64     `json:"actionsConsumed"`
	CreatedAt       time.Time `json:"createdAt"`
}
