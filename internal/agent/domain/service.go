package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, agent *Agent) error
	Update(ctx context.Context, db *gorm.DB, agent *Agent) error
	SetPublished(ctx context.Context, db *gorm.DB, orgID, id string, published bool, now time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, orgID, id string) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Agent, error)
	// FindSlugOwner returns the id of the agent using slug, or "".
	FindSlugOwner(ctx context.Context, db *gorm.DB, slug string) (string, error)
	ListPublished(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Agent, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID string) ([]Agent, error)
}

type Service interface {
	Create(ctx context.Context, req UpsertRequest) (*Response, error)
	Update(ctx context.Context, id string, req UpsertRequest) (*Response, error)
	SetPublished(ctx context.Context, id string, published bool) error
	Delete(ctx context.Context, id string) error
	// Get loads any agent regardless of author or publish state.
	Get(ctx context.Context, id string) (*Agent, error)
	ListPublished(ctx context.Context, req ListRequest) ([]Response, error)
	ListOwned(ctx context.Context) ([]Response, error)
}

type UpsertRequest struct {
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags"`
	ShortDescription string   `json:"shortDescription"`
	LongDescription  string   `json:"longDescription"`
	FreeTryEnabled   bool     `json:"freeTryEnabled"`
	PremiumOnly      bool     `json:"premiumOnly"`
	IsFeatured       bool     `json:"isFeatured"`
	RunCreditCost    *int64   `json:"runCreditCost"`
	RunActionCost    *int64   `json:"runActionCost"`
}

type ListRequest struct {
	Category string
	Query    string
	Featured *bool
	Limit    int
}

type Response struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"orgId"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Category         string    `json:"category"`
	Tags             []string  `json:"tags"`
	ShortDescription string    `json:"shortDescription"`
	LongDescription  string    `json:"longDescription"`
	IsFeatured       bool      `json:"isFeatured"`
	IsPublished      bool      `json:"isPublished"`
	FreeTryEnabled   bool      `json:"freeTryEnabled"`
	PremiumOnly      bool      `json:"premiumOnly"`
	RunCreditCost    *int64    `json:"runCreditCost,omitempty"`
	RunActionCost    *int64    `json:"runActionCost,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_agent_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidCategory     = errors.New("invalid_category")
	ErrInvalidTags         = errors.New("invalid_tags")
	ErrInvalidShortDesc    = errors.New("invalid_short_description")
	ErrInvalidLongDesc     = errors.New("invalid_long_description")
	ErrInvalidRunCost      = errors.New("invalid_run_cost")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("agent_not_found")
)
