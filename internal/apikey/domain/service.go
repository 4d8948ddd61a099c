package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/agentmarket/internal/orgcontext"
	"gorm.io/gorm"
)

const (
	ScopeRunExecute = "run:execute"
	ScopeUsageView  = "usage:view"
)

// DefaultScopes are granted when a key is issued without explicit scopes.
var DefaultScopes = []string{ScopeRunExecute, ScopeUsageView}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, orgID, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, keyID string, at time.Time) error
	List(ctx context.Context, db *gorm.DB, orgID string) ([]APIKey, error)
}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	// Issue mints a key for an explicit org and user, bypassing the request principal.
	Issue(ctx context.Context, req IssueRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	Authenticate(ctx context.Context, raw string) (*orgcontext.Principal, error)
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type IssueRequest struct {
	OrgID  string
	UserID string
	Name   string
	Scopes []string
}

type Response struct {
	KeyID            string     `json:"keyId"`
	Name             string     `json:"name"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUsedAt       *time.Time `json:"lastUsedAt"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	RotatedFromKeyID *string    `json:"rotatedFromKeyId"`
}

type SecretResponse struct {
	KeyID  string `json:"keyId"`
	APIKey string `json:"apiKey"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidKeyID        = errors.New("invalid_key_id")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrNotFound            = errors.New("api_key_not_found")
	ErrUnauthenticated     = errors.New("unauthenticated")
)
