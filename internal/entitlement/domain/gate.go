// Package domain defines the admission contract every metered operation goes through.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/plan"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
)

// Gate admits or rejects consumption against the organization's monthly quota.
type Gate interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Admission, error)
	// ReserveWithin runs fn in the reservation transaction; an error from fn rolls the reservation back.
	ReserveWithin(ctx context.Context, req ReserveRequest, fn func(tx *gorm.DB, adm *Admission) error) (*Admission, error)
}

type ReserveRequest struct {
	OrgID   string
	UserID  string
	AgentID string
	RunID   string
	Cost    plan.Cost
}

type Admission struct {
	Plan          plan.Plan
	Limits        usagedomain.Limits
	Period        usagedomain.UsagePeriod
	Remaining     usagedomain.Limits
	LedgerEntryID snowflake.ID
	Attempts      int
}

var (
	ErrInvalidRequest = errors.New("invalid_reservation_request")
	// ErrContention means every compare-and-swap attempt lost to a concurrent writer.
	ErrContention = errors.New("usage_contention")
)
