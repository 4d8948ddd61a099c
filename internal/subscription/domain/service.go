package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/agentmarket/internal/plan"
	"gorm.io/gorm"
)

type Repository interface {
	FindByOrgID(ctx context.Context, db *gorm.DB, orgID string, forUpdate bool) (*Subscription, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, subscriptionRef string, forUpdate bool) (*Subscription, error)
	// InsertIfMissing is a no-op when the organization already has a row.
	InsertIfMissing(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	SetCustomerRef(ctx context.Context, db *gorm.DB, orgID, customerRef string, now time.Time) error
}

type Service interface {
	// CurrentPlan defaults to FREE for a missing row but never for a failed read.
	CurrentPlan(ctx context.Context, orgID string) (plan.Plan, error)
	Get(ctx context.Context, orgID string) (*Subscription, error)
	EnsureDefault(ctx context.Context, tx *gorm.DB, orgID string) error
	MarkProvisional(ctx context.Context, orgID, customerRef string) error
	ApplyCheckoutCompleted(ctx context.Context, evt CheckoutCompleted) (ApplyOutcome, error)
	ApplyProviderUpdate(ctx context.Context, evt ProviderUpdate) (ApplyOutcome, error)
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidSubscriptionRef = errors.New("invalid_subscription_ref")
	ErrInvalidCustomerRef     = errors.New("invalid_customer_ref")
	ErrSubscriptionNotFound   = errors.New("subscription_not_found")
)
