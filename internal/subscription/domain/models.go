// Package domain holds the per-organization subscription row that decides an org's plan.
package domain

import (
	"time"
)

type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusTrialing          Status = "TRIALING"
	StatusPastDue           Status = "PAST_DUE"
	StatusCanceled          Status = "CANCELED"
	StatusIncomplete        Status = "INCOMPLETE"
	StatusIncompleteExpired Status = "INCOMPLETE_EXPIRED"
	StatusUnpaid            Status = "UNPAID"
)

// Subscription is one row per organization. Only the billing reconciler and
// checkout initiation write it after creation.
type Subscription struct {
	ID                      string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID                   string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_subscriptions_org" json:"org_id"`
	Plan                    string     `gorm:"type:varchar(32);not null" json:"plan"`
	Status                  Status     `gorm:"type:varchar(32);not null" json:"status"`
	ProviderCustomerRef     *string    `gorm:"type:varchar(255)" json:"provider_customer_ref,omitempty"`
	ProviderSubscriptionRef *string    `gorm:"type:varchar(255);index:ix_subscriptions_provider_ref" json:"provider_subscription_ref,omitempty"`
	CurrentPeriodEnd        *time.Time `json:"current_period_end,omitempty"`
	// LastEventAt is the provider timestamp of the newest applied billing event.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// CheckoutCompleted is a normalized checkout completion from the billing provider.
type CheckoutCompleted struct {
	OrgID           string
	Plan            string
	CustomerRef     string
	SubscriptionRef string
	EventAt         time.Time
}

// ProviderUpdate is a normalized subscription lifecycle change from the billing provider.
type ProviderUpdate struct {
	SubscriptionRef  string
	Plan             string
	Status           Status
	CurrentPeriodEnd *time.Time
	EventAt          time.Time
}

type ApplyOutcome string

const (
	OutcomeApplied ApplyOutcome = "applied"
	OutcomeStale   ApplyOutcome = "stale"
)

// ShouldApply reports whether an event at eventAt is not older than the last applied one.
func (s *Subscription) ShouldApply(eventAt time.Time) bool {
	return s.LastEventAt == nil || !s.LastEventAt.After(eventAt)
}
