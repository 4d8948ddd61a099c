package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"gorm.io/datatypes"
)

// BillingEvent is the log of provider webhook deliveries, one row per provider event id.
type BillingEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_billing_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_billing_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:varchar(128);not null"`
	EventCreatedAt  time.Time      `json:"event_created_at" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	Outcome         string         `json:"outcome" gorm:"type:varchar(32);not null;default:''"`
	CorrelationID   string         `json:"correlation_id" gorm:"type:varchar(64);not null;default:''"`
}

func (BillingEvent) TableName() string { return "billing_events" }

const (
	EventTypeCheckoutCompleted   = "checkout.session.completed"
	EventTypeSubscriptionUpdated = "customer.subscription.updated"
	EventTypeSubscriptionDeleted = "customer.subscription.deleted"
)

const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeIgnored = "ignored"
)

// ProviderEvent is a verified webhook normalized by an adapter.
// Exactly one of Checkout and Subscription is set.
type ProviderEvent struct {
	Provider     string
	ID           string
	Type         string
	CreatedAt    time.Time
	Checkout     *CheckoutSession
	Subscription *SubscriptionState
	RawPayload   []byte
}

type CheckoutSession struct {
	OrgID           string
	Plan            string
	CustomerRef     string
	SubscriptionRef string
}

type SubscriptionState struct {
	Ref              string
	CustomerRef      string
	PriceRef         string
	Plan             string
	Status           subscriptiondomain.Status
	ProviderStatus   string
	StatusMapped     bool
	CurrentPeriodEnd *time.Time
}
