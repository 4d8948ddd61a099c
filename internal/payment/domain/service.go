package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent reports false when the provider event id was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *BillingEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*BillingEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, processedAt time.Time) error
}

// WebhookAdapter verifies and normalizes one provider's webhook deliveries.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

// BillingClient is the outbound half of the provider integration.
type BillingClient interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSessionResult, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	StartCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error)
	PortalURL(ctx context.Context, orgID string) (string, error)
}

type CustomerRequest struct {
	OrgID          string
	Name           string
	Email          string
	IdempotencyKey string
}

type CheckoutSessionRequest struct {
	CustomerRef    string
	PriceRef       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutSessionResult struct {
	ID  string
	URL string
}

type CheckoutRequest struct {
	OrgID   string `json:"-"`
	OrgName string `json:"-"`
	Email   string `json:"-"`
	Plan    string `json:"plan"`
}

type CheckoutResponse struct {
	URL            string `json:"url"`
	SubscriptionID string `json:"subscriptionId"`
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrWebhookNotConfigured  = errors.New("webhook_not_configured")
	ErrBillingNotConfigured  = errors.New("billing_not_configured")
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrFreePlanCheckout      = errors.New("free_plan_checkout")
	ErrPriceNotConfigured    = errors.New("price_not_configured")
	ErrCustomerNotFound      = errors.New("billing_customer_not_found")
)
