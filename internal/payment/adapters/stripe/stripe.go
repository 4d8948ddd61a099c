package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/agentmarket/internal/config"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	ProviderName     = "stripe"
	signatureHeader  = "Stripe-Signature"
	defaultTolerance = 5 * time.Minute
)

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	prices        paymentdomain.PriceMap
}

func NewAdapter(secret string, tolerance time.Duration, prices paymentdomain.PriceMap) *Adapter {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Adapter{
		webhookSecret: strings.TrimSpace(secret),
		tolerance:     tolerance,
		prices:        prices,
	}
}

func NewAdapterFromConfig(cfg config.Config) paymentdomain.WebhookAdapter {
	return NewAdapter(
		cfg.Stripe.WebhookSecret,
		time.Duration(cfg.Stripe.WebhookToleranceSec)*time.Second,
		paymentdomain.PriceMapFromConfig(cfg),
	)
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrWebhookNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event stripelib.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	out := &paymentdomain.ProviderEvent{
		Provider:   ProviderName,
		ID:         event.ID,
		Type:       string(event.Type),
		RawPayload: payload,
	}

	switch string(event.Type) {
	case paymentdomain.EventTypeCheckoutCompleted:
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Checkout = &paymentdomain.CheckoutSession{
			OrgID:           strings.TrimSpace(session.Metadata["orgId"]),
			Plan:            strings.TrimSpace(session.Metadata["plan"]),
			CustomerRef:     session.Customer.ref(),
			SubscriptionRef: session.Subscription.ref(),
		}
	case paymentdomain.EventTypeSubscriptionUpdated, paymentdomain.EventTypeSubscriptionDeleted:
		var sub subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if strings.TrimSpace(sub.ID) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		status, mapped := statusFromStripe(sub.Status)
		priceRef := sub.priceRef()
		out.Subscription = &paymentdomain.SubscriptionState{
			Ref:              sub.ID,
			CustomerRef:      sub.Customer.ref(),
			PriceRef:         priceRef,
			Plan:             string(a.prices.PlanFor(priceRef)),
			Status:           status,
			ProviderStatus:   sub.Status,
			StatusMapped:     mapped,
			CurrentPeriodEnd: sub.periodEnd(),
		}
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	// Subscription rows apply events in created order; an event without one cannot be placed.
	if event.Created <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}
	out.CreatedAt = time.Unix(event.Created, 0).UTC()
	return out, nil
}

// expandable decodes a Stripe field that is either an id or an expanded object.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*e = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

func (e expandable) ref() string {
	return strings.TrimSpace(string(e))
}

type checkoutSession struct {
	ID           string            `json:"id"`
	Customer     expandable        `json:"customer"`
	Subscription expandable        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscription struct {
	ID               string     `json:"id"`
	Customer         expandable `json:"customer"`
	Status           string     `json:"status"`
	CurrentPeriodEnd int64      `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s subscription) priceRef() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Items.Data[0].Price.ID)
}

// Newer API versions report the period end on the item instead of the subscription.
func (s subscription) periodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

func statusFromStripe(status string) (subscriptiondomain.Status, bool) {
	switch stripelib.SubscriptionStatus(status) {
	case stripelib.SubscriptionStatusActive:
		return subscriptiondomain.StatusActive, true
	case stripelib.SubscriptionStatusTrialing:
		return subscriptiondomain.StatusTrialing, true
	case stripelib.SubscriptionStatusCanceled:
		return subscriptiondomain.StatusCanceled, true
	case stripelib.SubscriptionStatusPastDue:
		return subscriptiondomain.StatusPastDue, true
	case stripelib.SubscriptionStatusIncomplete:
		return subscriptiondomain.StatusIncomplete, true
	case stripelib.SubscriptionStatusIncompleteExpired:
		return subscriptiondomain.StatusIncompleteExpired, true
	case stripelib.SubscriptionStatusUnpaid:
		return subscriptiondomain.StatusUnpaid, true
	default:
		return subscriptiondomain.StatusActive, false
	}
}

