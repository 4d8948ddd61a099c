package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
)

func testPrices() paymentdomain.PriceMap {
	return paymentdomain.NewPriceMap(map[plan.Plan]string{
		plan.PlanPremium:     "price_premium",
		plan.PlanPremiumPlus: "price_plus",
	})
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := NewAdapter(secret, 0, testPrices())
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	if err := adapter.Verify(context.Background(), payload, http.Header{}); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header to fail, got %v", err)
	}
}

func TestVerifyRejectsExpiredTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_old","type":"checkout.session.completed","data":{"object":{}}}`)
	old := time.Now().Add(-time.Hour).Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, old))

	adapter := NewAdapter(secret, time.Minute, testPrices())
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to fail, got %v", err)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	adapter := NewAdapter("", 0, testPrices())
	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{"Stripe-Signature": {"t=1,v1=00"}})
	if !errors.Is(err, paymentdomain.ErrWebhookNotConfigured) {
		t.Fatalf("expected webhook not configured, got %v", err)
	}
}

func TestParseEvents(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC).Unix()
	periodEnd := time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name  string
		event map[string]any
		check func(t *testing.T, evt *paymentdomain.ProviderEvent)
	}{{
		name: "checkout.session.completed",
		event: map[string]any{
			"id":      "evt_checkout",
			"type":    "checkout.session.completed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":           "cs_1",
					"customer":     "cus_1",
					"subscription": map[string]any{"id": "sub_1"},
					"metadata":     map[string]any{"orgId": "org-1", "plan": "PREMIUM"},
				},
			},
		},
		check: func(t *testing.T, evt *paymentdomain.ProviderEvent) {
			if evt.Checkout == nil {
				t.Fatalf("expected checkout payload")
			}
			if evt.Checkout.OrgID != "org-1" || evt.Checkout.Plan != "PREMIUM" {
				t.Fatalf("unexpected metadata: %+v", evt.Checkout)
			}
			if evt.Checkout.CustomerRef != "cus_1" || evt.Checkout.SubscriptionRef != "sub_1" {
				t.Fatalf("unexpected refs: %+v", evt.Checkout)
			}
		},
	}, {
		name: "customer.subscription.updated",
		event: map[string]any{
			"id":      "evt_sub",
			"type":    "customer.subscription.updated",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":                 "sub_1",
					"customer":           "cus_1",
					"status":             "past_due",
					"current_period_end": periodEnd,
					"items": map[string]any{
						"data": []any{map[string]any{"price": map[string]any{"id": "price_plus"}}},
					},
				},
			},
		},
		check: func(t *testing.T, evt *paymentdomain.ProviderEvent) {
			sub := evt.Subscription
			if sub == nil {
				t.Fatalf("expected subscription payload")
			}
			if sub.Plan != string(plan.PlanPremiumPlus) {
				t.Fatalf("expected PREMIUM_PLUS, got %s", sub.Plan)
			}
			if sub.Status != subscriptiondomain.StatusPastDue || !sub.StatusMapped {
				t.Fatalf("unexpected status %s mapped=%v", sub.Status, sub.StatusMapped)
			}
			if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != periodEnd {
				t.Fatalf("unexpected period end %v", sub.CurrentPeriodEnd)
			}
		},
	}, {
		name: "customer.subscription.deleted with item period end",
		event: map[string]any{
			"id":      "evt_del",
			"type":    "customer.subscription.deleted",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":     "sub_2",
					"status": "paused",
					"items": map[string]any{
						"data": []any{map[string]any{
							"current_period_end": periodEnd,
							"price":              map[string]any{"id": "price_unknown"},
						}},
					},
				},
			},
		},
		check: func(t *testing.T, evt *paymentdomain.ProviderEvent) {
			sub := evt.Subscription
			if sub.Plan != string(plan.PlanFree) {
				t.Fatalf("unknown price should map to FREE, got %s", sub.Plan)
			}
			if sub.Status != subscriptiondomain.StatusActive || sub.StatusMapped {
				t.Fatalf("unmapped status should default to ACTIVE, got %s mapped=%v", sub.Status, sub.StatusMapped)
			}
			if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != periodEnd {
				t.Fatalf("expected item period end, got %v", sub.CurrentPeriodEnd)
			}
		},
	}}

	adapter := NewAdapter("whsec_test", 0, testPrices())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			evt, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if evt.ID != tt.event["id"] || evt.Type != tt.event["type"] {
				t.Fatalf("unexpected identity %s/%s", evt.ID, evt.Type)
			}
			if evt.CreatedAt.Unix() != created {
				t.Fatalf("unexpected created at %v", evt.CreatedAt)
			}
			tt.check(t, evt)
		})
	}
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	adapter := NewAdapter("whsec_test", 0, testPrices())
	payload := []byte(`{"id":"evt_inv","type":"invoice.paid","created":1700000000,"data":{"object":{"id":"in_1"}}}`)
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	adapter := NewAdapter("whsec_test", 0, testPrices())
	if _, err := adapter.Parse(context.Background(), []byte(`not-json`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestParseRejectsEventWithoutCreated(t *testing.T) {
	adapter := NewAdapter("whsec_test", 0, testPrices())
	payloads := [][]byte{
		[]byte(`{"id":"evt_c","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"orgId":"org-1","plan":"PREMIUM"}}}}`),
		[]byte(`{"id":"evt_s","type":"customer.subscription.updated","created":0,"data":{"object":{"id":"sub_1","status":"active"}}}`),
	}
	for _, payload := range payloads {
		if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
			t.Fatalf("expected invalid event for %s, got %v", payload, err)
		}
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
