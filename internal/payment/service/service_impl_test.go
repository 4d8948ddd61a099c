package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/migration"
	"github.com/smallbiznis/agentmarket/internal/payment/adapters"
	"github.com/smallbiznis/agentmarket/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/agentmarket/internal/payment/repository"
	paymentservice "github.com/smallbiznis/agentmarket/internal/payment/service"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/agentmarket/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/agentmarket/internal/subscription/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type fakeBillingClient struct {
	mu        sync.Mutex
	customers []paymentdomain.CustomerRequest
	sessions  []paymentdomain.CheckoutSessionRequest
	portals   []string
}

func (f *fakeBillingClient) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, req)
	return fmt.Sprintf("cus_%d", len(f.customers)), nil
}

func (f *fakeBillingClient) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, req)
	id := fmt.Sprintf("cs_%d", len(f.sessions))
	return &paymentdomain.CheckoutSessionResult{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *fakeBillingClient) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portals = append(f.portals, customerRef)
	return "https://portal.test/" + customerRef, nil
}

type harness struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	subs    subscriptiondomain.Service
	client  *fakeBillingClient
	service paymentdomain.Service
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(10)
	require.NoError(t, err)

	cfg := config.Config{
		PublicURL: "https://agentmarket.test",
		Stripe: config.StripeConfig{
			WebhookSecret:    webhookSecret,
			PricePremium:     "price_premium",
			PricePremiumPlus: "price_plus",
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    db,
		Log:   logger,
		Clock: fakeClock,
		Repo:  subscriptionrepo.Provide(),
	})
	client := &fakeBillingClient{}

	svc := paymentservice.NewService(paymentservice.Params{
		DB:            db,
		Log:           logger,
		Clock:         fakeClock,
		GenID:         node,
		Cfg:           cfg,
		Repo:          paymentrepo.Provide(),
		Adapters:      adapters.NewRegistry(stripe.NewAdapterFromConfig(cfg)),
		Client:        client,
		Subscriptions: subs,
	})

	return &harness{db: db, clock: fakeClock, subs: subs, client: client, service: svc}
}

func (h *harness) deliver(t *testing.T, event map[string]any) error {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(webhookSecret, payload, time.Now().Unix()))
	return h.service.IngestWebhook(context.Background(), "stripe", payload, headers)
}

func checkoutEvent(id, orgID, planName string, created time.Time) map[string]any {
	return map[string]any{
		"id":      id,
		"type":    paymentdomain.EventTypeCheckoutCompleted,
		"created": created.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":           "cs_" + id,
				"customer":     "cus_checkout",
				"subscription": "sub_checkout",
				"metadata":     map[string]any{"orgId": orgID, "plan": planName},
			},
		},
	}
}

func subscriptionEvent(id, eventType, subRef, price, status string, created time.Time) map[string]any {
	return map[string]any{
		"id":      id,
		"type":    eventType,
		"created": created.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":                 subRef,
				"customer":           "cus_checkout",
				"status":             status,
				"current_period_end": created.Add(30 * 24 * time.Hour).Unix(),
				"items": map[string]any{
					"data": []any{map[string]any{"price": map[string]any{"id": price}}},
				},
			},
		},
	}
}

func TestIngestWebhookAppliesCheckoutOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	created := time.Date(2026, 5, 10, 11, 0, 0, 0, time.UTC)

	require.NoError(t, h.deliver(t, checkoutEvent("evt_1", "org-1", "PREMIUM", created)))

	current, err := h.subs.CurrentPlan(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, plan.PlanPremium, current)

	sub, err := h.subs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, sub.ProviderSubscriptionRef)
	require.Equal(t, "sub_checkout", *sub.ProviderSubscriptionRef)
	require.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	err = h.deliver(t, checkoutEvent("evt_1", "org-1", "PREMIUM", created))
	require.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events", 1)
	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events WHERE outcome = 'applied' AND processed_at IS NOT NULL", 1)
}

func TestIngestWebhookSkipsStaleUpdate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.deliver(t, checkoutEvent("evt_checkout", "org-1", "PREMIUM", t0)))
	require.NoError(t, h.deliver(t, subscriptionEvent("evt_new", paymentdomain.EventTypeSubscriptionUpdated, "sub_checkout", "price_plus", "active", t0.Add(2*time.Hour))))
	require.NoError(t, h.deliver(t, subscriptionEvent("evt_old", paymentdomain.EventTypeSubscriptionUpdated, "sub_checkout", "price_premium", "past_due", t0.Add(time.Hour))))

	sub, err := h.subs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, string(plan.PlanPremiumPlus), sub.Plan)
	require.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events WHERE provider_event_id = 'evt_old' AND outcome = 'stale'", 1)
}

func TestIngestWebhookSubscriptionDeleted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.deliver(t, checkoutEvent("evt_checkout", "org-1", "PREMIUM", t0)))
	require.NoError(t, h.deliver(t, subscriptionEvent("evt_del", paymentdomain.EventTypeSubscriptionDeleted, "sub_checkout", "price_premium", "canceled", t0.Add(time.Hour))))

	sub, err := h.subs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	require.Equal(t, string(plan.PlanPremium), sub.Plan)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestIngestWebhookInvalidSignatureWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	payload, err := json.Marshal(checkoutEvent("evt_bad", "org-1", "PREMIUM", time.Now()))
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader("whsec_wrong", payload, time.Now().Unix()))
	err = h.service.IngestWebhook(context.Background(), "stripe", payload, headers)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events", 0)
	assertCount(t, h.db, "SELECT COUNT(1) FROM subscriptions", 0)
}

func TestIngestWebhookIgnoresUnhandledType(t *testing.T) {
	h := newHarness(t, nil)
	err := h.deliver(t, map[string]any{
		"id":      "evt_invoice",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": "in_1"}},
	})
	require.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events", 0)
}

func TestIngestWebhookUnknownSubscriptionIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	err := h.deliver(t, subscriptionEvent("evt_orphan", paymentdomain.EventTypeSubscriptionUpdated, "sub_missing", "price_plus", "active", time.Now()))
	require.NoError(t, err)
	assertCount(t, h.db, "SELECT COUNT(1) FROM billing_events WHERE outcome = 'ignored'", 1)
	assertCount(t, h.db, "SELECT COUNT(1) FROM subscriptions", 0)
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	h := newHarness(t, nil)
	err := h.service.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	require.True(t, errors.Is(err, paymentdomain.ErrProviderNotFound))
}

func TestStartCheckoutReusesCustomer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", OrgName: "Acme", Email: "a@acme.test", Plan: "premium"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.test/cs_1", first.URL)

	row, err := h.subs.Get(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, row.ID, first.SubscriptionID)

	second, err := h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", Plan: "PREMIUM_PLUS"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.test/cs_2", second.URL)
	require.Equal(t, row.ID, second.SubscriptionID)

	require.Len(t, h.client.customers, 1)
	require.Equal(t, "customer-org-1", h.client.customers[0].IdempotencyKey)
	require.Len(t, h.client.sessions, 2)
	require.Equal(t, "cus_1", h.client.sessions[1].CustomerRef)
	require.Equal(t, "price_plus", h.client.sessions[1].PriceRef)
	require.Equal(t, "org-1", h.client.sessions[1].Metadata["orgId"])
	require.Equal(t, "PREMIUM_PLUS", h.client.sessions[1].Metadata["plan"])
	require.Equal(t, "https://agentmarket.test/dashboard/billing?success=1", h.client.sessions[0].SuccessURL)

	current, err := h.subs.CurrentPlan(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, plan.PlanFree, current)
}

func TestStartCheckoutRejections(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Stripe.PricePremiumPlus = "" })
	ctx := context.Background()

	_, err := h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", Plan: "FREE"})
	require.ErrorIs(t, err, paymentdomain.ErrFreePlanCheckout)

	_, err = h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", Plan: "GOLD"})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPlan)

	_, err = h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", Plan: "PREMIUM_PLUS"})
	require.ErrorIs(t, err, paymentdomain.ErrPriceNotConfigured)

	require.Empty(t, h.client.customers)
}

func TestPortalURL(t *testing.T) {
	ctx := context.Background()

	static := newHarness(t, func(cfg *config.Config) { cfg.Stripe.CustomerPortalURL = "https://billing.test/portal" })
	url, err := static.service.PortalURL(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "https://billing.test/portal", url)

	h := newHarness(t, nil)
	_, err = h.service.PortalURL(ctx, "org-1")
	require.ErrorIs(t, err, paymentdomain.ErrCustomerNotFound)

	_, err = h.service.StartCheckout(ctx, paymentdomain.CheckoutRequest{OrgID: "org-1", Plan: "PREMIUM"})
	require.NoError(t, err)
	url, err = h.service.PortalURL(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "https://portal.test/cus_1", url)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()
	var count int64
	require.NoError(t, db.Raw(query).Scan(&count).Error)
	require.Equal(t, expected, count, query)
}
