package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"github.com/smallbiznis/agentmarket/internal/observability/tracing"
	"github.com/smallbiznis/agentmarket/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"github.com/smallbiznis/agentmarket/internal/usagemetrics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	Cfg           config.Config
	Repo          paymentdomain.Repository
	Adapters      *adapters.Registry
	Client        paymentdomain.BillingClient `optional:"true"`
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.Metrics        `optional:"true"`
	Recorder      *usagemetrics.Recorder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	repo      paymentdomain.Repository
	adapters  *adapters.Registry
	client    paymentdomain.BillingClient
	subs      subscriptiondomain.Service
	prices    paymentdomain.PriceMap
	publicURL string
	portalURL string
	metrics   *metrics.Metrics
	recorder  *usagemetrics.Recorder
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		clock:     p.Clock,
		genID:     p.GenID,
		repo:      p.Repo,
		adapters:  p.Adapters,
		client:    p.Client,
		subs:      p.Subscriptions,
		prices:    paymentdomain.PriceMapFromConfig(p.Cfg),
		publicURL: strings.TrimRight(p.Cfg.PublicURL, "/"),
		portalURL: strings.TrimSpace(p.Cfg.Stripe.CustomerPortalURL),
		metrics:   p.Metrics,
		recorder:  p.Recorder,
	}
}

// IngestWebhook verifies, records and applies one provider delivery.
// Deliveries that change nothing return ErrEventIgnored or ErrEventAlreadyProcessed.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}

	ctx, cid := obscontext.EnsureCorrelationID(ctx)
	ctx, span := tracing.Start(ctx, "payment.webhook.ingest", attribute.String("provider", provider))
	defer span.End()

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.observe(ctx, provider, "unknown", "invalid_signature")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.observe(ctx, provider, "unhandled", paymentdomain.OutcomeIgnored)
		}
		return err
	}
	span.SetAttributes(attribute.String("event_type", event.Type))

	now := s.clock.Now()
	record := &paymentdomain.BillingEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		EventCreatedAt:  event.CreatedAt,
		Payload:         payload,
		ReceivedAt:      now,
		CorrelationID:   cid,
	}
	if _, err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		return err
	}
	stored, err := s.repo.FindEvent(ctx, s.db, provider, event.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return paymentdomain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		s.observe(ctx, provider, event.Type, "duplicate")
		return paymentdomain.ErrEventAlreadyProcessed
	}

	outcome, err := s.dispatch(ctx, event)
	if err != nil {
		s.observe(ctx, provider, event.Type, "error")
		s.log.Error("billing event processing failed",
			zap.String("provider", provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("correlation_id", cid),
			zap.Error(err),
		)
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, outcome, s.clock.Now()); err != nil {
		return err
	}
	s.observe(ctx, provider, event.Type, outcome)
	s.log.Info("billing event processed",
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("outcome", outcome),
		zap.String("correlation_id", cid),
	)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.ProviderEvent) (string, error) {
	switch {
	case event.Checkout != nil:
		return s.applyCheckout(ctx, event)
	case event.Subscription != nil:
		return s.applySubscription(ctx, event)
	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, event *paymentdomain.ProviderEvent) (string, error) {
	checkout := event.Checkout
	if checkout.OrgID == "" {
		s.log.Warn("checkout completed without organization metadata", zap.String("event_id", event.ID))
		return paymentdomain.OutcomeIgnored, nil
	}

	target := plan.PlanFree
	if checkout.Plan != "" {
		parsed, err := plan.Parse(checkout.Plan)
		if err != nil {
			s.log.Warn("checkout completed with unknown plan", zap.String("event_id", event.ID), zap.String("plan", checkout.Plan))
			return paymentdomain.OutcomeIgnored, nil
		}
		target = parsed
	}

	outcome, err := s.subs.ApplyCheckoutCompleted(ctx, subscriptiondomain.CheckoutCompleted{
		OrgID:           checkout.OrgID,
		Plan:            string(target),
		CustomerRef:     checkout.CustomerRef,
		SubscriptionRef: checkout.SubscriptionRef,
		EventAt:         event.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return string(outcome), nil
}

func (s *Service) applySubscription(ctx context.Context, event *paymentdomain.ProviderEvent) (string, error) {
	state := event.Subscription
	if !state.StatusMapped {
		s.log.Warn("unmapped provider subscription status",
			zap.String("event_id", event.ID),
			zap.String("status", state.ProviderStatus),
		)
	}

	outcome, err := s.subs.ApplyProviderUpdate(ctx, subscriptiondomain.ProviderUpdate{
		SubscriptionRef:  state.Ref,
		Plan:             state.Plan,
		Status:           state.Status,
		CurrentPeriodEnd: state.CurrentPeriodEnd,
		EventAt:          event.CreatedAt,
	})
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Info("no subscription for provider reference", zap.String("event_id", event.ID), zap.String("subscription_ref", state.Ref))
			return paymentdomain.OutcomeIgnored, nil
		}
		return "", err
	}
	return string(outcome), nil
}

func (s *Service) observe(ctx context.Context, provider, eventType, outcome string) {
	s.metrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
	s.recorder.WebhookEvent(provider, outcome)
}
