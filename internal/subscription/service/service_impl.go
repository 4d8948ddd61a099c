package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CurrentPlan(ctx context.Context, orgID string) (plan.Plan, error) {
	sub, err := s.Get(ctx, orgID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return plan.PlanFree, nil
	}
	p, err := plan.Parse(sub.Plan)
	if err != nil {
		s.log.Warn("unknown plan on subscription, treating as free",
			zap.String("org_id", orgID),
			zap.String("plan", sub.Plan),
		)
		return plan.PlanFree, nil
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*subscriptiondomain.Subscription, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	return s.repo.FindByOrgID(ctx, s.db, orgID, false)
}

// EnsureDefault gives an organization its implicit FREE/ACTIVE row. tx may be nil.
func (s *Service) EnsureDefault(ctx context.Context, tx *gorm.DB, orgID string) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return subscriptiondomain.ErrInvalidOrganization
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.InsertIfMissing(ctx, tx, s.newDefault(orgID))
}

// MarkProvisional records the billing customer at checkout start. Plan and
// status stay untouched until the provider confirms the checkout.
func (s *Service) MarkProvisional(ctx context.Context, orgID, customerRef string) error {
	orgID = strings.TrimSpace(orgID)
	customerRef = strings.TrimSpace(customerRef)
	if orgID == "" {
		return subscriptiondomain.ErrInvalidOrganization
	}
	if customerRef == "" {
		return subscriptiondomain.ErrInvalidCustomerRef
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := s.newDefault(orgID)
		sub.ProviderCustomerRef = &customerRef
		if err := s.repo.InsertIfMissing(ctx, tx, sub); err != nil {
			return err
		}
		return s.repo.SetCustomerRef(ctx, tx, orgID, customerRef, s.clock.Now())
	})
}

func (s *Service) ApplyCheckoutCompleted(ctx context.Context, evt subscriptiondomain.CheckoutCompleted) (subscriptiondomain.ApplyOutcome, error) {
	orgID := strings.TrimSpace(evt.OrgID)
	if orgID == "" {
		return "", subscriptiondomain.ErrInvalidOrganization
	}
	p, err := plan.Parse(evt.Plan)
	if err != nil {
		s.log.Warn("checkout completed with unknown plan, recording free", zap.String("org_id", orgID), zap.String("plan", evt.Plan))
		p = plan.PlanFree
	}

	var outcome subscriptiondomain.ApplyOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertIfMissing(ctx, tx, s.newDefault(orgID)); err != nil {
			return err
		}
		sub, err := s.repo.FindByOrgID(ctx, tx, orgID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if !sub.ShouldApply(evt.EventAt) {
			outcome = subscriptiondomain.OutcomeStale
			return nil
		}

		sub.Plan = string(p)
		sub.Status = subscriptiondomain.StatusActive
		if ref := strings.TrimSpace(evt.CustomerRef); ref != "" {
			sub.ProviderCustomerRef = &ref
		}
		if ref := strings.TrimSpace(evt.SubscriptionRef); ref != "" {
			sub.ProviderSubscriptionRef = &ref
		}
		eventAt := evt.EventAt.UTC()
		sub.LastEventAt = &eventAt
		sub.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		outcome = subscriptiondomain.OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info("checkout completion reconciled",
		zap.String("org_id", orgID),
		zap.String("plan", string(p)),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (s *Service) ApplyProviderUpdate(ctx context.Context, evt subscriptiondomain.ProviderUpdate) (subscriptiondomain.ApplyOutcome, error) {
	ref := strings.TrimSpace(evt.SubscriptionRef)
	if ref == "" {
		return "", subscriptiondomain.ErrInvalidSubscriptionRef
	}
	p, err := plan.Parse(evt.Plan)
	if err != nil {
		p = plan.PlanFree
	}

	var (
		outcome subscriptiondomain.ApplyOutcome
		orgID   string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByProviderRef(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		orgID = sub.OrgID
		if !sub.ShouldApply(evt.EventAt) {
			outcome = subscriptiondomain.OutcomeStale
			return nil
		}

		sub.Plan = string(p)
		sub.Status = evt.Status
		if evt.CurrentPeriodEnd != nil {
			end := evt.CurrentPeriodEnd.UTC()
			sub.CurrentPeriodEnd = &end
		}
		eventAt := evt.EventAt.UTC()
		sub.LastEventAt = &eventAt
		sub.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		outcome = subscriptiondomain.OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info("subscription update reconciled",
		zap.String("org_id", orgID),
		zap.String("plan", string(p)),
		zap.String("status", string(evt.Status)),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (s *Service) newDefault(orgID string) *subscriptiondomain.Subscription {
	now := s.clock.Now()
	return &subscriptiondomain.Subscription{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Plan:      string(plan.PlanFree),
		Status:    subscriptiondomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
