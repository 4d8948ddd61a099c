package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recentUsageLimit = 7

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Repo          usagedomain.Repository
	Subscriptions subscriptiondomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  usagedomain.Repository
	subs  subscriptiondomain.Service
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.service"),
		clock: p.Clock,
		repo:  p.Repo,
		subs:  p.Subscriptions,
	}
}

// Summary reads the current period without creating it. A month with no
// consumption yet reports zero usage.
func (s *Service) Summary(ctx context.Context, orgID string) (*usagedomain.SummaryResponse, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, usagedomain.ErrInvalidOrganization
	}

	current, err := s.subs.CurrentPlan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	quota := plan.QuotaFor(current)
	limits := usagedomain.Limits{Credits: quota.CreditLimit, Actions: quota.ActionLimit}

	now := s.clock.Now()
	monthKey := usagedomain.MonthKey(now)
	period, err := s.repo.FindPeriod(ctx, s.db, orgID, monthKey)
	if err != nil {
		return nil, err
	}
	if period == nil {
		period = &usagedomain.UsagePeriod{OrgID: orgID, MonthKey: monthKey, ResetAt: usagedomain.ResetAt(now)}
	}

	monthStart := usagedomain.ResetAt(now).AddDate(0, -1, 0)
	entries, err := s.repo.RecentLedger(ctx, s.db, orgID, monthStart, period.ResetAt, recentUsageLimit)
	if err != nil {
		return nil, err
	}

	recent := make([]usagedomain.RecentUsage, 0, len(entries))
	for _, entry := range entries {
		recent = append(recent, usagedomain.RecentUsage{
			ID:          entry.ID.String(),
			UserID:      entry.UserID,
			AgentID:     entry.AgentID,
			RunID:       entry.RunID,
			CreditCount: entry.CreditCount,
			ActionCount: entry.ActionCount,
			CreatedAt:   entry.CreatedAt,
		})
	}

	return &usagedomain.SummaryResponse{
		Plan:      string(current),
		PlanLabel: quota.Label,
		Limits:    limits,
		UsageMonth: usagedomain.UsageMonth{
			MonthKey:    period.MonthKey,
			CreditsUsed: period.CreditsUsed,
			ActionsUsed: period.ActionsUsed,
			ResetAt:     period.ResetAt,
		},
		Remaining:   usagedomain.Remaining(limits, *period),
		RecentUsage: recent,
	}, nil
}

func (s *Service) History(ctx context.Context, orgID string, months int) ([]usagedomain.PeriodResponse, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, usagedomain.ErrInvalidOrganization
	}
	periods, err := s.repo.ListPeriods(ctx, s.db, orgID, months)
	if err != nil {
		return nil, err
	}
	resp := make([]usagedomain.PeriodResponse, 0, len(periods))
	for _, p := range periods {
		resp = append(resp, usagedomain.PeriodResponse{
			UsageMonth: usagedomain.UsageMonth{
				MonthKey:    p.MonthKey,
				CreditsUsed: p.CreditsUsed,
				ActionsUsed: p.ActionsUsed,
				ResetAt:     p.ResetAt,
			},
			Version: p.Version,
		})
	}
	return resp, nil
}

// Reconcile checks that a period's counters equal the sum of its ledger rows.
func (s *Service) Reconcile(ctx context.Context, orgID, monthKey string) (*usagedomain.ReconcileResponse, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(monthKey) == "" {
		monthKey = usagedomain.MonthKey(s.clock.Now())
	}

	period, err := s.repo.FindPeriod(ctx, s.db, orgID, monthKey)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, usagedomain.ErrPeriodNotFound
	}

	totals, err := s.repo.SumLedger(ctx, s.db, period.ID)
	if err != nil {
		return nil, err
	}

	resp := &usagedomain.ReconcileResponse{
		MonthKey:      monthKey,
		PeriodCredits: period.CreditsUsed,
		PeriodActions: period.ActionsUsed,
		LedgerCredits: totals.Credits,
		LedgerActions: totals.Actions,
		LedgerEntries: totals.Entries,
		Consistent:    totals.Credits == period.CreditsUsed && totals.Actions == period.ActionsUsed,
	}
	if !resp.Consistent {
		s.log.Error("usage ledger diverged from period counters",
			zap.String("org_id", orgID),
			zap.String("month", monthKey),
			zap.Int64("period_credits", period.CreditsUsed),
			zap.Int64("ledger_credits", totals.Credits),
		)
	}
	return resp, nil
}

// IsLimitExceeded unwraps a LimitExceededError.
func IsLimitExceeded(err error) (*usagedomain.LimitExceededError, bool) {
	var limitErr *usagedomain.LimitExceededError
	if errors.As(err, &limitErr) {
		return limitErr, true
	}
	return nil, false
}
