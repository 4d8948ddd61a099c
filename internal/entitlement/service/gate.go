package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	entitlementdomain "github.com/smallbiznis/agentmarket/internal/entitlement/domain"
	"github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"github.com/smallbiznis/agentmarket/internal/observability/tracing"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/smallbiznis/agentmarket/internal/usagemetrics"
	pkgdb "github.com/smallbiznis/agentmarket/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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
	Usage         usagedomain.Repository
	Subscriptions subscriptiondomain.Service
	Metering      *config.MeteringConfigHolder
	Metrics       *metrics.Metrics        `optional:"true"`
	Recorder      *usagemetrics.Recorder `optional:"true"`
}

type Gate struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	usage    usagedomain.Repository
	subs     subscriptiondomain.Service
	metering *config.MeteringConfigHolder
	metrics  *metrics.Metrics
	recorder *usagemetrics.Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewGate(p Params) entitlementdomain.Gate {
	return newGate(p)
}

func newGate(p Params) *Gate {
	return &Gate{
		db:       p.DB,
		log:      p.Log.Named("entitlement.gate"),
		clock:    p.Clock,
		genID:    p.GenID,
		usage:    p.Usage,
		subs:     p.Subscriptions,
		metering: p.Metering,
		metrics:  p.Metrics,
		recorder: p.Recorder,
		sleep:    sleepContext,
	}
}

func (g *Gate) Reserve(ctx context.Context, req entitlementdomain.ReserveRequest) (*entitlementdomain.Admission, error) {
	return g.ReserveWithin(ctx, req, nil)
}

func (g *Gate) ReserveWithin(ctx context.Context, req entitlementdomain.ReserveRequest, fn func(tx *gorm.DB, adm *entitlementdomain.Admission) error) (*entitlementdomain.Admission, error) {
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.OrgID == "" || req.UserID == "" {
		return nil, entitlementdomain.ErrInvalidRequest
	}
	if req.Cost.Credits < 0 || req.Cost.Actions < 0 {
		return nil, usagedomain.ErrInvalidDelta
	}

	ctx, span := tracing.Start(ctx, "entitlement.reserve",
		attribute.String("org_id", req.OrgID),
		attribute.Int64("credits", req.Cost.Credits),
		attribute.Int64("actions", req.Cost.Actions),
	)
	defer span.End()

	currentPlan, err := g.subs.CurrentPlan(ctx, req.OrgID)
	if err != nil {
		span.SetStatus(codes.Error, "plan_lookup_failed")
		return nil, err
	}
	quota := plan.QuotaFor(currentPlan)
	limits := usagedomain.Limits{Credits: quota.CreditLimit, Actions: quota.ActionLimit}
	delta := usagedomain.Delta{Credits: req.Cost.Credits, Actions: req.Cost.Actions}
	policy := g.reservationPolicy()
	span.SetAttributes(attribute.String("plan", string(currentPlan)))

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		adm, err := g.attempt(ctx, req, currentPlan, limits, delta, fn)
		if err == nil {
			adm.Attempts = attempt
			g.metrics.RecordReservation(ctx, string(currentPlan), "admitted", delta.Credits)
			g.recorder.Admitted(string(currentPlan), delta.Credits, delta.Actions)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return adm, nil
		}

		var limitErr *usagedomain.LimitExceededError
		switch {
		case errors.As(err, &limitErr):
			limitErr.Plan = string(currentPlan)
			g.metrics.RecordReservation(ctx, string(currentPlan), "limit_exceeded", 0)
			g.recorder.Denied(string(currentPlan), "limit_exceeded")
			g.log.Info("reservation denied",
				zap.String("org_id", req.OrgID),
				zap.String("plan", string(currentPlan)),
				zap.String("resource", limitErr.Resource()),
			)
			span.SetAttributes(attribute.String("outcome", "limit_exceeded"))
			return nil, limitErr
		case errors.Is(err, usagedomain.ErrVersionConflict), pkgdb.IsLockContention(err):
			g.log.Debug("reservation lost a race, retrying",
				zap.String("org_id", req.OrgID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			g.metrics.RecordReservationRetry(ctx, string(currentPlan))
			g.recorder.Conflict(string(currentPlan))
			if attempt == policy.MaxAttempts {
				break
			}
			if err := g.sleep(ctx, backoff(policy, attempt)); err != nil {
				return nil, err
			}
		default:
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "reservation_failed")
			return nil, err
		}
	}

	g.metrics.RecordReservation(ctx, string(currentPlan), "contention", 0)
	g.recorder.Denied(string(currentPlan), "contention")
	g.log.Warn("reservation retries exhausted",
		zap.String("org_id", req.OrgID),
		zap.Int("attempts", policy.MaxAttempts),
	)
	span.SetStatus(codes.Error, "contention")
	return nil, entitlementdomain.ErrContention
}

func (g *Gate) attempt(
	ctx context.Context,
	req entitlementdomain.ReserveRequest,
	currentPlan plan.Plan,
	limits usagedomain.Limits,
	delta usagedomain.Delta,
	fn func(tx *gorm.DB, adm *entitlementdomain.Admission) error,
) (*entitlementdomain.Admission, error) {
	now := g.clock.Now()
	period, err := g.usage.GetOrCreatePeriod(ctx, g.db, usagedomain.UsagePeriod{
		ID:        uuid.NewString(),
		OrgID:     req.OrgID,
		MonthKey:  usagedomain.MonthKey(now),
		ResetAt:   usagedomain.ResetAt(now),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	var adm *entitlementdomain.Admission
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := g.usage.FindPeriodByID(ctx, tx, period.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return usagedomain.ErrPeriodNotFound
		}

		used := usagedomain.Limits{Credits: current.CreditsUsed, Actions: current.ActionsUsed}
		if usagedomain.Exceeds(limits, used, delta) {
			return &usagedomain.LimitExceededError{Limits: limits, Used: used, Requested: delta}
		}

		updated, err := g.usage.IncrementIfWithinLimit(ctx, tx, *current, delta, limits, now)
		if err != nil {
			return err
		}

		entry := &usagedomain.LedgerEntry{
			ID:          g.genID.Generate(),
			OrgID:       req.OrgID,
			PeriodID:    updated.ID,
			UserID:      req.UserID,
			AgentID:     optional(req.AgentID),
			RunID:       optional(req.RunID),
			ActionCount: delta.Actions,
			CreditCount: delta.Credits,
			CreatedAt:   now,
		}
		if err := g.usage.AppendLedger(ctx, tx, entry); err != nil {
			return err
		}

		adm = &entitlementdomain.Admission{
			Plan:          currentPlan,
			Limits:        limits,
			Period:        *updated,
			Remaining:     usagedomain.Remaining(limits, *updated),
			LedgerEntryID: entry.ID,
		}
		if fn != nil {
			return fn(tx, adm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adm, nil
}

func (g *Gate) reservationPolicy() config.ReservationConfig {
	policy := config.DefaultMeteringConfig().Reservation
	if g.metering != nil {
		policy = g.metering.Get().Reservation
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return policy
}

// backoff is exponential with full jitter, capped at policy.MaxBackoff.
func backoff(policy config.ReservationConfig, attempt int) time.Duration {
	if policy.BaseBackoff <= 0 {
		return 0
	}
	ceiling := policy.BaseBackoff << min(attempt-1, 16)
	if policy.MaxBackoff > 0 && ceiling > policy.MaxBackoff {
		ceiling = policy.MaxBackoff
	}
	if ceiling <= 0 {
		return 0
	}
	return rand.N(ceiling + 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
