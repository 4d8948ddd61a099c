package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	"github.com/smallbiznis/agentmarket/internal/clock"
	entitlementdomain "github.com/smallbiznis/agentmarket/internal/entitlement/domain"
	"github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"github.com/smallbiznis/agentmarket/internal/observability/tracing"
	"github.com/smallbiznis/agentmarket/internal/plan"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/smallbiznis/agentmarket/internal/usagemetrics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minInputLength = 2
	maxInputLength = 2000
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Repo          rundomain.Repository
	Agents        agentdomain.Service
	Subscriptions subscriptiondomain.Service
	Gate          entitlementdomain.Gate
	Costs         plan.CostPolicy
	Generator     rundomain.OutputGenerator
	Metrics       *metrics.Metrics        `optional:"true"`
	Recorder      *usagemetrics.Recorder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      rundomain.Repository
	agents    agentdomain.Service
	subs      subscriptiondomain.Service
	gate      entitlementdomain.Gate
	costs     plan.CostPolicy
	generator rundomain.OutputGenerator
	metrics   *metrics.Metrics
	recorder  *usagemetrics.Recorder
}

func NewService(p Params) rundomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("run.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		agents:    p.Agents,
		subs:      p.Subscriptions,
		gate:      p.Gate,
		costs:     p.Costs,
		generator: p.Generator,
		metrics:   p.Metrics,
		recorder:  p.Recorder,
	}
}

func (s *Service) Run(ctx context.Context, req rundomain.Request) (*rundomain.Result, error) {
	ctx, span := tracing.Start(ctx, "run.execute", attribute.String("org_id", req.OrgID))
	defer span.End()

	result, planName, err := s.run(ctx, req)
	outcome := runOutcome(err)
	s.metrics.RecordRun(ctx, planName, outcome)
	s.recorder.Run(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, req rundomain.Request) (*rundomain.Result, string, error) {
	orgID := strings.TrimSpace(req.OrgID)
	userID := strings.TrimSpace(req.UserID)
	if orgID == "" || userID == "" {
		return nil, "", rundomain.ErrInvalidOrganization
	}
	agentID := strings.TrimSpace(req.AgentID)
	if _, err := uuid.Parse(agentID); err != nil {
		return nil, "", rundomain.ErrInvalidAgentID
	}
	input := strings.TrimSpace(req.Input)
	if n := utf8.RuneCountInString(input); n < minInputLength || n > maxInputLength {
		return nil, "", rundomain.ErrInvalidInput
	}

	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, "", err
	}
	if agent == nil {
		return nil, "", &rundomain.AgentAccessError{AgentID: agentID, Reason: rundomain.ReasonNotFound}
	}
	if !agent.Runnable() {
		return nil, "", &rundomain.AgentAccessError{AgentID: agentID, Reason: rundomain.ReasonNotPublished}
	}

	currentPlan, err := s.subs.CurrentPlan(ctx, orgID)
	if err != nil {
		return nil, "", err
	}
	if !currentPlan.IsPaid() {
		if agent.PremiumOnly {
			return nil, string(currentPlan), &rundomain.UpgradeRequiredError{Plan: string(currentPlan), Reason: rundomain.ReasonUpgradeRequired}
		}
		if !agent.FreeTryEnabled {
			return nil, string(currentPlan), &rundomain.UpgradeRequiredError{Plan: string(currentPlan), Reason: rundomain.ReasonFreeTryDisabled}
		}
	}

	var override *plan.Cost
	if credits, actions, ok := agent.CostOverride(); ok {
		override = &plan.Cost{Credits: credits, Actions: actions}
	}
	cost := s.costs.CostFor(currentPlan, override)
	output := s.generator.Generate(agent, input)

	record := rundomain.Run{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		UserID:          userID,
		AgentID:         agent.ID,
		Input:           input,
		Output:          output,
		CreditsConsumed: cost.Credits,
		ActionsConsumed: cost.Actions,
	}

	adm, err := s.gate.ReserveWithin(ctx, entitlementdomain.ReserveRequest{
		OrgID:   orgID,
		UserID:  userID,
		AgentID: agent.ID,
		RunID:   record.ID,
		Cost:    cost,
	}, func(tx *gorm.DB, adm *entitlementdomain.Admission) error {
		record.CreatedAt = adm.Period.UpdatedAt
		return s.repo.Insert(ctx, tx, &record)
	})
	if err != nil {
		return nil, string(currentPlan), err
	}

	s.log.Info("agent run completed",
		zap.String("run_id", record.ID),
		zap.String("org_id", orgID),
		zap.String("agent_id", agent.ID),
		zap.String("plan", string(adm.Plan)),
		zap.Int64("credits", cost.Credits),
		zap.Int("attempts", adm.Attempts),
	)

	return &rundomain.Result{
		Run:       record,
		Output:    output,
		RunID:     record.ID,
		AgentSlug: agent.Slug,
		Plan:      string(adm.Plan),
		Remaining: adm.Remaining,
	}, string(adm.Plan), nil
}

func (s *Service) ListRecent(ctx context.Context, orgID string, limit int) ([]rundomain.Response, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, rundomain.ErrInvalidOrganization
	}
	runs, err := s.repo.ListRecent(ctx, s.db, orgID, limit)
	if err != nil {
		return nil, err
	}
	resp := make([]rundomain.Response, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, rundomain.Response{
			ID:              run.ID,
			AgentID:         run.AgentID,
			UserID:          run.UserID,
			Input:           run.Input,
			Output:          run.Output,
			CreditsConsumed: run.CreditsConsumed,
			ActionsConsumed: run.ActionsConsumed,
			CreatedAt:       run.CreatedAt,
		})
	}
	return resp, nil
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, usagedomain.ErrUsageLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, rundomain.ErrUpgradeRequired):
		return "upgrade_required"
	case errors.Is(err, rundomain.ErrAgentUnavailable):
		return "agent_unavailable"
	case errors.Is(err, rundomain.ErrInvalidInput), errors.Is(err, rundomain.ErrInvalidAgentID):
		return "invalid"
	case errors.Is(err, entitlementdomain.ErrContention):
		return "contention"
	default:
		return "error"
	}
}
