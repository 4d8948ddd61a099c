package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/orgcontext"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Suffixes -2 through -11 are tried before falling back to a timestamp.
const slugSuffixAttempts = 10

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  agentdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  agentdomain.Repository
}

func NewService(p Params) agentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("agent.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req agentdomain.UpsertRequest) (*agentdomain.Response, error) {
	principal, err := s.authorAdmin(ctx)
	if err != nil {
		return nil, err
	}
	agent, err := buildAgent(req)
	if err != nil {
		return nil, err
	}

	agent.Slug, err = s.uniqueSlug(ctx, agent.Name, "")
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	agent.ID = uuid.NewString()
	agent.OrgID = principal.OrgID
	agent.IsPublished = false
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := s.repo.Insert(ctx, s.db, agent); err != nil {
		return nil, err
	}
	s.log.Info("agent created", zap.String("agent_id", agent.ID), zap.String("org_id", agent.OrgID), zap.String("slug", agent.Slug))
	return toResponse(agent), nil
}

func (s *Service) Update(ctx context.Context, id string, req agentdomain.UpsertRequest) (*agentdomain.Response, error) {
	principal, err := s.authorAdmin(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.owned(ctx, principal.OrgID, id)
	if err != nil {
		return nil, err
	}
	next, err := buildAgent(req)
	if err != nil {
		return nil, err
	}

	next.ID = current.ID
	next.OrgID = current.OrgID
	next.IsPublished = current.IsPublished
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.clock.Now()
	next.Slug = current.Slug
	if next.Name != current.Name {
		next.Slug, err = s.uniqueSlug(ctx, next.Name, current.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, s.db, next); err != nil {
		return nil, err
	}
	return toResponse(next), nil
}

func (s *Service) SetPublished(ctx context.Context, id string, published bool) error {
	principal, err := s.authorAdmin(ctx)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return agentdomain.ErrInvalidID
	}
	ok, err := s.repo.SetPublished(ctx, s.db, principal.OrgID, strings.TrimSpace(id), published, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return agentdomain.ErrNotFound
	}
	s.log.Info("agent publish state changed", zap.String("agent_id", id), zap.Bool("published", published))
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	principal, err := s.authorAdmin(ctx)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return agentdomain.ErrInvalidID
	}
	ok, err := s.repo.Delete(ctx, s.db, principal.OrgID, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !ok {
		return agentdomain.ErrNotFound
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*agentdomain.Agent, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, agentdomain.ErrInvalidID
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) ListPublished(ctx context.Context, req agentdomain.ListRequest) ([]agentdomain.Response, error) {
	agents, err := s.repo.ListPublished(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	return toResponses(agents), nil
}

func (s *Service) ListOwned(ctx context.Context) ([]agentdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, agentdomain.ErrInvalidOrganization
	}
	agents, err := s.repo.ListByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	return toResponses(agents), nil
}

func (s *Service) authorAdmin(ctx context.Context) (orgcontext.Principal, error) {
	principal, ok := orgcontext.PrincipalFromContext(ctx)
	if !ok || principal.OrgID == "" {
		return orgcontext.Principal{}, agentdomain.ErrInvalidOrganization
	}
	if !orgdomain.HasRequiredRole(principal.Role, orgdomain.RoleAdmin) {
		return orgcontext.Principal{}, agentdomain.ErrForbidden
	}
	return principal, nil
}

func (s *Service) owned(ctx context.Context, orgID, id string) (*agentdomain.Agent, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, agentdomain.ErrInvalidID
	}
	agent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if agent == nil || agent.OrgID != orgID {
		return nil, agentdomain.ErrNotFound
	}
	return agent, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name, selfID string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = fmt.Sprintf("agent-%d", s.clock.Now().Unix())
	}

	candidate := base
	for attempt := 0; attempt <= slugSuffixAttempts; attempt++ {
		owner, err := s.repo.FindSlugOwner(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if owner == "" || owner == selfID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt+2)
	}
	return fmt.Sprintf("%s-%d", base, s.clock.Now().UnixMilli()), nil
}

func buildAgent(req agentdomain.UpsertRequest) (*agentdomain.Agent, error) {
	name := strings.TrimSpace(req.Name)
	if !lengthBetween(name, 2, 80) {
		return nil, agentdomain.ErrInvalidName
	}
	category := strings.TrimSpace(req.Category)
	if !lengthBetween(category, 2, 40) {
		return nil, agentdomain.ErrInvalidCategory
	}
	tags := splitTags(req.Tags)
	if len(tags) == 0 {
		return nil, agentdomain.ErrInvalidTags
	}
	short := strings.TrimSpace(req.ShortDescription)
	if !lengthBetween(short, 10, 180) {
		return nil, agentdomain.ErrInvalidShortDesc
	}
	long := strings.TrimSpace(req.LongDescription)
	if !lengthBetween(long, 30, 3000) {
		return nil, agentdomain.ErrInvalidLongDesc
	}
	if (req.RunCreditCost == nil) != (req.RunActionCost == nil) {
		return nil, agentdomain.ErrInvalidRunCost
	}
	if req.RunCreditCost != nil && (*req.RunCreditCost < 0 || *req.RunActionCost < 0) {
		return nil, agentdomain.ErrInvalidRunCost
	}

	return &agentdomain.Agent{
		Name:             name,
		Category:         category,
		Tags:             datatypes.NewJSONSlice(tags),
		ShortDescription: short,
		LongDescription:  long,
		IsFeatured:       req.IsFeatured,
		PremiumOnly:      req.PremiumOnly,
		// Premium-only listings never offer a free trial.
		FreeTryEnabled: req.FreeTryEnabled && !req.PremiumOnly,
		RunCreditCost:  req.RunCreditCost,
		RunActionCost:  req.RunActionCost,
	}, nil
}

func splitTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, tag := range strings.Split(entry, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func lengthBetween(value string, min, max int) bool {
	n := utf8.RuneCountInString(value)
	return n >= min && n <= max
}

func toResponses(agents []agentdomain.Agent) []agentdomain.Response {
	resp := make([]agentdomain.Response, 0, len(agents))
	for i := range agents {
		resp = append(resp, *toResponse(&agents[i]))
	}
	return resp
}

func toResponse(agent *agentdomain.Agent) *agentdomain.Response {
	return &agentdomain.Response{
		ID:               agent.ID,
		OrgID:            agent.OrgID,
		Name:             agent.Name,
		Slug:             agent.Slug,
		Category:         agent.Category,
		Tags:             []string(agent.Tags),
		ShortDescription: agent.ShortDescription,
		LongDescription:  agent.LongDescription,
		IsFeatured:       agent.IsFeatured,
		IsPublished:      agent.IsPublished,
		FreeTryEnabled:   agent.FreeTryEnabled,
		PremiumOnly:      agent.PremiumOnly,
		RunCreditCost:    agent.RunCreditCost,
		RunActionCost:    agent.RunActionCost,
		CreatedAt:        agent.CreatedAt,
		UpdatedAt:        agent.UpdatedAt,
	}
}
