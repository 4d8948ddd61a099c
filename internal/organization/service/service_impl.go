package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand/v2"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/agentmarket/internal/clock"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"github.com/smallbiznis/agentmarket/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	slugAttempts     = 8
	inviteTokenBytes = 24
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Repo          orgdomain.Repository
	Subscriptions subscriptiondomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  orgdomain.Repository
	subs  subscriptiondomain.Service
}

func NewService(p Params) orgdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		clock: p.Clock,
		repo:  p.Repo,
		subs:  p.Subscriptions,
	}
}

func (s *Service) EnsureDefaultOrg(ctx context.Context, req orgdomain.EnsureDefaultOrgRequest) (*orgdomain.EnsureDefaultOrgResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, orgdomain.ErrInvalidUser
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := s.repo.FindMembership(ctx, s.db, userID, "")
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &orgdomain.EnsureDefaultOrgResponse{Membership: *existing}, nil
	}

	name := strings.TrimSpace(req.Name)
	display := name
	if display == "" {
		display = "My"
	}
	base := slug.Make(name)
	if base == "" {
		base = "my-organization"
	}

	orgSlug, err := s.uniqueSlug(ctx, base)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	org := &orgdomain.Organization{
		ID:               uuid.NewString(),
		Name:             display + " Org",
		Slug:             orgSlug,
		DefaultForUserID: &userID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	member := &orgdomain.Member{
		ID:        uuid.NewString(),
		OrgID:     org.ID,
		UserID:    userID,
		Email:     email,
		Role:      orgdomain.RoleOwner,
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertOrganization(ctx, tx, org); err != nil {
			return err
		}
		if err := s.repo.InsertMember(ctx, tx, member); err != nil {
			return err
		}
		return s.subs.EnsureDefault(ctx, tx, org.ID)
	})
	if err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// A concurrent onboarding of the same user won; use its organization.
		winner, findErr := s.repo.FindMembership(ctx, s.db, userID, "")
		if findErr != nil {
			return nil, findErr
		}
		if winner == nil {
			return nil, err
		}
		return &orgdomain.EnsureDefaultOrgResponse{Membership: *winner}, nil
	}

	s.log.Info("default organization created",
		zap.String("org_id", org.ID),
		zap.String("user_id", userID),
		zap.String("slug", org.Slug),
	)

	return &orgdomain.EnsureDefaultOrgResponse{
		Membership: orgdomain.Membership{
			ID:        member.ID,
			UserID:    userID,
			OrgID:     org.ID,
			Email:     email,
			Role:      member.Role,
			OrgName:   org.Name,
			OrgSlug:   org.Slug,
			CreatedAt: now,
		},
		Created: true,
	}, nil
}

func (s *Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	for attempt := 0; attempt < slugAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-%d", base, mathrand.IntN(10000))
		taken, err := s.repo.SlugExists(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", orgdomain.ErrSlugExhausted
}

func (s *Service) MembershipFor(ctx context.Context, userID, orgID string) (*orgdomain.Membership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, orgdomain.ErrInvalidUser
	}
	orgID = strings.TrimSpace(orgID)

	membership, err := s.repo.FindMembership(ctx, s.db, userID, orgID)
	if err != nil {
		return nil, err
	}
	if membership == nil && orgID != "" {
		membership, err = s.repo.FindMembership(ctx, s.db, userID, "")
		if err != nil {
			return nil, err
		}
	}
	if membership == nil {
		return nil, orgdomain.ErrNoMembership
	}
	return membership, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*orgdomain.OrganizationResponse, error) {
	org, err := s.loadOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toOrganizationResponse(org), nil
}

func (s *Service) UpdateProfile(ctx context.Context, req orgdomain.UpdateProfileRequest) (*orgdomain.OrganizationResponse, error) {
	if !orgdomain.HasRequiredRole(req.ActorRole, orgdomain.RoleAdmin) {
		return nil, orgdomain.ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 120 {
		return nil, orgdomain.ErrInvalidName
	}
	website, err := optionalURL(req.Website)
	if err != nil {
		return nil, err
	}
	logoURL, err := optionalURL(req.LogoURL)
	if err != nil {
		return nil, err
	}

	org, err := s.loadOrganization(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	org.Name = name
	org.Website = website
	org.LogoURL = logoURL
	org.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateOrganization(ctx, s.db, org); err != nil {
		return nil, err
	}
	return toOrganizationResponse(org), nil
}

func (s *Service) ListMembers(ctx context.Context, orgID string) ([]orgdomain.MemberResponse, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, orgdomain.ErrInvalidOrganization
	}
	members, err := s.repo.ListMembers(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	resp := make([]orgdomain.MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, orgdomain.MemberResponse{
			ID:        m.ID,
			UserID:    m.UserID,
			Email:     m.Email,
			Role:      m.Role,
			CreatedAt: m.CreatedAt,
		})
	}
	return resp, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, req orgdomain.UpdateMemberRoleRequest) error {
	if !orgdomain.HasRequiredRole(req.ActorRole, orgdomain.RoleOwner) {
		return orgdomain.ErrForbidden
	}
	role, err := orgdomain.ParseRole(req.Role)
	if err != nil {
		return err
	}
	target, err := s.memberInOrg(ctx, req.OrgID, req.MemberID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateMemberRole(ctx, s.db, target.ID, role); err != nil {
		return err
	}
	s.log.Info("member role updated",
		zap.String("org_id", target.OrgID),
		zap.String("member_id", target.ID),
		zap.String("role", role),
	)
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, req orgdomain.RemoveMemberRequest) error {
	if !orgdomain.HasRequiredRole(req.ActorRole, orgdomain.RoleOwner) {
		return orgdomain.ErrForbidden
	}
	target, err := s.memberInOrg(ctx, req.OrgID, req.MemberID)
	if err != nil {
		return err
	}
	if target.UserID == strings.TrimSpace(req.ActorUserID) {
		return orgdomain.ErrOwnerSelfRemoval
	}
	if err := s.repo.DeleteMember(ctx, s.db, target.ID); err != nil {
		return err
	}
	s.log.Info("member removed", zap.String("org_id", target.OrgID), zap.String("member_id", target.ID))
	return nil
}

func (s *Service) CreateInvite(ctx context.Context, req orgdomain.CreateInviteRequest) (*orgdomain.InviteResponse, error) {
	if !orgdomain.HasRequiredRole(req.ActorRole, orgdomain.RoleAdmin) {
		return nil, orgdomain.ErrForbidden
	}
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, orgdomain.ErrInvalidOrganization
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role, err := orgdomain.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invite := &orgdomain.Invite{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Email:     email,
		Role:      role,
		Token:     token,
		InvitedBy: strings.TrimSpace(req.ActorUserID),
		ExpiresAt: now.Add(orgdomain.InviteTTL),
		CreatedAt: now,
	}
	if err := s.repo.InsertInvite(ctx, s.db, invite); err != nil {
		return nil, err
	}

	return &orgdomain.InviteResponse{
		ID:        invite.ID,
		Email:     invite.Email,
		Role:      invite.Role,
		Token:     invite.Token,
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

func (s *Service) AcceptInvite(ctx context.Context, req orgdomain.AcceptInviteRequest) (*orgdomain.Membership, error) {
	token := strings.TrimSpace(req.Token)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, orgdomain.ErrInvalidUser
	}
	if len(token) < 8 {
		return nil, orgdomain.ErrInviteInvalid
	}

	invite, err := s.repo.FindInviteByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if invite == nil || invite.AcceptedAt != nil || invite.ExpiresAt.Before(now) {
		return nil, orgdomain.ErrInviteInvalid
	}
	if !strings.EqualFold(strings.TrimSpace(invite.Email), strings.TrimSpace(req.Email)) {
		return nil, orgdomain.ErrInviteEmailMismatch
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accepted, err := s.repo.MarkInviteAccepted(ctx, tx, invite.ID, now)
		if err != nil {
			return err
		}
		if !accepted {
			return orgdomain.ErrInviteInvalid
		}
		return s.repo.UpsertMember(ctx, tx, &orgdomain.Member{
			ID:        uuid.NewString(),
			OrgID:     invite.OrgID,
			UserID:    userID,
			Email:     strings.ToLower(invite.Email),
			Role:      invite.Role,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	membership, err := s.repo.FindMembership(ctx, s.db, userID, invite.OrgID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, orgdomain.ErrMembershipNotFound
	}
	return membership, nil
}

func (s *Service) loadOrganization(ctx context.Context, orgID string) (*orgdomain.Organization, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, orgdomain.ErrInvalidOrganization
	}
	org, err := s.repo.FindOrganization(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	return org, nil
}

func (s *Service) memberInOrg(ctx context.Context, orgID, memberID string) (*orgdomain.Member, error) {
	memberID = strings.TrimSpace(memberID)
	if _, err := uuid.Parse(memberID); err != nil {
		return nil, orgdomain.ErrInvalidMember
	}
	target, err := s.repo.FindMember(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}
	if target == nil || target.OrgID != strings.TrimSpace(orgID) {
		return nil, orgdomain.ErrMembershipNotFound
	}
	return target, nil
}

func toOrganizationResponse(org *orgdomain.Organization) *orgdomain.OrganizationResponse {
	return &orgdomain.OrganizationResponse{
		ID:        org.ID,
		Name:      org.Name,
		Slug:      org.Slug,
		Website:   org.Website,
		LogoURL:   org.LogoURL,
		CreatedAt: org.CreatedAt,
		UpdatedAt: org.UpdatedAt,
	}
}

func optionalURL(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil, nil
	}
	parsed, err := url.ParseRequestURI(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, orgdomain.ErrInvalidURL
	}
	return &value, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", orgdomain.ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
