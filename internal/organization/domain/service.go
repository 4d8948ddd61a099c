package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// EnsureDefaultOrg returns the caller's first membership, creating an
	// organization, OWNER membership and FREE subscription when none exists.
	EnsureDefaultOrg(ctx context.Context, req EnsureDefaultOrgRequest) (*EnsureDefaultOrgResponse, error)
	MembershipFor(ctx context.Context, userID, orgID string) (*Membership, error)
	Get(ctx context.Context, orgID string) (*OrganizationResponse, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*OrganizationResponse, error)
	ListMembers(ctx context.Context, orgID string) ([]MemberResponse, error)
	UpdateMemberRole(ctx context.Context, req UpdateMemberRoleRequest) error
	RemoveMember(ctx context.Context, req RemoveMemberRequest) error
	CreateInvite(ctx context.Context, req CreateInviteRequest) (*InviteResponse, error)
	AcceptInvite(ctx context.Context, req AcceptInviteRequest) (*Membership, error)
}

type EnsureDefaultOrgRequest struct {
	UserID string
	Email  string
	Name   string
}

type EnsureDefaultOrgResponse struct {
	Membership Membership `json:"membership"`
	Created    bool       `json:"created"`
}

type UpdateProfileRequest struct {
	OrgID     string  `json:"-"`
	ActorRole string  `json:"-"`
	Name      string  `json:"name"`
	Website   *string `json:"website"`
	LogoURL   *string `json:"logoUrl"`
}

// Actor fields identify the caller; the HTTP boundary fills them from the authenticated principal.
type UpdateMemberRoleRequest struct {
	OrgID       string `json:"-"`
	ActorUserID string `json:"-"`
	ActorRole   string `json:"-"`
	MemberID    string `json:"-"`
	Role        string `json:"role"`
}

type RemoveMemberRequest struct {
	OrgID       string
	ActorUserID string
	ActorRole   string
	MemberID    string
}

type CreateInviteRequest struct {
	OrgID       string `json:"-"`
	ActorUserID string `json:"-"`
	ActorRole   string `json:"-"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type AcceptInviteRequest struct {
	Token  string
	UserID string
	Email  string
}

type OrganizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Website   *string   `json:"website,omitempty"`
	LogoURL   *string   `json:"logoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MemberResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type InviteResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const InviteTTL = 7 * 24 * time.Hour

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidURL           = errors.New("invalid_url")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrInvalidMember        = errors.New("invalid_member")
	ErrForbidden            = errors.New("forbidden")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrMembershipNotFound   = errors.New("membership_not_found")
	ErrNoMembership         = errors.New("no_org_membership")
	ErrOwnerSelfRemoval     = errors.New("owner_remove_self_not_allowed")
	ErrInviteInvalid        = errors.New("invite_invalid")
	ErrInviteEmailMismatch  = errors.New("invite_email_mismatch")
	ErrSlugExhausted        = errors.New("organization_slug_exhausted")
)
