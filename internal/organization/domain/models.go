// Package domain contains persistence models for organizations and their members.
package domain

import (
	"time"
)

// Organization is the tenant boundary that owns a subscription and usage periods.
type Organization struct {
	ID      string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name    string  `gorm:"type:varchar(120);not null" json:"name"`
	Slug    string  `gorm:"type:varchar(160);not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Website *string `gorm:"type:text" json:"website,omitempty"`
	LogoURL *string `gorm:"type:text;column:logo_url" json:"logo_url,omitempty"`
	// DefaultForUserID is set on the org created during onboarding and keeps it unique per user.
	DefaultForUserID *string   `gorm:"type:varchar(64);uniqueIndex:ux_organizations_default_user" json:"-"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

// Member links a principal to an organization with a role.
type Member struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID     string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_org_members_org_user,priority:1" json:"org_id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_org_members_org_user,priority:2;index:ix_org_members_user" json:"user_id"`
	Email     string    `gorm:"type:varchar(320)" json:"email"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Member) TableName() string { return "organization_members" }

// Invite is a single-use token that grants a role to the invited email.
type Invite struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrgID      string     `gorm:"type:varchar(36);not null;index:ix_org_invites_org" json:"org_id"`
	Email      string     `gorm:"type:varchar(320);not null" json:"email"`
	Role       string     `gorm:"type:varchar(16);not null" json:"role"`
	Token      string     `gorm:"type:varchar(128);not null;uniqueIndex:ux_org_invites_token" json:"-"`
	InvitedBy  string     `gorm:"type:varchar(64);not null" json:"invited_by"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

func (Invite) TableName() string { return "organization_invites" }

// Membership is a member row joined with its organization.
type Membership struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	OrgName   string    `json:"org_name"`
	OrgSlug   string    `json:"org_slug"`
	CreatedAt time.Time `json:"created_at"`
}
