package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	InsertOrganization(ctx context.Context, db *gorm.DB, org *Organization) error
	FindOrganization(ctx context.Context, db *gorm.DB, orgID string) (*Organization, error)
	FindDefaultOrganization(ctx context.Context, db *gorm.DB, userID string) (*Organization, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	UpdateOrganization(ctx context.Context, db *gorm.DB, org *Organization) error

	InsertMember(ctx context.Context, db *gorm.DB, member *Member) error
	// UpsertMember keeps the existing row id and updates role and email on (org, user) conflict.
	UpsertMember(ctx context.Context, db *gorm.DB, member *Member) error
	FindMember(ctx context.Context, db *gorm.DB, memberID string) (*Member, error)
	// FindMembership returns the oldest membership of userID, restricted to orgID when set.
	FindMembership(ctx context.Context, db *gorm.DB, userID, orgID string) (*Membership, error)
	ListMembers(ctx context.Context, db *gorm.DB, orgID string) ([]Member, error)
	UpdateMemberRole(ctx context.Context, db *gorm.DB, memberID, role string) error
	DeleteMember(ctx context.Context, db *gorm.DB, memberID string) error

	InsertInvite(ctx context.Context, db *gorm.DB, invite *Invite) error
	FindInviteByToken(ctx context.Context, db *gorm.DB, token string) (*Invite, error)
	MarkInviteAccepted(ctx context.Context, db *gorm.DB, inviteID string, at time.Time) (bool, error)
}
