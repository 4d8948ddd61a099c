package repository

import (
	"context"
	"time"

	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() orgdomain.Repository {
	return &repo{}
}

const organizationColumns = `id, name, slug, website, logo_url, default_for_user_id, created_at, updated_at`

func (r *repo) InsertOrganization(ctx context.Context, db *gorm.DB, org *orgdomain.Organization) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organizations (`+organizationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.Website,
		org.LogoURL,
		org.DefaultForUserID,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repo) FindOrganization(ctx context.Context, db *gorm.DB, orgID string) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT `+organizationColumns+` FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == "" {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) FindDefaultOrganization(ctx context.Context, db *gorm.DB, userID string) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT `+organizationColumns+` FROM organizations WHERE default_for_user_id = ?`,
		userID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == "" {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM organizations WHERE slug = ?`, slug).Scan(&count).Error
	return count > 0, err
}

func (r *repo) UpdateOrganization(ctx context.Context, db *gorm.DB, org *orgdomain.Organization) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations SET name = ?, website = ?, logo_url = ?, updated_at = ? WHERE id = ?`,
		org.Name,
		org.Website,
		org.LogoURL,
		org.UpdatedAt,
		org.ID,
	).Error
}

func (r *repo) InsertMember(ctx context.Context, db *gorm.DB, member *orgdomain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, email, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.OrgID,
		member.UserID,
		member.Email,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repo) UpsertMember(ctx context.Context, db *gorm.DB, member *orgdomain.Member) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "email"}),
		}).
		Create(member).Error
}

func (r *repo) FindMember(ctx context.Context, db *gorm.DB, memberID string) (*orgdomain.Member, error) {
	var member orgdomain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, email, role, created_at FROM organization_members WHERE id = ?`,
		memberID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == "" {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) FindMembership(ctx context.Context, db *gorm.DB, userID, orgID string) (*orgdomain.Membership, error) {
	query := `SELECT m.id, m.user_id, m.org_id, m.email, m.role, m.created_at, o.name AS org_name, o.slug AS org_slug
		 FROM organization_members m
		 JOIN organizations o ON o.id = m.org_id
		 WHERE m.user_id = ?`
	args := []any{userID}
	if orgID != "" {
		query += ` AND m.org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY m.created_at ASC, m.id ASC LIMIT 1`

	var membership orgdomain.Membership
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&membership).Error; err != nil {
		return nil, err
	}
	if membership.ID == "" {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) ListMembers(ctx context.Context, db *gorm.DB, orgID string) ([]orgdomain.Member, error) {
	var members []orgdomain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, email, role, created_at
		 FROM organization_members WHERE org_id = ? ORDER BY created_at ASC`,
		orgID,
	).Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) UpdateMemberRole(ctx context.Context, db *gorm.DB, memberID, role string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organization_members SET role = ? WHERE id = ?`,
		role,
		memberID,
	).Error
}

func (r *repo) DeleteMember(ctx context.Context, db *gorm.DB, memberID string) error {
	return db.WithContext(ctx).Exec(`DELETE FROM organization_members WHERE id = ?`, memberID).Error
}

func (r *repo) InsertInvite(ctx context.Context, db *gorm.DB, invite *orgdomain.Invite) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organization_invites (id, org_id, email, role, token, invited_by, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		invite.ID,
		invite.OrgID,
		invite.Email,
		invite.Role,
		invite.Token,
		invite.InvitedBy,
		invite.ExpiresAt,
		invite.CreatedAt,
	).Error
}

func (r *repo) FindInviteByToken(ctx context.Context, db *gorm.DB, token string) (*orgdomain.Invite, error) {
	var invite orgdomain.Invite
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, email, role, token, invited_by, expires_at, accepted_at, created_at
		 FROM organization_invites WHERE token = ?`,
		token,
	).Scan(&invite).Error
	if err != nil {
		return nil, err
	}
	if invite.ID == "" {
		return nil, nil
	}
	return &invite, nil
}

// MarkInviteAccepted returns false when the invite was already accepted.
func (r *repo) MarkInviteAccepted(ctx context.Context, db *gorm.DB, inviteID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organization_invites SET accepted_at = ? WHERE id = ? AND accepted_at IS NULL`,
		at,
		inviteID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
