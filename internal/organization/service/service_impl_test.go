package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/migration"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	orgrepo "github.com/smallbiznis/agentmarket/internal/organization/repository"
	orgservice "github.com/smallbiznis/agentmarket/internal/organization/service"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/agentmarket/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/agentmarket/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newOrgService(t *testing.T) (orgdomain.Service, subscriptiondomain.Service, *clock.FakeClock) {
	t.Helper()
	db := setupTestDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: zap.NewNop(), Clock: fakeClock, Repo: subscriptionrepo.Provide(),
	})
	orgs := orgservice.NewService(orgservice.Params{
		DB: db, Log: zap.NewNop(), Clock: fakeClock, Repo: orgrepo.Provide(), Subscriptions: subs,
	})
	return orgs, subs, fakeClock
}

func TestEnsureDefaultOrgIsIdempotent(t *testing.T) {
	orgs, subs, _ := newOrgService(t)
	ctx := context.Background()

	first, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-1", Email: "Ada@Example.test", Name: "Ada Lovelace"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "Ada Lovelace Org", first.Membership.OrgName)
	assert.True(t, strings.HasPrefix(first.Membership.OrgSlug, "ada-lovelace-"), first.Membership.OrgSlug)
	assert.Equal(t, orgdomain.RoleOwner, first.Membership.Role)
	assert.Equal(t, "ada@example.test", first.Membership.Email)

	second, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-1", Name: "Ada Lovelace"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Membership.OrgID, second.Membership.OrgID)

	sub, err := subs.Get(ctx, first.Membership.OrgID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, string(plan.PlanFree), sub.Plan)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
}

func TestEnsureDefaultOrgConcurrentCallsCreateOneOrg(t *testing.T) {
	orgs, _, _ := newOrgService(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan string, callers)
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-race", Name: "Race"})
			if err != nil {
				errCh <- err
				return
			}
			results <- resp.Membership.OrgID
		}()
	}
	wg.Wait()
	close(results)
	close(errCh)
	for err := range errCh {
		t.Fatalf("ensure default org: %v", err)
	}

	seen := map[string]bool{}
	for id := range results {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestEnsureDefaultOrgSlugCollision(t *testing.T) {
	orgs, _, _ := newOrgService(t)
	ctx := context.Background()

	a, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-a", Name: "Sam"})
	require.NoError(t, err)
	b, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-b", Name: "Sam"})
	require.NoError(t, err)
	anon, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "u-c"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Membership.OrgSlug, b.Membership.OrgSlug)
	assert.Equal(t, "My Org", anon.Membership.OrgName)
	assert.Contains(t, anon.Membership.OrgSlug, "my-organization")
}

func TestInviteLifecycle(t *testing.T) {
	orgs, _, fakeClock := newOrgService(t)
	ctx := context.Background()

	owner, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "owner", Name: "Acme"})
	require.NoError(t, err)
	orgID := owner.Membership.OrgID

	_, err = orgs.CreateInvite(ctx, orgdomain.CreateInviteRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleMember, Email: "x@acme.test", Role: "MEMBER"})
	require.ErrorIs(t, err, orgdomain.ErrForbidden)

	_, err = orgs.CreateInvite(ctx, orgdomain.CreateInviteRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, Email: "not an email", Role: "MEMBER"})
	require.ErrorIs(t, err, orgdomain.ErrInvalidEmail)

	invite, err := orgs.CreateInvite(ctx, orgdomain.CreateInviteRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, Email: "New@Acme.test", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "new@acme.test", invite.Email)
	assert.Equal(t, orgdomain.RoleAdmin, invite.Role)

	_, err = orgs.AcceptInvite(ctx, orgdomain.AcceptInviteRequest{Token: invite.Token, UserID: "newbie", Email: "other@acme.test"})
	require.ErrorIs(t, err, orgdomain.ErrInviteEmailMismatch)

	membership, err := orgs.AcceptInvite(ctx, orgdomain.AcceptInviteRequest{Token: invite.Token, UserID: "newbie", Email: "new@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, orgID, membership.OrgID)
	assert.Equal(t, orgdomain.RoleAdmin, membership.Role)

	_, err = orgs.AcceptInvite(ctx, orgdomain.AcceptInviteRequest{Token: invite.Token, UserID: "newbie", Email: "new@acme.test"})
	require.ErrorIs(t, err, orgdomain.ErrInviteInvalid)

	expiring, err := orgs.CreateInvite(ctx, orgdomain.CreateInviteRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, Email: "late@acme.test", Role: "MEMBER"})
	require.NoError(t, err)
	fakeClock.Advance(orgdomain.InviteTTL + time.Minute)
	_, err = orgs.AcceptInvite(ctx, orgdomain.AcceptInviteRequest{Token: expiring.Token, UserID: "late", Email: "late@acme.test"})
	require.ErrorIs(t, err, orgdomain.ErrInviteInvalid)
}

func TestMemberManagementRequiresOwner(t *testing.T) {
	orgs, _, _ := newOrgService(t)
	ctx := context.Background()

	owner, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "owner", Name: "Acme"})
	require.NoError(t, err)
	orgID := owner.Membership.OrgID

	invite, err := orgs.CreateInvite(ctx, orgdomain.CreateInviteRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, Email: "m@acme.test", Role: "MEMBER"})
	require.NoError(t, err)
	member, err := orgs.AcceptInvite(ctx, orgdomain.AcceptInviteRequest{Token: invite.Token, UserID: "member", Email: "m@acme.test"})
	require.NoError(t, err)

	err = orgs.UpdateMemberRole(ctx, orgdomain.UpdateMemberRoleRequest{OrgID: orgID, ActorUserID: "member", ActorRole: orgdomain.RoleAdmin, MemberID: member.ID, Role: "OWNER"})
	require.ErrorIs(t, err, orgdomain.ErrForbidden)

	err = orgs.UpdateMemberRole(ctx, orgdomain.UpdateMemberRoleRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, MemberID: member.ID, Role: "ADMIN"})
	require.NoError(t, err)

	members, err := orgs.ListMembers(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	err = orgs.RemoveMember(ctx, orgdomain.RemoveMemberRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, MemberID: owner.Membership.ID})
	require.ErrorIs(t, err, orgdomain.ErrOwnerSelfRemoval)

	err = orgs.RemoveMember(ctx, orgdomain.RemoveMemberRequest{OrgID: "other-org", ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, MemberID: member.ID})
	require.ErrorIs(t, err, orgdomain.ErrMembershipNotFound)

	err = orgs.RemoveMember(ctx, orgdomain.RemoveMemberRequest{OrgID: orgID, ActorUserID: "owner", ActorRole: orgdomain.RoleOwner, MemberID: member.ID})
	require.NoError(t, err)

	_, err = orgs.MembershipFor(ctx, "member", orgID)
	require.ErrorIs(t, err, orgdomain.ErrNoMembership)
}

func TestUpdateProfile(t *testing.T) {
	orgs, _, _ := newOrgService(t)
	ctx := context.Background()

	owner, err := orgs.EnsureDefaultOrg(ctx, orgdomain.EnsureDefaultOrgRequest{UserID: "owner", Name: "Acme"})
	require.NoError(t, err)
	orgID := owner.Membership.OrgID
	site := "https://acme.test"
	bad := "ftp://acme.test"

	_, err = orgs.UpdateProfile(ctx, orgdomain.UpdateProfileRequest{OrgID: orgID, ActorRole: orgdomain.RoleAdmin, Name: "Acme Inc", Website: &bad})
	require.ErrorIs(t, err, orgdomain.ErrInvalidURL)

	_, err = orgs.UpdateProfile(ctx, orgdomain.UpdateProfileRequest{OrgID: orgID, ActorRole: orgdomain.RoleMember, Name: "Acme Inc"})
	require.ErrorIs(t, err, orgdomain.ErrForbidden)

	updated, err := orgs.UpdateProfile(ctx, orgdomain.UpdateProfileRequest{OrgID: orgID, ActorRole: orgdomain.RoleAdmin, Name: " Acme Inc ", Website: &site})
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", updated.Name)
	require.NotNil(t, updated.Website)
	assert.Equal(t, site, *updated.Website)
	assert.Equal(t, owner.Membership.OrgSlug, updated.Slug)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}
