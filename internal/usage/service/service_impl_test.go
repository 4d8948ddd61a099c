package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/migration"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/agentmarket/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/agentmarket/internal/subscription/service"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	usagerepo "github.com/smallbiznis/agentmarket/internal/usage/repository"
	usageservice "github.com/smallbiznis/agentmarket/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type usageFixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	repo  usagedomain.Repository
	subs  subscriptiondomain.Service
	svc   usagedomain.Service
	node  *snowflake.Node
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	db := setupTestDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC))
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: zap.NewNop(), Clock: fakeClock, Repo: subscriptionrepo.Provide(),
	})
	repo := usagerepo.Provide()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return &usageFixture{
		db:    db,
		clock: fakeClock,
		repo:  repo,
		subs:  subs,
		node:  node,
		svc: usageservice.NewService(usageservice.Params{
			DB: db, Log: zap.NewNop(), Clock: fakeClock, Repo: repo, Subscriptions: subs,
		}),
	}
}

// consume books delta against the current month the same way the gate does.
func (f *usageFixture) consume(t *testing.T, orgID string, delta usagedomain.Delta) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	period, err := f.repo.GetOrCreatePeriod(ctx, f.db, usagedomain.UsagePeriod{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		MonthKey:  usagedomain.MonthKey(now),
		ResetAt:   usagedomain.ResetAt(now),
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	limits := usagedomain.Limits{Credits: 1 << 30, Actions: 1 << 30}
	updated, err := f.repo.IncrementIfWithinLimit(ctx, f.db, *period, delta, limits, now)
	require.NoError(t, err)
	require.NotNil(t, updated)

	require.NoError(t, f.repo.AppendLedger(ctx, f.db, &usagedomain.LedgerEntry{
		ID:          f.node.Generate(),
		OrgID:       orgID,
		PeriodID:    period.ID,
		UserID:      "user-1",
		ActionCount: delta.Actions,
		CreditCount: delta.Credits,
		CreatedAt:   now,
	}))
}

func TestSummaryWithoutConsumption(t *testing.T) {
	f := newUsageFixture(t)

	summary, err := f.svc.Summary(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "FREE", summary.Plan)
	assert.Equal(t, "Free", summary.PlanLabel)
	assert.Equal(t, "2026-05", summary.UsageMonth.MonthKey)
	assert.Equal(t, usagedomain.Limits{Credits: 200, Actions: 50}, summary.Remaining)
	assert.Empty(t, summary.RecentUsage)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), summary.UsageMonth.ResetAt.UTC())

	// Reading must not materialize a period.
	_, err = f.svc.Reconcile(context.Background(), "org-1", "")
	require.ErrorIs(t, err, usagedomain.ErrPeriodNotFound)
}

func TestSummaryReportsRemainingAndRecentEntries(t *testing.T) {
	f := newUsageFixture(t)
	for i := 0; i < 9; i++ {
		f.consume(t, "org-1", usagedomain.Delta{Credits: 10, Actions: 1})
		f.clock.Advance(time.Minute)
	}

	summary, err := f.svc.Summary(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), summary.UsageMonth.CreditsUsed)
	assert.Equal(t, int64(9), summary.UsageMonth.ActionsUsed)
	assert.Equal(t, usagedomain.Limits{Credits: 110, Actions: 41}, summary.Remaining)
	require.Len(t, summary.RecentUsage, 7)
	assert.True(t, summary.RecentUsage[0].CreatedAt.After(summary.RecentUsage[6].CreatedAt))
}

func TestSummaryClampsAfterDowngrade(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	_, err := f.subs.ApplyCheckoutCompleted(ctx, subscriptiondomain.CheckoutCompleted{
		OrgID: "org-1", Plan: "PREMIUM", SubscriptionRef: "sub_1", EventAt: f.clock.Now(),
	})
	require.NoError(t, err)
	f.consume(t, "org-1", usagedomain.Delta{Credits: 500, Actions: 60})

	_, err = f.subs.ApplyProviderUpdate(ctx, subscriptiondomain.ProviderUpdate{
		SubscriptionRef: "sub_1", Plan: "FREE", Status: subscriptiondomain.StatusCanceled, EventAt: f.clock.Now().Add(time.Second),
	})
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "FREE", summary.Plan)
	assert.Equal(t, usagedomain.Limits{}, summary.Remaining)
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newUsageFixture(t)
	f.consume(t, "org-1", usagedomain.Delta{Credits: 5, Actions: 1})
	f.clock.Set(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	f.consume(t, "org-1", usagedomain.Delta{Credits: 7, Actions: 2})
	f.consume(t, "org-2", usagedomain.Delta{Credits: 1, Actions: 1})

	history, err := f.svc.History(context.Background(), "org-1", 12)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-06", history[0].MonthKey)
	assert.Equal(t, int64(7), history[0].CreditsUsed)
	assert.Equal(t, "2026-05", history[1].MonthKey)

	_, err = f.svc.History(context.Background(), "", 12)
	require.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)
}

func TestReconcileDetectsDivergence(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()
	f.consume(t, "org-1", usagedomain.Delta{Credits: 12, Actions: 3})
	f.consume(t, "org-1", usagedomain.Delta{Credits: 8, Actions: 1})

	report, err := f.svc.Reconcile(ctx, "org-1", "2026-05")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(20), report.LedgerCredits)
	assert.Equal(t, int64(2), report.LedgerEntries)

	require.NoError(t, f.db.Exec(`UPDATE usage_periods SET credits_used = credits_used + 1 WHERE org_id = ?`, "org-1").Error)
	report, err = f.svc.Reconcile(ctx, "org-1", "")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(21), report.PeriodCredits)
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
