package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	entitlementdomain "github.com/smallbiznis/agentmarket/internal/entitlement/domain"
	"github.com/smallbiznis/agentmarket/internal/migration"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/agentmarket/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/agentmarket/internal/subscription/service"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	usagerepo "github.com/smallbiznis/agentmarket/internal/usage/repository"
	pkgdb "github.com/smallbiznis/agentmarket/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gateFixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	usage usagedomain.Repository
	subs  subscriptiondomain.Service
	gate  *Gate
}

func newGateFixture(t *testing.T, usage usagedomain.Repository, reservation config.ReservationConfig) *gateFixture {
	t.Helper()
	return newGateFixtureWithDB(t, setupTestDB(t), usage, reservation)
}

func newGateFixtureWithDB(t *testing.T, db *gorm.DB, usage usagedomain.Repository, reservation config.ReservationConfig) *gateFixture {
	t.Helper()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	if usage == nil {
		usage = usagerepo.Provide()
	}
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fakeClock,
		Repo:  subscriptionrepo.Provide(),
	})

	metering := config.DefaultMeteringConfig()
	if reservation.MaxAttempts > 0 {
		metering.Reservation = reservation
	}

	gate := newGate(Params{
		DB:            db,
		Log:           zap.NewNop(),
		Clock:         fakeClock,
		GenID:         node,
		Usage:         usage,
		Subscriptions: subs,
		Metering:      config.NewStaticMeteringConfigHolder(metering),
	})
	gate.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return &gateFixture{db: db, clock: fakeClock, usage: usage, subs: subs, gate: gate}
}

func TestReserveAdmitsAndReportsRemaining(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})

	adm, err := f.gate.Reserve(context.Background(), entitlementdomain.ReserveRequest{
		OrgID:   "org-1",
		UserID:  "user-1",
		AgentID: "agent-1",
		Cost:    plan.Cost{Credits: 5, Actions: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, plan.PlanFree, adm.Plan)
	assert.Equal(t, usagedomain.Limits{Credits: 200, Actions: 50}, adm.Limits)
	assert.Equal(t, usagedomain.Limits{Credits: 195, Actions: 49}, adm.Remaining)
	assert.Equal(t, "2026-01", adm.Period.MonthKey)
	assert.Equal(t, int64(1), adm.Period.Version)
	assert.Equal(t, 1, adm.Attempts)
	assert.NotZero(t, adm.LedgerEntryID)
}

func TestReserveRejectsInvalidRequests(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	ctx := context.Background()

	_, err := f.gate.Reserve(ctx, entitlementdomain.ReserveRequest{UserID: "user-1", Cost: plan.Cost{Credits: 1}})
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidRequest)

	_, err = f.gate.Reserve(ctx, entitlementdomain.ReserveRequest{OrgID: "org-1", UserID: "user-1", Cost: plan.Cost{Credits: -1}})
	require.ErrorIs(t, err, usagedomain.ErrInvalidDelta)
}

func TestReserveConcurrentNeverOvershoots(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{MaxAttempts: 64})
	assertConcurrentReservationsFit(t, f, 60)
}

func TestReserveConcurrentNeverOvershootsOnFileDatabase(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	db, err := pkgdb.Open(pkgdb.Params{
		Lifecycle: lc,
		Config: pkgdb.Config{
			Type:        pkgdb.TypePureSQLite,
			Name:        "agentmarket",
			Path:        filepath.Join(t.TempDir(), "gate.db"),
			MaxOpenConn: 50,
			MaxIdleConn: 10,
		},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)
	require.NoError(t, migration.AutoMigrate(db))

	f := newGateFixtureWithDB(t, db, nil, config.ReservationConfig{
		MaxAttempts: 64,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	})
	f.gate.sleep = sleepContext
	assertConcurrentReservationsFit(t, f, 40)
}

// assertConcurrentReservationsFit fires workers reservations of 7 credits on a
// FREE org at once and checks that exactly floor(200/7) are admitted.
func assertConcurrentReservationsFit(t *testing.T, f *gateFixture, workers int) {
	t.Helper()

	ctx := context.Background()
	cost := plan.Cost{Credits: 7, Actions: 1}

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		denied   atomic.Int64
	)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gate.Reserve(ctx, entitlementdomain.ReserveRequest{
				OrgID:  "org-1",
				UserID: fmt.Sprintf("user-%d", i),
				Cost:   cost,
			})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, usagedomain.ErrUsageLimitExceeded):
				denied.Add(1)
			default:
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected reservation error: %v", err)
	}

	// FREE allows 200 credits; 200/7 runs fit.
	require.Equal(t, int64(28), admitted.Load())
	require.Equal(t, int64(workers-28), denied.Load())

	period, err := f.usage.FindPeriod(ctx, f.db, "org-1", "2026-01")
	require.NoError(t, err)
	require.NotNil(t, period)
	require.Equal(t, int64(28*7), period.CreditsUsed)
	require.Equal(t, int64(28), period.ActionsUsed)

	totals, err := f.usage.SumLedger(ctx, f.db, period.ID)
	require.NoError(t, err)
	require.Equal(t, period.CreditsUsed, totals.Credits)
	require.Equal(t, period.ActionsUsed, totals.Actions)
	require.Equal(t, int64(28), totals.Entries)
}

func TestReserveDenialLeavesStateUntouched(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	ctx := context.Background()
	req := entitlementdomain.ReserveRequest{OrgID: "org-1", UserID: "user-1", Cost: plan.Cost{Credits: 150, Actions: 1}}

	_, err := f.gate.Reserve(ctx, req)
	require.NoError(t, err)

	before, err := f.usage.FindPeriod(ctx, f.db, "org-1", "2026-01")
	require.NoError(t, err)

	_, err = f.gate.Reserve(ctx, req)
	require.ErrorIs(t, err, usagedomain.ErrUsageLimitExceeded)

	var limitErr *usagedomain.LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, string(plan.PlanFree), limitErr.Plan)
	assert.Equal(t, "credits", limitErr.Resource())

	after, err := f.usage.FindPeriod(ctx, f.db, "org-1", "2026-01")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.CreditsUsed, after.CreditsUsed)

	totals, err := f.usage.SumLedger(ctx, f.db, after.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Entries)
}

func TestReserveExactlyAtLimitIsAdmitted(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	adm, err := f.gate.Reserve(context.Background(), entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 200, Actions: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.Limits{}, adm.Remaining)
}

func TestReserveUsesPaidPlanQuota(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	ctx := context.Background()

	_, err := f.subs.ApplyCheckoutCompleted(ctx, subscriptiondomain.CheckoutCompleted{
		OrgID:   "org-1",
		Plan:    string(plan.PlanPremium),
		EventAt: f.clock.Now(),
	})
	require.NoError(t, err)

	adm, err := f.gate.Reserve(ctx, entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 500, Actions: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, plan.PlanPremium, adm.Plan)
	assert.Equal(t, usagedomain.Limits{Credits: 1500, Actions: 490}, adm.Remaining)
}

func TestReserveRollsOverAtMonthBoundary(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	ctx := context.Background()
	f.clock.Set(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC))
	req := entitlementdomain.ReserveRequest{OrgID: "org-1", UserID: "user-1", Cost: plan.Cost{Credits: 200, Actions: 1}}

	jan, err := f.gate.Reserve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2026-01", jan.Period.MonthKey)
	assert.True(t, jan.Period.ResetAt.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	_, err = f.gate.Reserve(ctx, req)
	require.ErrorIs(t, err, usagedomain.ErrUsageLimitExceeded)

	f.clock.Advance(2 * time.Second)
	feb, err := f.gate.Reserve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2026-02", feb.Period.MonthKey)
	assert.NotEqual(t, jan.Period.ID, feb.Period.ID)
	assert.Equal(t, int64(200), feb.Period.CreditsUsed)

	janAfter, err := f.usage.FindPeriod(ctx, f.db, "org-1", "2026-01")
	require.NoError(t, err)
	assert.Equal(t, int64(200), janAfter.CreditsUsed)
}

func TestReserveWithinRollsBackOnCallbackError(t *testing.T) {
	f := newGateFixture(t, nil, config.ReservationConfig{})
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := f.gate.ReserveWithin(ctx, entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 5, Actions: 1},
	}, func(tx *gorm.DB, adm *entitlementdomain.Admission) error {
		require.Equal(t, int64(5), adm.Period.CreditsUsed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	period, err := f.usage.FindPeriod(ctx, f.db, "org-1", "2026-01")
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, int64(0), period.CreditsUsed)
	assert.Equal(t, int64(0), period.Version)

	totals, err := f.usage.SumLedger(ctx, f.db, period.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Entries)
}

// conflictingRepo fails the first n compare-and-swaps as if another writer won.
type conflictingRepo struct {
	usagedomain.Repository
	remaining atomic.Int64
	calls     atomic.Int64
}

func (r *conflictingRepo) IncrementIfWithinLimit(ctx context.Context, db *gorm.DB, period usagedomain.UsagePeriod, delta usagedomain.Delta, limits usagedomain.Limits, now time.Time) (*usagedomain.UsagePeriod, error) {
	r.calls.Add(1)
	if r.remaining.Add(-1) >= 0 {
		return nil, usagedomain.ErrVersionConflict
	}
	return r.Repository.IncrementIfWithinLimit(ctx, db, period, delta, limits, now)
}

func TestReserveRetriesVersionConflicts(t *testing.T) {
	repo := &conflictingRepo{Repository: usagerepo.Provide()}
	repo.remaining.Store(2)
	f := newGateFixture(t, repo, config.ReservationConfig{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})

	var sleeps []time.Duration
	f.gate.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	adm, err := f.gate.Reserve(context.Background(), entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 5, Actions: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, adm.Attempts)
	assert.Equal(t, int64(3), repo.calls.Load())
	require.Len(t, sleeps, 2)
	for _, d := range sleeps {
		assert.LessOrEqual(t, d, 4*time.Millisecond)
	}
}

// lockedRepo fails the first n compare-and-swaps the way sqlite reports a held write lock.
type lockedRepo struct {
	usagedomain.Repository
	remaining atomic.Int64
	calls     atomic.Int64
}

func (r *lockedRepo) IncrementIfWithinLimit(ctx context.Context, db *gorm.DB, period usagedomain.UsagePeriod, delta usagedomain.Delta, limits usagedomain.Limits, now time.Time) (*usagedomain.UsagePeriod, error) {
	r.calls.Add(1)
	if r.remaining.Add(-1) >= 0 {
		return nil, errors.New("database is locked (5) (SQLITE_BUSY)")
	}
	return r.Repository.IncrementIfWithinLimit(ctx, db, period, delta, limits, now)
}

func TestReserveRetriesLockContention(t *testing.T) {
	repo := &lockedRepo{Repository: usagerepo.Provide()}
	repo.remaining.Store(2)
	f := newGateFixture(t, repo, config.ReservationConfig{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	adm, err := f.gate.Reserve(context.Background(), entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 5, Actions: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, adm.Attempts)
	assert.Equal(t, int64(3), repo.calls.Load())
	assert.Equal(t, int64(5), adm.Period.CreditsUsed)
}

func TestReserveReportsContentionWhenRetriesExhausted(t *testing.T) {
	repo := &conflictingRepo{Repository: usagerepo.Provide()}
	repo.remaining.Store(100)
	f := newGateFixture(t, repo, config.ReservationConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	_, err := f.gate.Reserve(context.Background(), entitlementdomain.ReserveRequest{
		OrgID:  "org-1",
		UserID: "user-1",
		Cost:   plan.Cost{Credits: 5, Actions: 1},
	})
	require.ErrorIs(t, err, entitlementdomain.ErrContention)
	assert.Equal(t, int64(3), repo.calls.Load())

	period, err := f.usage.FindPeriod(context.Background(), f.db, "org-1", "2026-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), period.CreditsUsed)
}

func TestBackoffStaysWithinCeiling(t *testing.T) {
	policy := config.ReservationConfig{MaxAttempts: 8, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}
	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoff(policy, attempt)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, 40*time.Millisecond)
		}
	}
	require.Zero(t, backoff(config.ReservationConfig{}, 3))
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
