package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store/sqlite"
	"github.com/xraph/entitle/subscription"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type engineFixture struct {
	ctx     context.Context
	store   *sqlite.Store
	eng     *entitle.Engine
	clock   *clock
	mu      sync.Mutex
	signals []signal.Signal
}

// newEngineFixture runs an engine over a file-backed SQLite database. An
// in-memory DSN would give each pooled connection its own database.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	drv := sqlitedriver.New()
	require.NoError(t, drv.Open(ctx, filepath.Join(t.TempDir(), "entitle.db"), driver.WithPoolSize(1)))
	db, err := grove.Open(drv)
	require.NoError(t, err)

	f := &engineFixture{
		ctx:   ctx,
		store: sqlite.New(db),
		clock: &clock{t: epoch},
	}
	f.eng = entitle.New(f.store,
		entitle.WithClock(f.clock.Now),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithEmitter(signal.Func(func(_ context.Context, s signal.Signal) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.signals = append(f.signals, s)
			return nil
		})),
	)
	require.NoError(t, f.eng.Start(ctx))
	t.Cleanup(func() { _ = f.eng.Stop(context.Background()) })
	return f
}

func (f *engineFixture) emitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func (f *engineFixture) meteredPlan(t *testing.T, slug string, planReset, quotaReset *period.Period, limit float64) (*plan.Plan, *feature.Feature) {
	t.Helper()
	cat := f.eng.Catalog()

	p := &plan.Plan{Slug: slug, Name: entitle.T(slug), Active: true, ResetPeriod: planReset}
	require.NoError(t, cat.CreatePlan(f.ctx, p))
	ft := &feature.Feature{Slug: slug + "-calls", Name: entitle.T("Calls"), Type: feature.Consumable}
	require.NoError(t, cat.CreateFeature(f.ctx, ft))
	_, err := cat.Grant(f.ctx, p.ID, ft.ID, entitle.Limit(limit), entitle.GrantOptions{ResetPeriod: quotaReset})
	require.NoError(t, err)
	return p, ft
}

func TestEngineOnSQLite_MigrateIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.store.Migrate(f.ctx))
	require.NoError(t, f.store.Ping(f.ctx))
}

func TestEngineOnSQLite_RollingQuota(t *testing.T) {
	f := newEngineFixture(t)
	p, ft := f.meteredPlan(t, "pro", nil, entitle.Every(60, period.Minute), 5)
	customer := f.eng.Subscriber(entitle.NewRef("user", "u_1"))
	_, err := customer.Subscribe(f.ctx, p.ID, entitle.SubscribeOptions{})
	require.NoError(t, err)

	slug := ft.Slug

	next, err := customer.NextAvailable(f.ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, entitle.Availability{Kind: entitle.AvailabilityAt, At: epoch}, next, "empty window is available now")

	_, err = customer.Use(f.ctx, slug, 2)
	require.NoError(t, err)
	first := f.clock.Now()

	f.clock.Advance(10 * time.Minute)
	_, err = customer.Use(f.ctx, slug, 3)
	require.NoError(t, err)

	rem, err := customer.Remaining(f.ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rem)

	_, err = customer.Use(f.ctx, slug, 1)
	assert.ErrorIs(t, err, entitle.ErrFeatureNotUsable)

	next, err = customer.NextAvailable(f.ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, entitle.AvailabilityAt, next.Kind)
	assert.Equal(t, first.Add(time.Hour), next.At)

	// The first entry leaves the window after an hour.
	f.clock.Advance(51 * time.Minute)
	rem, err = customer.Remaining(f.ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, 2.0, rem)

	f.clock.Advance(10 * time.Minute)
	rem, err = customer.Remaining(f.ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, 5.0, rem)
}

func TestEngineOnSQLite_LifetimeQuota(t *testing.T) {
	f := newEngineFixture(t)
	p, ft := f.meteredPlan(t, "starter", nil, nil, 3)
	customer := f.eng.Subscriber(entitle.NewRef("user", "u_2"))
	_, err := customer.Subscribe(f.ctx, p.ID, entitle.SubscribeOptions{})
	require.NoError(t, err)

	_, err = customer.Use(f.ctx, ft.Slug, 3)
	require.NoError(t, err)

	// A lifetime cap counts usage from the zero time onwards.
	f.clock.Advance(365 * 24 * time.Hour)
	rem, err := customer.Remaining(f.ctx, ft.Slug)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rem)

	next, err := customer.NextAvailable(f.ctx, ft.Slug)
	require.NoError(t, err)
	assert.Equal(t, entitle.AvailabilityNotResettable, next.Kind)
}

func TestEngineOnSQLite_DuplicateSlug(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.eng.Catalog().CreatePlan(f.ctx, &plan.Plan{Slug: "pro", Active: true}))

	err := f.eng.Catalog().CreatePlan(f.ctx, &plan.Plan{Slug: "pro", Active: true})
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)
}

func TestEngineOnSQLite_Sweep(t *testing.T) {
	f := newEngineFixture(t)
	p, _ := f.meteredPlan(t, "monthly", entitle.Every(1, period.Month), nil, 1)
	lc := f.eng.Lifecycle()

	endsSoon := epoch.Add(3 * 24 * time.Hour)
	soon, err := lc.Subscribe(f.ctx, entitle.NewRef("user", "soon"), p.ID, entitle.SubscribeOptions{EndAt: &endsSoon})
	require.NoError(t, err)
	_, err = lc.Subscribe(f.ctx, entitle.NewRef("user", "later"), p.ID, entitle.SubscribeOptions{})
	require.NoError(t, err)

	ending, err := f.store.ListSubscriptionsEndingBetween(f.ctx, epoch, epoch.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, ending, 1)
	assert.Equal(t, soon.ID, ending[0].ID)

	report, err := f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EndingSoon.Emitted)
	assert.Equal(t, 0, report.Ended.Candidates)

	exists, err := f.store.EventExists(f.ctx, event.ForSubscription(soon.ID), event.TypeSubscriptionEndingSoon, epoch.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, exists)

	// The ledger deduplicates the next sweep.
	report, err = f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EndingSoon.Emitted)
	assert.Equal(t, 1, report.EndingSoon.Skipped)

	// Crossing the end fires exactly one ended signal.
	f.clock.Advance(3*24*time.Hour + time.Minute)
	report, err = f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ended.Emitted)

	report, err = f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Ended.Emitted)
	assert.Equal(t, 2, f.emitted())

	got, err := lc.GetSubscription(f.ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, lc.Status(got))
}
