package entitle_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx   context.Context
	eng   *entitle.Engine
	store *memory.Store
	clock *testClock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...entitle.Option) *fixture {
	t.Helper()
	mem := memory.New()
	return newFixtureOn(t, mem, mem, opts...)
}

// newFixtureOn builds the engine on s, which may wrap mem.
func newFixtureOn(t *testing.T, s store.Store, mem *memory.Store, opts ...entitle.Option) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		store: mem,
		clock: &testClock{t: epoch},
	}
	base := []entitle.Option{
		entitle.WithClock(f.clock.Now),
		entitle.WithLogger(quietLogger()),
	}
	f.eng = entitle.New(s, append(base, opts...)...)
	return f
}

func (f *fixture) plan(t *testing.T, slug string, reset *period.Period) *plan.Plan {
	t.Helper()
	p := &plan.Plan{Slug: slug, Name: entitle.T(slug), Active: true, ResetPeriod: reset}
	require.NoError(t, f.eng.Catalog().CreatePlan(f.ctx, p))
	return p
}

func (f *fixture) feature(t *testing.T, slug string, typ feature.Type) *feature.Feature {
	t.Helper()
	ft := &feature.Feature{Slug: slug, Name: entitle.T(slug), Type: typ}
	require.NoError(t, f.eng.Catalog().CreateFeature(f.ctx, ft))
	return ft
}

func (f *fixture) grant(t *testing.T, p *plan.Plan, ft *feature.Feature, v entitlement.Value, reset *period.Period) *entitlement.Entitlement {
	t.Helper()
	ent, err := f.eng.Catalog().Grant(f.ctx, p.ID, ft.ID, v, entitle.GrantOptions{ResetPeriod: reset})
	require.NoError(t, err)
	return ent
}

// collector records emitted signals.
type collector struct {
	mu      sync.Mutex
	signals []signal.Signal
	fail    error
}

func (c *collector) Emit(_ context.Context, s signal.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.signals = append(c.signals, s)
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signals)
}

type initPlugin struct {
	mu       sync.Mutex
	inited   bool
	shutdown bool
}

func (p *initPlugin) Name() string { return "init-recorder" }

func (p *initPlugin) OnInit(_ context.Context, engine any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, p.inited = engine.(*entitle.Engine)
	return nil
}

func (p *initPlugin) OnShutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	return nil
}

func TestEngine_StartStop(t *testing.T) {
	plug := &initPlugin{}
	f := newFixture(t, entitle.WithPlugin(plug))

	require.NoError(t, f.eng.Start(f.ctx))
	assert.True(t, plug.inited, "OnInit receives the engine")
	assert.NoError(t, f.eng.Ping(f.ctx))

	require.NoError(t, f.eng.Stop(f.ctx))
	assert.True(t, plug.shutdown)
	assert.ErrorIs(t, f.eng.Ping(f.ctx), entitle.ErrStoreClosed)
}

func TestEngine_DuplicatePluginFailsStart(t *testing.T) {
	f := newFixture(t,
		entitle.WithPlugin(&initPlugin{}),
		entitle.WithPlugin(&initPlugin{}),
	)

	err := f.eng.Start(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestEngine_Defaults(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, entitle.DefaultEndingSoonDays, f.eng.Scheduler().EndingSoonDays())
	assert.Equal(t, epoch, f.eng.Now())
	assert.Same(t, f.store, f.eng.Store())
	assert.Equal(t, 0, f.eng.Resolvers().Len())

	g := newFixture(t, entitle.WithEndingSoonDays(3))
	assert.Equal(t, 3, g.eng.Scheduler().EndingSoonDays())
}

func TestEngine_RejectsNonPositiveLookahead(t *testing.T) {
	for _, days := range []int{0, -1} {
		f := newFixture(t, entitle.WithEndingSoonDays(days))
		err := f.eng.Start(f.ctx)
		require.Error(t, err, "days=%d", days)
		assert.ErrorIs(t, err, entitle.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "ending_soon_days")
	}
}

func TestEngine_BackgroundSweep(t *testing.T) {
	sink := &collector{}
	f := newFixture(t,
		entitle.WithEmitter(sink),
		entitle.WithSweepInterval(10*time.Millisecond),
	)

	p := f.plan(t, "pro", nil)
	end := epoch.Add(time.Hour)
	_, err := f.eng.Lifecycle().Subscribe(f.ctx, entitle.NewRef("user", "1"), p.ID, entitle.SubscribeOptions{EndAt: &end})
	require.NoError(t, err)

	require.NoError(t, f.eng.Start(f.ctx))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.eng.Stop(f.ctx))

	// Further ticks would be deduplicated anyway; the loop must have exited.
	assert.Equal(t, 1, sink.Len())
}

func TestEngine_SweepObserver(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []entitle.SweepReport
	)
	f := newFixture(t,
		entitle.WithSweepInterval(10*time.Millisecond),
		entitle.WithSweepObserver(func(r entitle.SweepReport, err error) {
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, r)
		}),
	)

	p := f.plan(t, "pro", nil)
	end := epoch.Add(time.Hour)
	_, err := f.eng.Lifecycle().Subscribe(f.ctx, entitle.NewRef("user", "1"), p.ID, entitle.SubscribeOptions{EndAt: &end})
	require.NoError(t, err)

	require.NoError(t, f.eng.Start(f.ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.eng.Stop(f.ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, reports[0].EndingSoon.Emitted)
	assert.Equal(t, 1, reports[1].EndingSoon.Skipped)
}

func TestEvery(t *testing.T) {
	p := entitle.Every(2, period.Week)
	assert.Equal(t, period.Period{Count: 2, Unit: period.Week}, *p)

	assert.Panics(t, func() { entitle.Every(-1, period.Day) })
	assert.Panics(t, func() { entitle.Every(1, period.Unit("fortnight")) })
}
