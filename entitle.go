package entitle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/types"
)

// Defaults applied by New.
const (
	DefaultEndingSoonDays = 7
	DefaultSweepInterval  = time.Minute
	DefaultLockTTL        = 55 * time.Second
)

// Engine is the entitlement and usage-quota engine. It wires the catalog,
// lifecycle, quota and scheduler components over one store.
type Engine struct {
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	clock     func() time.Time
	resolvers *Resolvers

	emitter        signal.Emitter
	locker         lock.Locker
	lockTTL        time.Duration
	endingSoonDays int
	sweepInterval  time.Duration
	sweepObserver  func(SweepReport, error)
	skipMigrate    bool

	catalog   *Catalog
	lifecycle *Lifecycle
	quota     *Quota
	scheduler *Scheduler

	optErrs []error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		clock:          time.Now,
		resolvers:      NewResolvers(),
		emitter:        signal.Noop{},
		lockTTL:        DefaultLockTTL,
		endingSoonDays: DefaultEndingSoonDays,
	}

	for _, opt := range opts {
		opt(e)
	}

	c := &core{store: e.store, plugins: e.plugins, logger: e.logger, clock: e.clock}
	e.catalog = &Catalog{core: c}
	e.quota = &Quota{core: c}
	e.lifecycle = &Lifecycle{core: c, resolvers: e.resolvers}
	e.scheduler = &Scheduler{
		core:           c,
		emitter:        e.emitter,
		locker:         e.locker,
		lockTTL:        e.lockTTL,
		endingSoonDays: e.endingSoonDays,
		observe:        e.sweepObserver,
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithClock replaces time.Now. Every time-dependent decision reads this
// clock, which makes the engine deterministic under test.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithPlugin registers a plugin. Registration failures surface from Start.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.optErrs = append(e.optErrs, err)
		}
	}
}

// WithEmitter sets where scheduler signals are delivered.
func WithEmitter(em signal.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithLocker guards each sweep pass with l. ttl bounds how long a crashed
// sweeper can hold a pass; zero keeps DefaultLockTTL.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithEndingSoonDays sets the ending-soon lookahead. Start fails for a
// non-positive value.
func WithEndingSoonDays(days int) Option {
	return func(e *Engine) {
		if days <= 0 {
			e.optErrs = append(e.optErrs, invalid("ending_soon_days", "must be positive, got %d", days))
			return
		}
		e.endingSoonDays = days
	}
}

// WithSweepObserver registers fn to receive the outcome of every sweep run
// by Scheduler.Run. Sweeps aborted by cancellation are not reported.
func WithSweepObserver(fn func(SweepReport, error)) Option {
	return func(e *Engine) { e.sweepObserver = fn }
}

// WithSweepInterval makes Start run the scheduler in the background every
// d. Zero, the default, leaves sweeping to the host.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// WithoutMigrate makes Start leave the schema alone.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithResolver registers a subscriber resolver for a Ref type tag.
func WithResolver(typ string, r Resolver) Option {
	return func(e *Engine) { e.resolvers.Register(typ, r) }
}

// Start migrates the store unless WithoutMigrate was given, initializes
// plugins and, when a sweep interval is configured, starts the background
// scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if len(e.optErrs) > 0 {
		return errors.Join(e.optErrs...)
	}

	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.sweepInterval > 0 {
		runCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.Run(runCtx, e.sweepInterval)
		}()
	}

	e.logger.Info("entitle started",
		"ending_soon_days", e.endingSoonDays,
		"sweep_interval", e.sweepInterval,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop halts the background scheduler, shuts plugins down and closes the
// store.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}

	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Catalog manages plans, features and their entitlements.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Lifecycle manages subscriptions.
func (e *Engine) Lifecycle() *Lifecycle { return e.lifecycle }

// Quota answers usage questions for one subscription.
func (e *Engine) Quota() *Quota { return e.quota }

// Scheduler detects subscription boundary crossings.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Subscriber aggregates quota questions across the active subscriptions of
// ref.
func (e *Engine) Subscriber(ref types.Ref) *Subscriber {
	return &Subscriber{ref: ref, lifecycle: e.lifecycle, quota: e.quota}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Resolvers returns the subscriber resolver registry.
func (e *Engine) Resolvers() *Resolvers { return e.resolvers }

// Now returns the engine clock reading in UTC.
func (e *Engine) Now() time.Time { return e.clock().UTC() }

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// core is the state shared by every component.
type core struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time
}

func (c *core) now() time.Time { return c.clock().UTC() }
