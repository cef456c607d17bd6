package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/subscription"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                   []OnInit
	onShutdown               []OnShutdown
	onPlanCreated            []OnPlanCreated
	onPlanUpdated            []OnPlanUpdated
	onPlanDeleted            []OnPlanDeleted
	onFeatureCreated         []OnFeatureCreated
	onEntitlementGranted     []OnEntitlementGranted
	onEntitlementRevoked     []OnEntitlementRevoked
	onSubscriptionCreated    []OnSubscriptionCreated
	onSubscriptionCancelled  []OnSubscriptionCancelled
	onSubscriptionResumed    []OnSubscriptionResumed
	onSubscriptionEnded      []OnSubscriptionEnded
	onSubscriptionEndingSoon []OnSubscriptionEndingSoon
	onUsageRecorded          []OnUsageRecorded
	onUsageDenied            []OnUsageDenied
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnPlanUpdated); ok {
		r.onPlanUpdated = append(r.onPlanUpdated, v)
	}
	if v, ok := p.(OnPlanDeleted); ok {
		r.onPlanDeleted = append(r.onPlanDeleted, v)
	}
	if v, ok := p.(OnFeatureCreated); ok {
		r.onFeatureCreated = append(r.onFeatureCreated, v)
	}
	if v, ok := p.(OnEntitlementGranted); ok {
		r.onEntitlementGranted = append(r.onEntitlementGranted, v)
	}
	if v, ok := p.(OnEntitlementRevoked); ok {
		r.onEntitlementRevoked = append(r.onEntitlementRevoked, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionCancelled); ok {
		r.onSubscriptionCancelled = append(r.onSubscriptionCancelled, v)
	}
	if v, ok := p.(OnSubscriptionResumed); ok {
		r.onSubscriptionResumed = append(r.onSubscriptionResumed, v)
	}
	if v, ok := p.(OnSubscriptionEnded); ok {
		r.onSubscriptionEnded = append(r.onSubscriptionEnded, v)
	}
	if v, ok := p.(OnSubscriptionEndingSoon); ok {
		r.onSubscriptionEndingSoon = append(r.onSubscriptionEndingSoon, v)
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
	}
	if v, ok := p.(OnUsageDenied); ok {
		r.onUsageDenied = append(r.onUsageDenied, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnPlanCreated", reflect.TypeOf((*OnPlanCreated)(nil)).Elem()},
	{"OnPlanUpdated", reflect.TypeOf((*OnPlanUpdated)(nil)).Elem()},
	{"OnPlanDeleted", reflect.TypeOf((*OnPlanDeleted)(nil)).Elem()},
	{"OnFeatureCreated", reflect.TypeOf((*OnFeatureCreated)(nil)).Elem()},
	{"OnEntitlementGranted", reflect.TypeOf((*OnEntitlementGranted)(nil)).Elem()},
	{"OnEntitlementRevoked", reflect.TypeOf((*OnEntitlementRevoked)(nil)).Elem()},
	{"OnSubscriptionCreated", reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem()},
	{"OnSubscriptionCancelled", reflect.TypeOf((*OnSubscriptionCancelled)(nil)).Elem()},
	{"OnSubscriptionResumed", reflect.TypeOf((*OnSubscriptionResumed)(nil)).Elem()},
	{"OnSubscriptionEnded", reflect.TypeOf((*OnSubscriptionEnded)(nil)).Elem()},
	{"OnSubscriptionEndingSoon", reflect.TypeOf((*OnSubscriptionEndingSoon)(nil)).Elem()},
	{"OnUsageRecorded", reflect.TypeOf((*OnUsageRecorded)(nil)).Elem()},
	{"OnUsageDenied", reflect.TypeOf((*OnUsageDenied)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// dispatch calls fn for every plugin in hooks, logging failures. It is the
// fire-and-forget path used for informational hooks.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// collect is like dispatch but also returns the joined failures.
func collect[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) error {
	var errs []error
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	dispatch(ctx, r, "OnPlanCreated", snapshot(r, &r.onPlanCreated), func(p OnPlanCreated) error {
		return p.OnPlanCreated(ctx, pl)
	})
}

func (r *Registry) EmitPlanUpdated(ctx context.Context, pl *plan.Plan) {
	dispatch(ctx, r, "OnPlanUpdated", snapshot(r, &r.onPlanUpdated), func(p OnPlanUpdated) error {
		return p.OnPlanUpdated(ctx, pl)
	})
}

func (r *Registry) EmitPlanDeleted(ctx context.Context, planID id.PlanID) {
	dispatch(ctx, r, "OnPlanDeleted", snapshot(r, &r.onPlanDeleted), func(p OnPlanDeleted) error {
		return p.OnPlanDeleted(ctx, planID)
	})
}

func (r *Registry) EmitFeatureCreated(ctx context.Context, f *feature.Feature) {
	dispatch(ctx, r, "OnFeatureCreated", snapshot(r, &r.onFeatureCreated), func(p OnFeatureCreated) error {
		return p.OnFeatureCreated(ctx, f)
	})
}

func (r *Registry) EmitEntitlementGranted(ctx context.Context, e *entitlement.Entitlement) {
	dispatch(ctx, r, "OnEntitlementGranted", snapshot(r, &r.onEntitlementGranted), func(p OnEntitlementGranted) error {
		return p.OnEntitlementGranted(ctx, e)
	})
}

func (r *Registry) EmitEntitlementRevoked(ctx context.Context, e *entitlement.Entitlement) {
	dispatch(ctx, r, "OnEntitlementRevoked", snapshot(r, &r.onEntitlementRevoked), func(p OnEntitlementRevoked) error {
		return p.OnEntitlementRevoked(ctx, e)
	})
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionCancelled", snapshot(r, &r.onSubscriptionCancelled), func(p OnSubscriptionCancelled) error {
		return p.OnSubscriptionCancelled(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionResumed(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionResumed", snapshot(r, &r.onSubscriptionResumed), func(p OnSubscriptionResumed) error {
		return p.OnSubscriptionResumed(ctx, sub)
	})
}

// EmitSubscriptionEnded returns the joined hook failures so the scheduler
// can treat them as a failed emission.
func (r *Registry) EmitSubscriptionEnded(ctx context.Context, s signal.Signal) error {
	return collect(ctx, r, "OnSubscriptionEnded", snapshot(r, &r.onSubscriptionEnded), func(p OnSubscriptionEnded) error {
		return p.OnSubscriptionEnded(ctx, s)
	})
}

// EmitSubscriptionEndingSoon returns the joined hook failures.
func (r *Registry) EmitSubscriptionEndingSoon(ctx context.Context, s signal.Signal) error {
	return collect(ctx, r, "OnSubscriptionEndingSoon", snapshot(r, &r.onSubscriptionEndingSoon), func(p OnSubscriptionEndingSoon) error {
		return p.OnSubscriptionEndingSoon(ctx, s)
	})
}

func (r *Registry) EmitUsageRecorded(ctx context.Context, sub *subscription.Subscription, u *meter.Usage) {
	dispatch(ctx, r, "OnUsageRecorded", snapshot(r, &r.onUsageRecorded), func(p OnUsageRecorded) error {
		return p.OnUsageRecorded(ctx, sub, u)
	})
}

func (r *Registry) EmitUsageDenied(ctx context.Context, sub *subscription.Subscription, featureSlug string, amount float64) {
	dispatch(ctx, r, "OnUsageDenied", snapshot(r, &r.onUsageDenied), func(p OnUsageDenied) error {
		return p.OnUsageDenied(ctx, sub, featureSlug, amount)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the engine.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
