// Package plugin provides an extensible hook system for entitle.
// Plugins implement any subset of the hook interfaces below; the Registry
// discovers them by type assertion at registration time.
package plugin

import (
	"context"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *entitle.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, p *plan.Plan) error
}

type OnPlanDeleted interface {
	Plugin
	OnPlanDeleted(ctx context.Context, planID id.PlanID) error
}

type OnFeatureCreated interface {
	Plugin
	OnFeatureCreated(ctx context.Context, f *feature.Feature) error
}

// OnEntitlementGranted is called when a feature is granted to a plan.
type OnEntitlementGranted interface {
	Plugin
	OnEntitlementGranted(ctx context.Context, e *entitlement.Entitlement) error
}

// OnEntitlementRevoked is called when a grant is removed from a plan.
type OnEntitlementRevoked interface {
	Plugin
	OnEntitlementRevoked(ctx context.Context, e *entitlement.Entitlement) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

type OnSubscriptionCancelled interface {
	Plugin
	OnSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) error
}

type OnSubscriptionResumed interface {
	Plugin
	OnSubscriptionResumed(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionEnded is called by the scheduler once per ended subscription.
// Returning an error counts as a failed emission: no event is recorded and
// the signal is retried on the next sweep.
type OnSubscriptionEnded interface {
	Plugin
	OnSubscriptionEnded(ctx context.Context, s signal.Signal) error
}

// OnSubscriptionEndingSoon is the ending-soon counterpart of
// OnSubscriptionEnded, with the same error contract.
type OnSubscriptionEndingSoon interface {
	Plugin
	OnSubscriptionEndingSoon(ctx context.Context, s signal.Signal) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after a usage entry is appended to the ledger.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, sub *subscription.Subscription, u *meter.Usage) error
}

// OnUsageDenied is called when Use is refused because the quota cannot
// cover amount.
type OnUsageDenied interface {
	Plugin
	OnUsageDenied(ctx context.Context, sub *subscription.Subscription, featureSlug string, amount float64) error
}
