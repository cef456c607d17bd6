package store

import (
	"context"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Store is the unified storage interface for all entitle records.
// The per-record interfaces share method names, so every method is declared
// here explicitly with a record prefix.
type Store interface {
	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	DeletePlan(ctx context.Context, planID id.PlanID, at time.Time) error

	// Feature methods
	CreateFeature(ctx context.Context, f *feature.Feature) error
	GetFeature(ctx context.Context, featureID id.FeatureID) (*feature.Feature, error)
	GetFeatureBySlug(ctx context.Context, slug string) (*feature.Feature, error)
	ListFeatures(ctx context.Context, opts feature.ListOpts) ([]*feature.Feature, error)
	UpdateFeature(ctx context.Context, f *feature.Feature) error
	DeleteFeature(ctx context.Context, featureID id.FeatureID, at time.Time) error

	// Entitlement methods
	CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error
	GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error)
	GetEntitlementByPlanFeature(ctx context.Context, planID id.PlanID, featureID id.FeatureID) (*entitlement.Entitlement, error)
	ListEntitlements(ctx context.Context, planID id.PlanID) ([]*entitlement.Entitlement, error)
	UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error
	DeleteEntitlement(ctx context.Context, entID id.EntitlementID) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, subscriber types.Ref, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	DeleteSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error
	ListSubscriptionsEndingBetween(ctx context.Context, after, upTo time.Time) ([]*subscription.Subscription, error)

	// Usage ledger methods
	AppendUsage(ctx context.Context, u *meter.Usage) error
	SumUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (float64, error)
	OldestUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (time.Time, bool, error)
	ListUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) ([]*meter.Usage, error)

	// Event methods
	AppendEvent(ctx context.Context, e *event.Event) error
	EventExists(ctx context.Context, owner types.Ref, typ event.Type, since time.Time) (bool, error)
	ListEvents(ctx context.Context, owner types.Ref) ([]*event.Event, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
