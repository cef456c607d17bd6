package entitle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/subscription"
)

// Quota answers usage questions for one subscription and feature slug. Usage
// is never cached: every answer sums the append-only ledger inside the
// current window.
type Quota struct {
	*core
}

// AvailabilityKind classifies the result of NextAvailable.
type AvailabilityKind uint8

const (
	// AvailabilityUnlimited means the feature is never restricted.
	AvailabilityUnlimited AvailabilityKind = iota + 1
	// AvailabilityNotResettable means the quota is a lifetime cap; consumed
	// usage never comes back.
	AvailabilityNotResettable
	// AvailabilityAt means the quota next frees up at Availability.At.
	AvailabilityAt
)

func (k AvailabilityKind) String() string {
	switch k {
	case AvailabilityUnlimited:
		return "unlimited"
	case AvailabilityNotResettable:
		return "not_resettable"
	case AvailabilityAt:
		return "at"
	default:
		return "unknown"
	}
}

// Availability is when a feature's quota next frees up.
type Availability struct {
	Kind AvailabilityKind
	At   time.Time
}

func (a Availability) String() string {
	if a.Kind == AvailabilityAt {
		return a.At.Format(time.RFC3339)
	}
	return a.Kind.String()
}

// resolve maps slug to the feature and the grant on sub's plan.
func (q *Quota) resolve(ctx context.Context, sub *subscription.Subscription, slug string) (*feature.Feature, *entitlement.Entitlement, error) {
	if sub == nil {
		return nil, nil, invalid("subscription", "is nil")
	}

	f, err := q.store.GetFeatureBySlug(ctx, slug)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %q", ErrFeatureNotEntitled, slug)
		}
		return nil, nil, err
	}

	ent, err := q.store.GetEntitlementByPlanFeature(ctx, sub.PlanID, f.ID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %q", ErrFeatureNotEntitled, slug)
		}
		return nil, nil, err
	}
	return f, ent, nil
}

func (q *Quota) windowStart(ent *entitlement.Entitlement, now time.Time) (time.Time, error) {
	since, err := ent.WindowStart(now)
	return since, wrapPeriod(err)
}

func (q *Quota) used(ctx context.Context, subID id.SubscriptionID, f *feature.Feature, ent *entitlement.Entitlement, now time.Time) (float64, error) {
	since, err := q.windowStart(ent, now)
	if err != nil {
		return 0, err
	}
	return q.store.SumUsage(ctx, subID, f.ID, since)
}

func (q *Quota) remaining(ctx context.Context, sub *subscription.Subscription, f *feature.Feature, ent *entitlement.Entitlement, now time.Time) (float64, error) {
	if !f.IsConsumable() || !ent.Value.IsSet() {
		return 0, fmt.Errorf("%w: %q", ErrNotConsumable, f.Slug)
	}
	if ent.Value.IsUnlimited() {
		return math.Inf(1), nil
	}
	used, err := q.used(ctx, sub.ID, f, ent, now)
	if err != nil {
		return 0, err
	}
	return ent.Value.Amount() - used, nil
}

// HasFeature reports whether sub's plan grants slug, regardless of the
// subscription's phase.
func (q *Quota) HasFeature(ctx context.Context, sub *subscription.Subscription, slug string) (bool, error) {
	_, _, err := q.resolve(ctx, sub, slug)
	if errors.Is(err, ErrFeatureNotEntitled) {
		return false, nil
	}
	return err == nil, err
}

// HasActiveFeature is HasFeature restricted to an active subscription.
func (q *Quota) HasActiveFeature(ctx context.Context, sub *subscription.Subscription, slug string) (bool, error) {
	if sub == nil || !sub.IsActive(q.now()) {
		return false, nil
	}
	return q.HasFeature(ctx, sub, slug)
}

// Remaining returns the quota left in the current window. It is +Inf for an
// unlimited grant and negative after over-consumption.
func (q *Quota) Remaining(ctx context.Context, sub *subscription.Subscription, slug string) (float64, error) {
	f, ent, err := q.resolve(ctx, sub, slug)
	if err != nil {
		return 0, err
	}
	return q.remaining(ctx, sub, f, ent, q.now())
}

// Used returns the usage recorded in the current window.
func (q *Quota) Used(ctx context.Context, sub *subscription.Subscription, slug string) (float64, error) {
	f, ent, err := q.resolve(ctx, sub, slug)
	if err != nil {
		return 0, err
	}
	return q.used(ctx, sub.ID, f, ent, q.now())
}

// Usage returns the ledger entries in the current window, oldest first.
func (q *Quota) Usage(ctx context.Context, sub *subscription.Subscription, slug string) ([]*meter.Usage, error) {
	f, ent, err := q.resolve(ctx, sub, slug)
	if err != nil {
		return nil, err
	}
	since, err := q.windowStart(ent, q.now())
	if err != nil {
		return nil, err
	}
	return q.store.ListUsage(ctx, sub.ID, f.ID, since)
}

// NextAvailable reports when usage of slug next frees up: never restricted,
// never (lifetime cap), or at the moment the oldest entry in the window
// leaves it. An empty window is available now.
func (q *Quota) NextAvailable(ctx context.Context, sub *subscription.Subscription, slug string) (Availability, error) {
	f, ent, err := q.resolve(ctx, sub, slug)
	if err != nil {
		return Availability{}, err
	}
	if ent.Value.IsUnlimited() {
		return Availability{Kind: AvailabilityUnlimited}, nil
	}
	if !ent.Resettable() {
		return Availability{Kind: AvailabilityNotResettable}, nil
	}

	now := q.now()
	since, err := q.windowStart(ent, now)
	if err != nil {
		return Availability{}, err
	}
	oldest, found, err := q.store.OldestUsage(ctx, sub.ID, f.ID, since)
	if err != nil {
		return Availability{}, err
	}
	if !found {
		return Availability{Kind: AvailabilityAt, At: now}, nil
	}

	at, err := ent.WindowEnd(oldest)
	if err != nil {
		return Availability{}, wrapPeriod(err)
	}
	return Availability{Kind: AvailabilityAt, At: at.UTC()}, nil
}

// CanUse reports whether amount of slug may be consumed now. Inactive
// subscriptions and non-consumable features answer false.
func (q *Quota) CanUse(ctx context.Context, sub *subscription.Subscription, slug string, amount float64) (bool, error) {
	_, ok, err := q.check(ctx, sub, slug, amount)
	return ok, err
}

func (q *Quota) check(ctx context.Context, sub *subscription.Subscription, slug string, amount float64) (*feature.Feature, bool, error) {
	if sub == nil {
		return nil, false, invalid("subscription", "is nil")
	}
	now := q.now()
	if !sub.IsActive(now) {
		return nil, false, nil
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, false, invalid("amount", "must be a positive number, got %v", amount)
	}

	f, ent, err := q.resolve(ctx, sub, slug)
	if err != nil {
		return nil, false, err
	}
	if !f.IsConsumable() {
		return f, false, nil
	}

	rem, err := q.remaining(ctx, sub, f, ent, now)
	if err != nil {
		return f, false, err
	}
	return f, rem >= amount, nil
}

// Use records amount of slug against sub. It fails with
// ErrFeatureNotUsable when CanUse is false. Each call appends exactly one
// ledger entry.
func (q *Quota) Use(ctx context.Context, sub *subscription.Subscription, slug string, amount float64) (*meter.Usage, error) {
	f, ok, err := q.check(ctx, sub, slug, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		q.plugins.EmitUsageDenied(ctx, sub, slug, amount)
		return nil, fmt.Errorf("%w: %q", ErrFeatureNotUsable, slug)
	}

	u := &meter.Usage{
		ID:             id.NewUsageID(),
		SubscriptionID: sub.ID,
		FeatureID:      f.ID,
		Value:          amount,
		CreatedAt:      q.now(),
	}
	if err := q.store.AppendUsage(ctx, u); err != nil {
		return nil, err
	}

	q.plugins.EmitUsageRecorded(ctx, sub, u)
	return u, nil
}
