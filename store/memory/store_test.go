package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newPlan(slug string, at time.Time) *plan.Plan {
	return &plan.Plan{Entity: types.NewEntity(at), ID: id.NewPlanID(), Slug: slug, Active: true}
}

func TestStore_PlanCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p := newPlan("pro", t0)
	require.NoError(t, s.CreatePlan(ctx, p))

	p.Slug = "mutated"
	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Slug, "writes are copied")

	got.Slug = "mutated"
	again, err := s.GetPlanBySlug(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", again.Slug, "reads are copied")
}

func TestStore_SlugUniqueness(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p := newPlan("pro", t0)
	require.NoError(t, s.CreatePlan(ctx, p))
	assert.ErrorIs(t, s.CreatePlan(ctx, newPlan("pro", t0)), entitle.ErrAlreadyExists)

	require.NoError(t, s.DeletePlan(ctx, p.ID, t0))
	assert.ErrorIs(t, s.DeletePlan(ctx, p.ID, t0), entitle.ErrPlanNotFound)
	assert.NoError(t, s.CreatePlan(ctx, newPlan("pro", t0)))

	f := &feature.Feature{ID: id.NewFeatureID(), Slug: "seats", Type: feature.Consumable}
	require.NoError(t, s.CreateFeature(ctx, f))
	dup := &feature.Feature{ID: id.NewFeatureID(), Slug: "seats", Type: feature.Consumable}
	assert.ErrorIs(t, s.CreateFeature(ctx, dup), entitle.ErrAlreadyExists)
}

func TestStore_EntitlementPair(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	planID, featureID := id.NewPlanID(), id.NewFeatureID()

	e := &entitlement.Entitlement{ID: id.NewEntitlementID(), PlanID: planID, FeatureID: featureID, Value: entitlement.Limit(3)}
	require.NoError(t, s.CreateEntitlement(ctx, e))

	dup := &entitlement.Entitlement{ID: id.NewEntitlementID(), PlanID: planID, FeatureID: featureID, Value: entitlement.Limit(5)}
	assert.ErrorIs(t, s.CreateEntitlement(ctx, dup), entitle.ErrAlreadyExists)

	got, err := s.GetEntitlementByPlanFeature(ctx, planID, featureID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	require.NoError(t, s.DeleteEntitlement(ctx, e.ID))
	_, err = s.GetEntitlementByPlanFeature(ctx, planID, featureID)
	assert.ErrorIs(t, err, entitle.ErrEntitlementNotFound)
}

func TestStore_UsageWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	subID, featureID := id.NewSubscriptionID(), id.NewFeatureID()

	for i, v := range []float64{1, 2, 4} {
		require.NoError(t, s.AppendUsage(ctx, &meter.Usage{
			ID:             id.NewUsageID(),
			SubscriptionID: subID,
			FeatureID:      featureID,
			Value:          v,
			CreatedAt:      t0.Add(time.Duration(i) * time.Hour),
		}))
	}
	// Another subscription's usage never counts.
	require.NoError(t, s.AppendUsage(ctx, &meter.Usage{
		ID: id.NewUsageID(), SubscriptionID: id.NewSubscriptionID(), FeatureID: featureID, Value: 100, CreatedAt: t0,
	}))

	tests := []struct {
		name   string
		since  time.Time
		sum    float64
		oldest time.Time
		found  bool
	}{
		{name: "unbounded", sum: 7, oldest: t0, found: true},
		{name: "inclusive lower bound", since: t0.Add(time.Hour), sum: 6, oldest: t0.Add(time.Hour), found: true},
		{name: "between entries", since: t0.Add(90 * time.Minute), sum: 4, oldest: t0.Add(2 * time.Hour), found: true},
		{name: "empty window", since: t0.Add(3 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := s.SumUsage(ctx, subID, featureID, tt.since)
			require.NoError(t, err)
			assert.Equal(t, tt.sum, sum)

			oldest, found, err := s.OldestUsage(ctx, subID, featureID, tt.since)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.oldest, oldest)
		})
	}

	entries, err := s.ListUsage(ctx, subID, featureID, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1.0, entries[0].Value)
}

func TestStore_SubscriptionsEndingBetween(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ref := types.NewRef("user", "1")

	mk := func(end *time.Time) *subscription.Subscription {
		sub := &subscription.Subscription{
			Entity:     types.NewEntity(t0),
			ID:         id.NewSubscriptionID(),
			Subscriber: ref,
			PlanID:     id.NewPlanID(),
			StartAt:    &t0,
			EndAt:      end,
		}
		require.NoError(t, s.CreateSubscription(ctx, sub))
		return sub
	}

	at := func(d time.Duration) *time.Time {
		v := t0.Add(d)
		return &v
	}

	mk(at(0))
	second := mk(at(2 * time.Hour))
	first := mk(at(time.Hour))
	mk(nil)
	deleted := mk(at(90 * time.Minute))
	require.NoError(t, s.DeleteSubscription(ctx, deleted.ID, t0))

	got, err := s.ListSubscriptionsEndingBetween(ctx, t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "lower bound exclusive, upper inclusive")
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	all, err := s.ListSubscriptions(ctx, ref, subscription.ListOpts{Limit: 2, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	owner := event.ForSubscription(id.NewSubscriptionID())

	require.NoError(t, s.AppendEvent(ctx, &event.Event{
		ID:        id.NewEventID(),
		Owner:     owner,
		Type:      event.TypeSubscriptionEnded,
		CreatedAt: t0,
	}))

	ok, err := s.EventExists(ctx, owner, event.TypeSubscriptionEnded, t0.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.EventExists(ctx, owner, event.TypeSubscriptionEnded, t0)
	require.NoError(t, err)
	assert.False(t, ok, "events must be strictly newer than since")

	ok, err = s.EventExists(ctx, owner, event.TypeSubscriptionEndingSoon, time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)

	evs, err := s.ListEvents(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(ctx), entitle.ErrStoreClosed)
}
