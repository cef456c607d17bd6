package entitle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

func TestCatalog_CreatePlan(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()

	p := &plan.Plan{
		Slug:        "pro",
		Name:        entitle.T("Pro"),
		Active:      true,
		Price:       types.NewMoney(4900, "USD"),
		ResetPeriod: entitle.Every(1, period.Month),
	}
	require.NoError(t, cat.CreatePlan(f.ctx, p))
	assert.False(t, p.ID.IsNil())
	assert.Equal(t, id.PrefixPlan, p.ID.Prefix())
	assert.Equal(t, epoch, p.CreatedAt)
	assert.Equal(t, "usd", p.Price.Currency)

	got, err := cat.GetPlanBySlug(f.ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	err = cat.CreatePlan(f.ctx, &plan.Plan{Slug: "pro"})
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)
}

func TestCatalog_PlanValidation(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()

	tests := []struct {
		name    string
		plan    *plan.Plan
		wantErr error
	}{
		{"empty slug", &plan.Plan{}, entitle.ErrInvalidArgument},
		{"uppercase slug", &plan.Plan{Slug: "Pro"}, entitle.ErrInvalidArgument},
		{"slug with space", &plan.Plan{Slug: "pro plan"}, entitle.ErrInvalidArgument},
		{"negative reset", &plan.Plan{Slug: "neg", ResetPeriod: &period.Period{Count: -1, Unit: period.Day}}, entitle.ErrInvalidArgument},
		{"unknown unit", &plan.Plan{Slug: "bad-unit", ResetPeriod: &period.Period{Count: 1, Unit: "fortnight"}}, entitle.ErrInvalidUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cat.CreatePlan(f.ctx, tt.plan)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, entitle.IsInvalid(err))
		})
	}
}

func TestCatalog_UpdateAndDeletePlan(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()
	p := f.plan(t, "basic", nil)

	f.clock.Advance(time.Hour)
	p.Name = entitle.T("Basic v2")
	p.SortOrder = 5
	require.NoError(t, cat.UpdatePlan(f.ctx, p))

	got, err := cat.GetPlan(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Basic v2", got.Name.String())
	assert.Equal(t, epoch, got.CreatedAt)
	assert.Equal(t, epoch.Add(time.Hour), got.UpdatedAt)

	p.Slug = "renamed"
	assert.ErrorIs(t, cat.UpdatePlan(f.ctx, p), entitle.ErrImmutableSlug)

	require.NoError(t, cat.DeletePlan(f.ctx, p.ID))
	_, err = cat.GetPlan(f.ctx, p.ID)
	assert.ErrorIs(t, err, entitle.ErrPlanNotFound)
	assert.True(t, entitle.IsNotFound(err))

	// The slug is free again once the plan is deleted.
	f.plan(t, "basic", nil)
}

func TestCatalog_ListPlans(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()

	for i, slug := range []string{"c", "a", "b"} {
		p := &plan.Plan{Slug: slug, Active: slug != "b", SortOrder: 10 - i}
		require.NoError(t, cat.CreatePlan(f.ctx, p))
	}

	all, err := cat.ListPlans(f.ctx, plan.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{all[0].Slug, all[1].Slug, all[2].Slug})

	active, err := cat.ListPlans(f.ctx, plan.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	paged, err := cat.ListPlans(f.ctx, plan.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "a", paged[0].Slug)
}

func TestCatalog_Features(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()

	err := cat.CreateFeature(f.ctx, &feature.Feature{Slug: "x", Type: "metered"})
	assert.ErrorIs(t, err, entitle.ErrInvalidArgument)

	ft := f.feature(t, "api-calls", feature.Consumable)
	f.feature(t, "sso", feature.NonConsumable)

	consumable, err := cat.ListFeatures(f.ctx, feature.ListOpts{Type: feature.Consumable})
	require.NoError(t, err)
	require.Len(t, consumable, 1)
	assert.Equal(t, "api-calls", consumable[0].Slug)

	ft.Type = feature.NonConsumable
	assert.ErrorIs(t, cat.UpdateFeature(f.ctx, ft), entitle.ErrImmutableFeatureType)
	assert.ErrorIs(t, cat.UpdateFeature(f.ctx, ft), entitle.ErrInvalidArgument)

	ft.Type = feature.Consumable
	ft.Description = entitle.T("Calls to the public API")
	require.NoError(t, cat.UpdateFeature(f.ctx, ft))

	got, err := cat.GetFeatureBySlug(f.ctx, "api-calls")
	require.NoError(t, err)
	assert.Equal(t, "Calls to the public API", got.Description.String())

	require.NoError(t, cat.DeleteFeature(f.ctx, ft.ID))
	_, err = cat.GetFeature(f.ctx, ft.ID)
	assert.ErrorIs(t, err, entitle.ErrFeatureNotFound)
}

func TestCatalog_Grant(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()
	p := f.plan(t, "pro", nil)
	ft := f.feature(t, "api-calls", feature.Consumable)

	ent, err := cat.Grant(f.ctx, p.ID, ft.ID, entitle.Limit(100), entitle.GrantOptions{
		ResetPeriod:  entitle.Every(1, period.Day),
		DisplayValue: entitle.T("100 per day"),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, ent.Value.Amount())
	assert.True(t, ent.Resettable())

	_, err = cat.Grant(f.ctx, p.ID, ft.ID, entitle.Unlimited(), entitle.GrantOptions{})
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)

	_, err = cat.Grant(f.ctx, id.NewPlanID(), ft.ID, entitle.Limit(1), entitle.GrantOptions{})
	assert.ErrorIs(t, err, entitle.ErrPlanNotFound)

	_, err = cat.Grant(f.ctx, p.ID, id.NewFeatureID(), entitle.Limit(1), entitle.GrantOptions{})
	assert.ErrorIs(t, err, entitle.ErrFeatureNotFound)

	other := f.feature(t, "storage", feature.Consumable)
	_, err = cat.Grant(f.ctx, p.ID, other.ID, entitle.Limit(-1), entitle.GrantOptions{})
	assert.ErrorIs(t, err, entitle.ErrInvalidArgument)
	assert.ErrorIs(t, err, entitlement.ErrInvalidValue)

	list, err := cat.ListEntitlements(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCatalog_UpdateAndRevokeEntitlement(t *testing.T) {
	f := newFixture(t)
	cat := f.eng.Catalog()
	p := f.plan(t, "pro", nil)
	ft := f.feature(t, "api-calls", feature.Consumable)
	ent := f.grant(t, p, ft, entitle.Limit(10), nil)

	ent.Value = entitle.Unlimited()
	require.NoError(t, cat.UpdateEntitlement(f.ctx, ent))

	got, err := cat.Entitlement(f.ctx, p.ID, ft.ID)
	require.NoError(t, err)
	assert.True(t, got.Value.IsUnlimited())

	moved := *got
	moved.PlanID = id.NewPlanID()
	assert.ErrorIs(t, cat.UpdateEntitlement(f.ctx, &moved), entitle.ErrInvalidArgument)

	require.NoError(t, cat.Revoke(f.ctx, p.ID, ft.ID))
	_, err = cat.Entitlement(f.ctx, p.ID, ft.ID)
	assert.ErrorIs(t, err, entitle.ErrEntitlementNotFound)
	assert.ErrorIs(t, cat.Revoke(f.ctx, p.ID, ft.ID), entitle.ErrEntitlementNotFound)
}
