package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPlanModel(t *testing.T) {
	p := &plan.Plan{
		Entity:      types.NewEntity(t0),
		ID:          id.NewPlanID(),
		Slug:        "pro",
		Name:        types.T("Pro"),
		Active:      true,
		Price:       types.EUR(900),
		ResetPeriod: &period.Period{Count: 2, Unit: period.Week},
	}

	m := toPlanModel(p)
	assert.False(t, m.Deleted)
	got, err := fromPlanModel(m)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.MarkDeleted(t0)
	assert.True(t, toPlanModel(p).Deleted, "deleted flag follows deleted_at")
}

func TestFeatureModel(t *testing.T) {
	f := &feature.Feature{
		Entity:   types.NewEntity(t0),
		ID:       id.NewFeatureID(),
		Slug:     "api-calls",
		Type:     feature.Consumable,
		Metadata: map[string]string{"unit": "call"},
	}
	got, err := fromFeatureModel(toFeatureModel(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEntitlementModel(t *testing.T) {
	e := &entitlement.Entitlement{
		Entity:       types.NewEntity(t0),
		ID:           id.NewEntitlementID(),
		PlanID:       id.NewPlanID(),
		FeatureID:    id.NewFeatureID(),
		Value:        entitlement.Unlimited(),
		DisplayValue: types.T("Unlimited"),
		ResetPeriod:  &period.Period{Count: 1, Unit: period.Day},
	}
	got, err := fromEntitlementModel(toEntitlementModel(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)

	m := toEntitlementModel(e)
	m.Value = new(string)
	*m.Value = "lots"
	_, err = fromEntitlementModel(m)
	assert.Error(t, err)
}

func TestUsageModel(t *testing.T) {
	u := &meter.Usage{
		ID:             id.NewUsageID(),
		SubscriptionID: id.NewSubscriptionID(),
		FeatureID:      id.NewFeatureID(),
		Value:          3.5,
		CreatedAt:      t0,
	}
	got, err := fromUsageModel(toUsageModel(u))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestLiveFilter(t *testing.T) {
	f := live(bson.M{"slug": "pro"})
	assert.Equal(t, "pro", f["slug"])
	assert.Equal(t, bson.M{"$ne": true}, f["deleted"])
}

func TestWriteErr(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, writeErr("create plan", dup), entitle.ErrAlreadyExists)

	other := errors.New("connection reset")
	err := writeErr("create plan", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, entitle.ErrAlreadyExists)
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colPlans, colFeatures, colEntitlements, colSubscriptions, colUsages, colEvents} {
		assert.NotEmpty(t, idx[col], col)
	}
}
