package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/types"
)

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg).WithNamespace("test")

	c := f.Counter("entitle.plan.created")
	c.Inc()
	c.Add(2)
	assert.Same(t, c, f.Counter("entitle.plan.created"), "collectors are cached by name")

	h := f.Histogram("entitle.usage.amount")
	h.Observe(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{"test_entitle_plan_created_total", "test_entitle_usage_amount"}, names)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.(prometheus.Counter)))
}

func TestPrometheusFactory_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewPrometheusFactory(reg).Counter("entitle.sweep.runs")
	b := observability.NewPrometheusFactory(reg).Counter("entitle.sweep.runs")

	a.Inc()
	b.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.(prometheus.Counter)))
}

func TestMetricsExtension_EngineHooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	eng := entitle.New(memory.New(),
		entitle.WithPlugin(m),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	cat := eng.Catalog()

	p := &plan.Plan{Slug: "pro", Name: entitle.T("Pro"), Active: true}
	require.NoError(t, cat.CreatePlan(ctx, p))
	f := &feature.Feature{Slug: "api-calls", Name: entitle.T("API calls"), Type: feature.Consumable}
	require.NoError(t, cat.CreateFeature(ctx, f))
	_, err := cat.Grant(ctx, p.ID, f.ID, entitle.Limit(5), entitle.GrantOptions{})
	require.NoError(t, err)

	sub, err := eng.Lifecycle().Subscribe(ctx, types.NewRef("user", "u1"), p.ID, entitle.SubscribeOptions{})
	require.NoError(t, err)

	q := eng.Quota()
	_, err = q.Use(ctx, sub, "api-calls", 4)
	require.NoError(t, err)
	_, err = q.Use(ctx, sub, "api-calls", 4)
	assert.ErrorIs(t, err, entitle.ErrFeatureNotUsable)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlanCreated.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeatureCreated.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementGranted.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriptionCreated.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageRecorded.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageDenied.(prometheus.Counter)))
}

func TestMetricsExtension_ObserveSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	m.ObserveSweep(entitle.SweepReport{
		Ended:      entitle.PassReport{Pass: entitle.PassEnded, Candidates: 3, Emitted: 1, Failed: 2},
		EndingSoon: entitle.PassReport{Pass: entitle.PassEndingSoon, Locked: true},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.(prometheus.Counter)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepFailures.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepLocked.(prometheus.Counter)))
}

func TestMetricsExtension_RecordSweep(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantFailures float64
	}{
		{name: "clean sweep", wantFailures: 1},
		{name: "aborted pass", err: errors.New("list ended candidates: timeout"), wantFailures: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

			m.RecordSweep(entitle.SweepReport{
				EndingSoon: entitle.PassReport{Pass: entitle.PassEndingSoon, Candidates: 2, Failed: 1},
			}, tt.err)

			assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.(prometheus.Counter)))
			assert.Equal(t, tt.wantFailures, testutil.ToFloat64(m.SweepFailures.(prometheus.Counter)))
		})
	}
}
