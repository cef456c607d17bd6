// Package observability provides a metrics plugin for entitle that records
// lifecycle and quota counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated            = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated            = (*MetricsExtension)(nil)
	_ plugin.OnPlanDeleted            = (*MetricsExtension)(nil)
	_ plugin.OnFeatureCreated         = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementGranted     = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementRevoked     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCancelled  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionResumed    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionEnded      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionEndingSoon = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded          = (*MetricsExtension)(nil)
	_ plugin.OnUsageDenied            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an entitle plugin to track catalog, subscription and quota
// activity; pass RecordSweep to entitle.WithSweepObserver to track sweeps.
type MetricsExtension struct {
	// Catalog metrics
	PlanCreated        Counter
	PlanUpdated        Counter
	PlanDeleted        Counter
	FeatureCreated     Counter
	EntitlementGranted Counter
	EntitlementRevoked Counter

	// Subscription metrics
	SubscriptionCreated   Counter
	SubscriptionCancelled Counter
	SubscriptionResumed   Counter

	// Usage metrics
	UsageRecorded Counter
	UsageAmount   Histogram
	UsageDenied   Counter

	// Scheduler metrics
	SignalEnded      Counter
	SignalEndingSoon Counter
	SweepRuns        Counter
	SweepFailures    Counter
	SweepLocked      Counter
	SweepCandidates  Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		PlanCreated:        factory.Counter("entitle.plan.created"),
		PlanUpdated:        factory.Counter("entitle.plan.updated"),
		PlanDeleted:        factory.Counter("entitle.plan.deleted"),
		FeatureCreated:     factory.Counter("entitle.feature.created"),
		EntitlementGranted: factory.Counter("entitle.entitlement.granted"),
		EntitlementRevoked: factory.Counter("entitle.entitlement.revoked"),

		SubscriptionCreated:   factory.Counter("entitle.subscription.created"),
		SubscriptionCancelled: factory.Counter("entitle.subscription.cancelled"),
		SubscriptionResumed:   factory.Counter("entitle.subscription.resumed"),

		UsageRecorded: factory.Counter("entitle.usage.recorded"),
		UsageAmount:   factory.Histogram("entitle.usage.amount"),
		UsageDenied:   factory.Counter("entitle.usage.denied"),

		SignalEnded:      factory.Counter("entitle.signal.ended"),
		SignalEndingSoon: factory.Counter("entitle.signal.ending_soon"),
		SweepRuns:        factory.Counter("entitle.sweep.runs"),
		SweepFailures:    factory.Counter("entitle.sweep.failures"),
		SweepLocked:      factory.Counter("entitle.sweep.locked"),
		SweepCandidates:  factory.Histogram("entitle.sweep.candidates"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(context.Context, *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (m *MetricsExtension) OnPlanUpdated(context.Context, *plan.Plan) error {
	m.PlanUpdated.Inc()
	return nil
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (m *MetricsExtension) OnPlanDeleted(context.Context, id.PlanID) error {
	m.PlanDeleted.Inc()
	return nil
}

// OnFeatureCreated implements plugin.OnFeatureCreated.
func (m *MetricsExtension) OnFeatureCreated(context.Context, *feature.Feature) error {
	m.FeatureCreated.Inc()
	return nil
}

// OnEntitlementGranted implements plugin.OnEntitlementGranted.
func (m *MetricsExtension) OnEntitlementGranted(context.Context, *entitlement.Entitlement) error {
	m.EntitlementGranted.Inc()
	return nil
}

// OnEntitlementRevoked implements plugin.OnEntitlementRevoked.
func (m *MetricsExtension) OnEntitlementRevoked(context.Context, *entitlement.Entitlement) error {
	m.EntitlementRevoked.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(context.Context, *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (m *MetricsExtension) OnSubscriptionCancelled(context.Context, *subscription.Subscription) error {
	m.SubscriptionCancelled.Inc()
	return nil
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (m *MetricsExtension) OnSubscriptionResumed(context.Context, *subscription.Subscription) error {
	m.SubscriptionResumed.Inc()
	return nil
}

// OnSubscriptionEnded implements plugin.OnSubscriptionEnded.
func (m *MetricsExtension) OnSubscriptionEnded(context.Context, signal.Signal) error {
	m.SignalEnded.Inc()
	return nil
}

// OnSubscriptionEndingSoon implements plugin.OnSubscriptionEndingSoon.
func (m *MetricsExtension) OnSubscriptionEndingSoon(context.Context, signal.Signal) error {
	m.SignalEndingSoon.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ *subscription.Subscription, u *meter.Usage) error {
	m.UsageRecorded.Inc()
	m.UsageAmount.Observe(u.Value)
	return nil
}

// OnUsageDenied implements plugin.OnUsageDenied.
func (m *MetricsExtension) OnUsageDenied(context.Context, *subscription.Subscription, string, float64) error {
	m.UsageDenied.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────

// RecordSweep has the shape of an entitle sweep observer. It observes r and
// counts a sweep that aborted with err as one more failure.
func (m *MetricsExtension) RecordSweep(r entitle.SweepReport, err error) {
	m.ObserveSweep(r)
	if err != nil {
		m.SweepFailures.Inc()
	}
}

// ObserveSweep records the outcome of one scheduler sweep.
func (m *MetricsExtension) ObserveSweep(r entitle.SweepReport) {
	m.SweepRuns.Inc()
	for _, p := range []entitle.PassReport{r.Ended, r.EndingSoon} {
		if p.Locked {
			m.SweepLocked.Inc()
			continue
		}
		m.SweepCandidates.Observe(float64(p.Candidates))
		if p.Failed > 0 {
			m.SweepFailures.Add(float64(p.Failed))
		}
	}
}
