// Package audithook bridges entitle lifecycle hooks to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnPlanCreated            = (*Extension)(nil)
	_ plugin.OnPlanUpdated            = (*Extension)(nil)
	_ plugin.OnPlanDeleted            = (*Extension)(nil)
	_ plugin.OnFeatureCreated         = (*Extension)(nil)
	_ plugin.OnEntitlementGranted     = (*Extension)(nil)
	_ plugin.OnEntitlementRevoked     = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated    = (*Extension)(nil)
	_ plugin.OnSubscriptionCancelled  = (*Extension)(nil)
	_ plugin.OnSubscriptionResumed    = (*Extension)(nil)
	_ plugin.OnSubscriptionEnded      = (*Extension)(nil)
	_ plugin.OnSubscriptionEndingSoon = (*Extension)(nil)
	_ plugin.OnUsageRecorded          = (*Extension)(nil)
	_ plugin.OnUsageDenied            = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records an audit event for every entitle lifecycle hook.
// Recorder failures are logged and never returned, so auditing cannot
// block a scheduler signal from being recorded.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	disabled map[string]bool
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryCatalog, nil,
		"slug", p.Slug,
		"active", p.Active,
	)
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (e *Extension) OnPlanUpdated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanUpdated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryCatalog, nil,
		"slug", p.Slug,
		"active", p.Active,
	)
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (e *Extension) OnPlanDeleted(ctx context.Context, planID id.PlanID) error {
	return e.record(ctx, ActionPlanDeleted, SeverityWarning, OutcomeSuccess,
		ResourcePlan, planID.String(), CategoryCatalog, nil,
	)
}

// OnFeatureCreated implements plugin.OnFeatureCreated.
func (e *Extension) OnFeatureCreated(ctx context.Context, f *feature.Feature) error {
	return e.record(ctx, ActionFeatureCreated, SeverityInfo, OutcomeSuccess,
		ResourceFeature, f.ID.String(), CategoryCatalog, nil,
		"slug", f.Slug,
		"type", string(f.Type),
	)
}

// OnEntitlementGranted implements plugin.OnEntitlementGranted.
func (e *Extension) OnEntitlementGranted(ctx context.Context, ent *entitlement.Entitlement) error {
	return e.record(ctx, ActionEntitlementGranted, SeverityInfo, OutcomeSuccess,
		ResourceEntitlement, ent.ID.String(), CategoryCatalog, nil,
		"plan_id", ent.PlanID.String(),
		"feature_id", ent.FeatureID.String(),
		"value", ent.Value.String(),
	)
}

// OnEntitlementRevoked implements plugin.OnEntitlementRevoked.
func (e *Extension) OnEntitlementRevoked(ctx context.Context, ent *entitlement.Entitlement) error {
	return e.record(ctx, ActionEntitlementRevoked, SeverityWarning, OutcomeSuccess,
		ResourceEntitlement, ent.ID.String(), CategoryCatalog, nil,
		"plan_id", ent.PlanID.String(),
		"feature_id", ent.FeatureID.String(),
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber", sub.Subscriber.String(),
		"plan_id", sub.PlanID.String(),
	)
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (e *Extension) OnSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCancelled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber", sub.Subscriber.String(),
	)
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (e *Extension) OnSubscriptionResumed(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionResumed, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber", sub.Subscriber.String(),
	)
}

// OnSubscriptionEnded implements plugin.OnSubscriptionEnded.
func (e *Extension) OnSubscriptionEnded(ctx context.Context, s signal.Signal) error {
	return e.recordSignal(ctx, ActionSubscriptionEnded, s)
}

// OnSubscriptionEndingSoon implements plugin.OnSubscriptionEndingSoon.
func (e *Extension) OnSubscriptionEndingSoon(ctx context.Context, s signal.Signal) error {
	return e.recordSignal(ctx, ActionSubscriptionEndingSoon, s)
}

func (e *Extension) recordSignal(ctx context.Context, action string, s signal.Signal) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, s.SubscriptionID.String(), CategorySubscription, nil,
		"signal_id", s.ID.String(),
		"subscriber", s.Subscriber.String(),
		"end_at", s.EndAt,
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (e *Extension) OnUsageRecorded(ctx context.Context, sub *subscription.Subscription, u *meter.Usage) error {
	return e.record(ctx, ActionUsageRecorded, SeverityInfo, OutcomeSuccess,
		ResourceUsage, u.ID.String(), CategoryUsage, nil,
		"subscription_id", sub.ID.String(),
		"feature_id", u.FeatureID.String(),
		"amount", u.Value,
	)
}

// OnUsageDenied implements plugin.OnUsageDenied.
func (e *Extension) OnUsageDenied(ctx context.Context, sub *subscription.Subscription, featureSlug string, amount float64) error {
	return e.record(ctx, ActionUsageDenied, SeverityWarning, OutcomeFailure,
		ResourceUsage, sub.ID.String(), CategoryUsage, nil,
		"feature", featureSlug,
		"amount", amount,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.audits(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
