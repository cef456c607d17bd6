package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnabledActions restricts auditing to actions. Without it every action
// is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = actionSet(actions)
	}
}

// WithDisabledActions skips actions. It composes with WithEnabledActions in
// either order.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.disabled == nil {
			e.disabled = make(map[string]bool, len(actions))
		}
		for _, a := range actions {
			e.disabled[a] = true
		}
	}
}

func actionSet(actions []string) map[string]bool {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

// audits reports whether action passes the configured filters.
func (e *Extension) audits(action string) bool {
	if e.disabled[action] {
		return false
	}
	return e.enabled == nil || e.enabled[action]
}

// AllActions lists every action the extension can record.
func AllActions() []string {
	return []string{
		ActionPlanCreated, ActionPlanUpdated, ActionPlanDeleted,
		ActionFeatureCreated,
		ActionEntitlementGranted, ActionEntitlementRevoked,
		ActionSubscriptionCreated, ActionSubscriptionCancelled, ActionSubscriptionResumed,
		ActionSubscriptionEnded, ActionSubscriptionEndingSoon,
		ActionUsageRecorded, ActionUsageDenied,
	}
}
