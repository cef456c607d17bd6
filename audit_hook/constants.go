package audithook

// Action constants for audit events.
const (
	// Catalog actions
	ActionPlanCreated        = "plan.created"
	ActionPlanUpdated        = "plan.updated"
	ActionPlanDeleted        = "plan.deleted"
	ActionFeatureCreated     = "feature.created"
	ActionEntitlementGranted = "entitlement.granted"
	ActionEntitlementRevoked = "entitlement.revoked"

	// Subscription actions
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionCancelled  = "subscription.cancelled"
	ActionSubscriptionResumed    = "subscription.resumed"
	ActionSubscriptionEnded      = "subscription.ended"
	ActionSubscriptionEndingSoon = "subscription.ending_soon"

	// Usage actions
	ActionUsageRecorded = "usage.recorded"
	ActionUsageDenied   = "usage.denied"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceFeature      = "feature"
	ResourceEntitlement  = "entitlement"
	ResourceSubscription = "subscription"
	ResourceUsage        = "usage"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
