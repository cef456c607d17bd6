package subscription

import "github.com/xraph/entitle/id"

// ListOpts filters a subscriber's subscriptions. Results are ordered by
// creation time, oldest first.
type ListOpts struct {
	PlanID id.PlanID
	Limit  int
	Offset int
}
