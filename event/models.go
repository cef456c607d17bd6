// Package event records which lifecycle signals have already fired. The
// scheduler reads these back to avoid emitting the same signal twice.
package event

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Type discriminates events. The values double as signal routing keys.
type Type string

const (
	TypeSubscriptionEnded      Type = "subscription.ended"
	TypeSubscriptionEndingSoon Type = "subscription.ending_soon"
)

// OwnerSubscription is the Ref type tag for events owned by a subscription.
const OwnerSubscription = "subscription"

// ForSubscription returns the owner Ref of a subscription's events.
func ForSubscription(subID id.SubscriptionID) types.Ref {
	return types.Ref{Type: OwnerSubscription, ID: subID.String()}
}

type Event struct {
	ID        id.EventID `json:"id"`
	Owner     types.Ref  `json:"owner"`
	Type      Type       `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
}
