// Package meter is the append-only usage ledger. Entries are never updated
// or merged; consumption is the sum of entries inside a time window.
package meter

import (
	"time"

	"github.com/xraph/entitle/id"
)

// Usage is one consumption fact against a subscription's feature.
type Usage struct {
	ID             id.UsageID        `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	FeatureID      id.FeatureID      `json:"feature_id"`
	Value          float64           `json:"value"`
	CreatedAt      time.Time         `json:"created_at"`
}
