package subscription

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Status is the phase of a subscription. It is never stored; Subscription.Status
// derives it from the timestamps.
type Status string

const (
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFuture    Status = "future"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
)

// Subscription is a subscriber's instance of a plan. A nil StartAt marks a
// pending subscription and a nil EndAt an open-ended one.
type Subscription struct {
	types.Entity
	types.SoftDelete
	ID          id.SubscriptionID `json:"id"`
	Subscriber  types.Ref         `json:"subscriber"`
	PlanID      id.PlanID         `json:"plan_id"`
	StartAt     *time.Time        `json:"start_at,omitempty"`
	EndAt       *time.Time        `json:"end_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Status classifies s at now. The first matching rule wins:
// cancelled, expired, future, pending, active.
func (s *Subscription) Status(now time.Time) Status {
	switch {
	case s.CancelledAt != nil:
		return StatusCancelled
	case s.EndAt != nil && s.EndAt.Before(now):
		return StatusExpired
	case s.StartAt != nil && s.StartAt.After(now):
		return StatusFuture
	case s.StartAt == nil:
		return StatusPending
	default:
		return StatusActive
	}
}

func (s *Subscription) IsActive(now time.Time) bool { return s.Status(now) == StatusActive }
func (s *Subscription) IsPending(now time.Time) bool { return s.Status(now) == StatusPending }
func (s *Subscription) IsCancelled() bool { return s.CancelledAt != nil }
func (s *Subscription) IsExpired(now time.Time) bool { return s.Status(now) == StatusExpired }
func (s *Subscription) IsFuture(now time.Time) bool { return s.Status(now) == StatusFuture }
