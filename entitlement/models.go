// Package entitlement holds the grant of a feature to a plan together with
// its quota and reset cadence.
package entitlement

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/types"
)

// Entitlement grants FeatureID on PlanID. At most one exists per pair.
// A nil ResetPeriod makes the quota a lifetime cap.
type Entitlement struct {
	types.Entity
	ID           id.EntitlementID `json:"id"`
	PlanID       id.PlanID        `json:"plan_id"`
	FeatureID    id.FeatureID     `json:"feature_id"`
	Value        Value            `json:"value"`
	DisplayValue types.Text       `json:"display_value,omitempty"`
	ResetPeriod  *period.Period   `json:"reset_period,omitempty"`
	SortOrder    int              `json:"sort_order"`
}

// Resettable reports whether the quota is measured over a rolling window.
func (e *Entitlement) Resettable() bool { return e.ResetPeriod != nil }

// WindowStart returns the inclusive lower bound of the usage window ending
// at now. The zero time means the window is unbounded, which is also the
// case for a reset period too long for a time.Duration.
func (e *Entitlement) WindowStart(now time.Time) (time.Time, error) {
	if e.ResetPeriod == nil {
		return time.Time{}, nil
	}
	d, err := e.ResetPeriod.Duration()
	if err != nil {
		return time.Time{}, err
	}
	if d == period.MaxDuration {
		return time.Time{}, nil
	}
	return now.Add(-d), nil
}

// WindowEnd returns when usage recorded at t leaves the rolling window,
// clamped to period.MaxTime. Entitlements without a reset period never
// release usage and report period.MaxTime.
func (e *Entitlement) WindowEnd(t time.Time) (time.Time, error) {
	if e.ResetPeriod == nil {
		return period.MaxTime, nil
	}
	d, err := e.ResetPeriod.Duration()
	if err != nil {
		return time.Time{}, err
	}
	return period.AddTo(t, d), nil
}
