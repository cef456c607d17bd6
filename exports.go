package entitle

import (
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/types"
)

// Re-exports so common call sites need only the root package.

// ID is the identifier type of every entitle record.
type ID = id.ID

type (
	Ref    = types.Ref
	Text   = types.Text
	Money  = types.Money
	Period = period.Period
	Value  = entitlement.Value
)

var (
	NewRef    = types.NewRef
	T         = types.T
	USD       = types.USD
	EUR       = types.EUR
	Limit     = entitlement.Limit
	Unlimited = entitlement.Unlimited
)

// Every returns the period of count units. It panics on a negative count or
// an unknown unit, so use it with constants only.
func Every(count int, unit period.Unit) *period.Period {
	p, err := period.New(count, unit)
	if err != nil {
		panic(err)
	}
	return &p
}
