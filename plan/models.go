package plan

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/types"
)

// Plan is a purchasable tier. Its ResetPeriod, when set, fixes the length of
// every subscription created on it.
type Plan struct {
	types.Entity
	types.SoftDelete
	ID          id.PlanID         `json:"id"`
	Slug        string            `json:"slug"`
	Name        types.Text        `json:"name"`
	Description types.Text        `json:"description,omitempty"`
	Active      bool              `json:"active"`
	Price       types.Money       `json:"price"`
	ResetPeriod *period.Period    `json:"reset_period,omitempty"`
	SortOrder   int               `json:"sort_order"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EndAt returns the end of a subscription on p that starts at start, or nil
// when the plan has no reset period. Ends past period.MaxTime are clamped.
func (p *Plan) EndAt(start time.Time) (*time.Time, error) {
	if p.ResetPeriod == nil {
		return nil, nil
	}
	d, err := p.ResetPeriod.DayDuration()
	if err != nil {
		return nil, err
	}
	end := period.AddTo(start, d)
	return &end, nil
}
