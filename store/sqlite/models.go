package sqlite

import (
	"encoding/json"
	"math"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Timestamps are stored as Unix nanoseconds so that window comparisons are
// plain integer comparisons.

// minNanoTime is the earliest time representable in Unix nanoseconds.
var minNanoTime = time.Unix(0, math.MinInt64).UTC()

// nanos clamps t into the Unix nanosecond range. The zero time, which marks
// an unbounded window, maps to math.MinInt64.
func nanos(t time.Time) int64 {
	switch {
	case t.Before(minNanoTime):
		return math.MinInt64
	case t.After(period.MaxTime):
		return math.MaxInt64
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := nanos(*t)
	return &n
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

func decodeText(s string) types.Text {
	var t types.Text
	if err := t.Scan(s); err != nil || len(t) == 0 {
		return nil
	}
	return t
}

func decodeMetadata(s string) map[string]string {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func encodePeriod(p *period.Period) (*int, *string) {
	if p == nil {
		return nil, nil
	}
	count, unit := p.Count, string(p.Unit)
	return &count, &unit
}

func decodePeriod(count *int, unit *string) (*period.Period, error) {
	if count == nil || unit == nil {
		return nil, nil
	}
	p, err := period.New(*count, period.Unit(*unit))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID            string  `grove:"id,pk"`
	Slug          string  `grove:"slug"`
	Name          string  `grove:"name"`
	Description   string  `grove:"description"`
	Active        bool    `grove:"active"`
	PriceAmount   int64   `grove:"price_amount"`
	PriceCurrency string  `grove:"price_currency"`
	ResetPeriod   *int    `grove:"reset_period"`
	ResetInterval *string `grove:"reset_interval"`
	SortOrder     int     `grove:"sort_order"`
	Metadata      string  `grove:"metadata"`
	CreatedAt     int64   `grove:"created_at"`
	UpdatedAt     int64   `grove:"updated_at"`
	DeletedAt     *int64  `grove:"deleted_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	count, unit := encodePeriod(p.ResetPeriod)
	return &planModel{
		ID:            p.ID.String(),
		Slug:          p.Slug,
		Name:          encodeJSON(p.Name),
		Description:   encodeJSON(p.Description),
		Active:        p.Active,
		PriceAmount:   p.Price.Amount,
		PriceCurrency: p.Price.Currency,
		ResetPeriod:   count,
		ResetInterval: unit,
		SortOrder:     p.SortOrder,
		Metadata:      encodeJSON(p.Metadata),
		CreatedAt:     nanos(p.CreatedAt),
		UpdatedAt:     nanos(p.UpdatedAt),
		DeletedAt:     nanosPtr(p.DeletedAt),
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	reset, err := decodePeriod(m.ResetPeriod, m.ResetInterval)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: fromNanosPtr(m.DeletedAt)},
		ID:          planID,
		Slug:        m.Slug,
		Name:        decodeText(m.Name),
		Description: decodeText(m.Description),
		Active:      m.Active,
		Price:       types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		ResetPeriod: reset,
		SortOrder:   m.SortOrder,
		Metadata:    decodeMetadata(m.Metadata),
	}, nil
}

// ==================== Feature models ====================

type featureModel struct {
	grove.BaseModel `grove:"table:entitle_features"`

	ID          string `grove:"id,pk"`
	Slug        string `grove:"slug"`
	Name        string `grove:"name"`
	Description string `grove:"description"`
	Type        string `grove:"type"`
	SortOrder   int    `grove:"sort_order"`
	Metadata    string `grove:"metadata"`
	CreatedAt   int64  `grove:"created_at"`
	UpdatedAt   int64  `grove:"updated_at"`
	DeletedAt   *int64 `grove:"deleted_at"`
}

func toFeatureModel(f *feature.Feature) *featureModel {
	return &featureModel{
		ID:          f.ID.String(),
		Slug:        f.Slug,
		Name:        encodeJSON(f.Name),
		Description: encodeJSON(f.Description),
		Type:        string(f.Type),
		SortOrder:   f.SortOrder,
		Metadata:    encodeJSON(f.Metadata),
		CreatedAt:   nanos(f.CreatedAt),
		UpdatedAt:   nanos(f.UpdatedAt),
		DeletedAt:   nanosPtr(f.DeletedAt),
	}
}

func fromFeatureModel(m *featureModel) (*feature.Feature, error) {
	featureID, err := id.ParseFeatureID(m.ID)
	if err != nil {
		return nil, err
	}

	return &feature.Feature{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: fromNanosPtr(m.DeletedAt)},
		ID:          featureID,
		Slug:        m.Slug,
		Name:        decodeText(m.Name),
		Description: decodeText(m.Description),
		Type:        feature.Type(m.Type),
		SortOrder:   m.SortOrder,
		Metadata:    decodeMetadata(m.Metadata),
	}, nil
}

// ==================== Entitlement models ====================

type entitlementModel struct {
	grove.BaseModel `grove:"table:entitle_plan_features"`

	ID            string  `grove:"id,pk"`
	PlanID        string  `grove:"plan_id"`
	FeatureID     string  `grove:"feature_id"`
	Value         *string `grove:"value"`
	DisplayValue  string  `grove:"display_value"`
	ResetPeriod   *int    `grove:"reset_period"`
	ResetInterval *string `grove:"reset_interval"`
	SortOrder     int     `grove:"sort_order"`
	CreatedAt     int64   `grove:"created_at"`
	UpdatedAt     int64   `grove:"updated_at"`
}

func toEntitlementModel(e *entitlement.Entitlement) *entitlementModel {
	count, unit := encodePeriod(e.ResetPeriod)
	var value *string
	if e.Value.IsSet() {
		v := e.Value.String()
		value = &v
	}
	return &entitlementModel{
		ID:            e.ID.String(),
		PlanID:        e.PlanID.String(),
		FeatureID:     e.FeatureID.String(),
		Value:         value,
		DisplayValue:  encodeJSON(e.DisplayValue),
		ResetPeriod:   count,
		ResetInterval: unit,
		SortOrder:     e.SortOrder,
		CreatedAt:     nanos(e.CreatedAt),
		UpdatedAt:     nanos(e.UpdatedAt),
	}
}

func fromEntitlementModel(m *entitlementModel) (*entitlement.Entitlement, error) {
	entID, err := id.ParseEntitlementID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	featureID, err := id.ParseFeatureID(m.FeatureID)
	if err != nil {
		return nil, err
	}
	reset, err := decodePeriod(m.ResetPeriod, m.ResetInterval)
	if err != nil {
		return nil, err
	}
	var value entitlement.Value
	if m.Value != nil {
		if value, err = entitlement.ParseValue(*m.Value); err != nil {
			return nil, err
		}
	}

	return &entitlement.Entitlement{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:           entID,
		PlanID:       planID,
		FeatureID:    featureID,
		Value:        value,
		DisplayValue: decodeText(m.DisplayValue),
		ResetPeriod:  reset,
		SortOrder:    m.SortOrder,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID             string `grove:"id,pk"`
	SubscriberType string `grove:"subscriber_type"`
	SubscriberID   string `grove:"subscriber_id"`
	PlanID         string `grove:"plan_id"`
	StartAt        *int64 `grove:"start_at"`
	EndAt          *int64 `grove:"end_at"`
	CancelledAt    *int64 `grove:"cancelled_at"`
	Metadata       string `grove:"metadata"`
	CreatedAt      int64  `grove:"created_at"`
	UpdatedAt      int64  `grove:"updated_at"`
	DeletedAt      *int64 `grove:"deleted_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             s.ID.String(),
		SubscriberType: s.Subscriber.Type,
		SubscriberID:   s.Subscriber.ID,
		PlanID:         s.PlanID.String(),
		StartAt:        nanosPtr(s.StartAt),
		EndAt:          nanosPtr(s.EndAt),
		CancelledAt:    nanosPtr(s.CancelledAt),
		Metadata:       encodeJSON(s.Metadata),
		CreatedAt:      nanos(s.CreatedAt),
		UpdatedAt:      nanos(s.UpdatedAt),
		DeletedAt:      nanosPtr(s.DeletedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: fromNanosPtr(m.DeletedAt)},
		ID:          subID,
		Subscriber:  types.NewRef(m.SubscriberType, m.SubscriberID),
		PlanID:      planID,
		StartAt:     fromNanosPtr(m.StartAt),
		EndAt:       fromNanosPtr(m.EndAt),
		CancelledAt: fromNanosPtr(m.CancelledAt),
		Metadata:    decodeMetadata(m.Metadata),
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:entitle_usages"`

	ID             string  `grove:"id,pk"`
	SubscriptionID string  `grove:"subscription_id"`
	FeatureID      string  `grove:"feature_id"`
	Used           float64 `grove:"used"`
	CreatedAt      int64   `grove:"created_at"`
}

func toUsageModel(u *meter.Usage) *usageModel {
	return &usageModel{
		ID:             u.ID.String(),
		SubscriptionID: u.SubscriptionID.String(),
		FeatureID:      u.FeatureID.String(),
		Used:           u.Value,
		CreatedAt:      nanos(u.CreatedAt),
	}
}

func fromUsageModel(m *usageModel) (*meter.Usage, error) {
	usageID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	featureID, err := id.ParseFeatureID(m.FeatureID)
	if err != nil {
		return nil, err
	}

	return &meter.Usage{
		ID:             usageID,
		SubscriptionID: subID,
		FeatureID:      featureID,
		Value:          m.Used,
		CreatedAt:      fromNanos(m.CreatedAt),
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:entitle_events"`

	ID        string `grove:"id,pk"`
	OwnerType string `grove:"owner_type"`
	OwnerID   string `grove:"owner_id"`
	Type      string `grove:"type"`
	CreatedAt int64  `grove:"created_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:        e.ID.String(),
		OwnerType: e.Owner.Type,
		OwnerID:   e.Owner.ID,
		Type:      string(e.Type),
		CreatedAt: nanos(e.CreatedAt),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}

	return &event.Event{
		ID:        eventID,
		Owner:     types.NewRef(m.OwnerType, m.OwnerID),
		Type:      event.Type(m.Type),
		CreatedAt: fromNanos(m.CreatedAt),
	}, nil
}

// fromModels converts a slice of rows with conv.
func fromModels[M, T any](models []M, conv func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, len(models))
	for i := range models {
		v, err := conv(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}
