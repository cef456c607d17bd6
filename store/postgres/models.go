package postgres

import (
	"encoding/json"
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

// jsonb encodes v for a JSONB column. Nil values become an empty object.
func jsonb(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return json.RawMessage("{}")
	}
	return b
}

func textOf(raw json.RawMessage) (types.Text, error) {
	var t types.Text
	if err := t.Scan([]byte(raw)); err != nil {
		return nil, err
	}
	if len(t) == 0 {
		return nil, nil
	}
	return t, nil
}

func metadataOf(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func periodColumns(p *period.Period) (*int, *string) {
	if p == nil {
		return nil, nil
	}
	count, unit := p.Count, string(p.Unit)
	return &count, &unit
}

func periodOf(count *int, unit *string) (*period.Period, error) {
	if count == nil || unit == nil {
		return nil, nil
	}
	p, err := period.New(*count, period.Unit(*unit))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// utcPtr normalizes a nullable timestamp. pgx returns TIMESTAMPTZ values in
// the local zone.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID            string          `grove:"id,pk"`
	Slug          string          `grove:"slug"`
	Name          json.RawMessage `grove:"name,type:jsonb"`
	Description   json.RawMessage `grove:"description,type:jsonb"`
	Active        bool            `grove:"active"`
	PriceAmount   int64           `grove:"price_amount"`
	PriceCurrency string          `grove:"price_currency"`
	ResetPeriod   *int            `grove:"reset_period"`
	ResetInterval *string         `grove:"reset_interval"`
	SortOrder     int             `grove:"sort_order"`
	Metadata      json.RawMessage `grove:"metadata,type:jsonb"`
	CreatedAt     time.Time       `grove:"created_at"`
	UpdatedAt     time.Time       `grove:"updated_at"`
	DeletedAt     *time.Time      `grove:"deleted_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	count, unit := periodColumns(p.ResetPeriod)
	return &planModel{
		ID:            p.ID.String(),
		Slug:          p.Slug,
		Name:          jsonb(p.Name),
		Description:   jsonb(p.Description),
		Active:        p.Active,
		PriceAmount:   p.Price.Amount,
		PriceCurrency: p.Price.Currency,
		ResetPeriod:   count,
		ResetInterval: unit,
		SortOrder:     p.SortOrder,
		Metadata:      jsonb(p.Metadata),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
		DeletedAt:     utcPtr(p.DeletedAt),
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	reset, err := periodOf(m.ResetPeriod, m.ResetInterval)
	if err != nil {
		return nil, err
	}
	name, err := textOf(m.Name)
	if err != nil {
		return nil, err
	}
	description, err := textOf(m.Description)
	if err != nil {
		return nil, err
	}
	metadata, err := metadataOf(m.Metadata)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          planID,
		Slug:        m.Slug,
		Name:        name,
		Description: description,
		Active:      m.Active,
		Price:       types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		ResetPeriod: reset,
		SortOrder:   m.SortOrder,
		Metadata:    metadata,
	}, nil
}

// ==================== Feature models ====================

type featureModel struct {
	grove.BaseModel `grove:"table:entitle_features"`

	ID          string          `grove:"id,pk"`
	Slug        string          `grove:"slug"`
	Name        json.RawMessage `grove:"name,type:jsonb"`
	Description json.RawMessage `grove:"description,type:jsonb"`
	Type        string          `grove:"type"`
	SortOrder   int             `grove:"sort_order"`
	Metadata    json.RawMessage `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
	DeletedAt   *time.Time      `grove:"deleted_at"`
}

func toFeatureModel(f *feature.Feature) *featureModel {
	return &featureModel{
		ID:          f.ID.String(),
		Slug:        f.Slug,
		Name:        jsonb(f.Name),
		Description: jsonb(f.Description),
		Type:        string(f.Type),
		SortOrder:   f.SortOrder,
		Metadata:    jsonb(f.Metadata),
		CreatedAt:   f.CreatedAt.UTC(),
		UpdatedAt:   f.UpdatedAt.UTC(),
		DeletedAt:   utcPtr(f.DeletedAt),
	}
}

func fromFeatureModel(m *featureModel) (*feature.Feature, error) {
	featureID, err := id.ParseFeatureID(m.ID)
	if err != nil {
		return nil, err
	}
	name, err := textOf(m.Name)
	if err != nil {
		return nil, err
	}
	description, err := textOf(m.Description)
	if err != nil {
		return nil, err
	}
	metadata, err := metadataOf(m.Metadata)
	if err != nil {
		return nil, err
	}

	return &feature.Feature{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          featureID,
		Slug:        m.Slug,
		Name:        name,
		Description: description,
		Type:        feature.Type(m.Type),
		SortOrder:   m.SortOrder,
		Metadata:    metadata,
	}, nil
}

// ==================== Entitlement models ====================

type entitlementModel struct {
	grove.BaseModel `grove:"table:entitle_plan_features"`

	ID            string          `grove:"id,pk"`
	PlanID        string          `grove:"plan_id"`
	FeatureID     string          `grove:"feature_id"`
	Value         *string         `grove:"value"`
	DisplayValue  json.RawMessage `grove:"display_value,type:jsonb"`
	ResetPeriod   *int            `grove:"reset_period"`
	ResetInterval *string         `grove:"reset_interval"`
	SortOrder     int             `grove:"sort_order"`
	CreatedAt     time.Time       `grove:"created_at"`
	UpdatedAt     time.Time       `grove:"updated_at"`
}

// valueColumn encodes an entitlement value; unset values are NULL.
func valueColumn(v entitlement.Value) *string {
	if !v.IsSet() {
		return nil
	}
	s := v.String()
	return &s
}

func toEntitlementModel(e *entitlement.Entitlement) *entitlementModel {
	count, unit := periodColumns(e.ResetPeriod)
	return &entitlementModel{
		ID:            e.ID.String(),
		PlanID:        e.PlanID.String(),
		FeatureID:     e.FeatureID.String(),
		Value:         valueColumn(e.Value),
		DisplayValue:  jsonb(e.DisplayValue),
		ResetPeriod:   count,
		ResetInterval: unit,
		SortOrder:     e.SortOrder,
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
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
	reset, err := periodOf(m.ResetPeriod, m.ResetInterval)
	if err != nil {
		return nil, err
	}
	display, err := textOf(m.DisplayValue)
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
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:           entID,
		PlanID:       planID,
		FeatureID:    featureID,
		Value:        value,
		DisplayValue: display,
		ResetPeriod:  reset,
		SortOrder:    m.SortOrder,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID             string          `grove:"id,pk"`
	SubscriberType string          `grove:"subscriber_type"`
	SubscriberID   string          `grove:"subscriber_id"`
	PlanID         string          `grove:"plan_id"`
	StartAt        *time.Time      `grove:"start_at"`
	EndAt          *time.Time      `grove:"end_at"`
	CancelledAt    *time.Time      `grove:"cancelled_at"`
	Metadata       json.RawMessage `grove:"metadata,type:jsonb"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
	DeletedAt      *time.Time      `grove:"deleted_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             s.ID.String(),
		SubscriberType: s.Subscriber.Type,
		SubscriberID:   s.Subscriber.ID,
		PlanID:         s.PlanID.String(),
		StartAt:        utcPtr(s.StartAt),
		EndAt:          utcPtr(s.EndAt),
		CancelledAt:    utcPtr(s.CancelledAt),
		Metadata:       jsonb(s.Metadata),
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
		DeletedAt:      utcPtr(s.DeletedAt),
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
	metadata, err := metadataOf(m.Metadata)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          subID,
		Subscriber:  types.NewRef(m.SubscriberType, m.SubscriberID),
		PlanID:      planID,
		StartAt:     utcPtr(m.StartAt),
		EndAt:       utcPtr(m.EndAt),
		CancelledAt: utcPtr(m.CancelledAt),
		Metadata:    metadata,
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:entitle_usages"`

	ID             string    `grove:"id,pk"`
	SubscriptionID string    `grove:"subscription_id"`
	FeatureID      string    `grove:"feature_id"`
	Used           float64   `grove:"used"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toUsageModel(u *meter.Usage) *usageModel {
	return &usageModel{
		ID:             u.ID.String(),
		SubscriptionID: u.SubscriptionID.String(),
		FeatureID:      u.FeatureID.String(),
		Used:           u.Value,
		CreatedAt:      u.CreatedAt.UTC(),
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
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:entitle_events"`

	ID        string    `grove:"id,pk"`
	OwnerType string    `grove:"owner_type"`
	OwnerID   string    `grove:"owner_id"`
	Type      string    `grove:"type"`
	CreatedAt time.Time `grove:"created_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:        e.ID.String(),
		OwnerType: e.Owner.Type,
		OwnerID:   e.Owner.ID,
		Type:      string(e.Type),
		CreatedAt: e.CreatedAt.UTC(),
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
		CreatedAt: m.CreatedAt.UTC(),
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
