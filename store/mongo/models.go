package mongo

import (
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

type periodModel struct {
	Count int    `bson:"count"`
	Unit  string `bson:"unit"`
}

func toPeriodModel(p *period.Period) *periodModel {
	if p == nil {
		return nil
	}
	return &periodModel{Count: p.Count, Unit: string(p.Unit)}
}

func fromPeriodModel(m *periodModel) (*period.Period, error) {
	if m == nil {
		return nil, nil
	}
	p, err := period.New(m.Count, period.Unit(m.Unit))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func textOrNil(t types.Text) types.Text {
	if len(t) == 0 {
		return nil
	}
	return t
}

// ==================== Plan models ====================

// Deleted mirrors DeletedAt so the partial slug index can filter on it.
type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID            string            `grove:"id,pk"          bson:"_id"`
	Slug          string            `grove:"slug"           bson:"slug"`
	Name          map[string]string `grove:"name"           bson:"name,omitempty"`
	Description   map[string]string `grove:"description"    bson:"description,omitempty"`
	Active        bool              `grove:"active"         bson:"active"`
	PriceAmount   int64             `grove:"price_amount"   bson:"price_amount"`
	PriceCurrency string            `grove:"price_currency" bson:"price_currency"`
	ResetPeriod   *periodModel      `grove:"reset_period"   bson:"reset_period,omitempty"`
	SortOrder     int               `grove:"sort_order"     bson:"sort_order"`
	Metadata      map[string]string `grove:"metadata"       bson:"metadata,omitempty"`
	CreatedAt     time.Time         `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"     bson:"updated_at"`
	DeletedAt     *time.Time        `grove:"deleted_at"     bson:"deleted_at,omitempty"`
	Deleted       bool              `grove:"deleted"        bson:"deleted"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:            p.ID.String(),
		Slug:          p.Slug,
		Name:          p.Name,
		Description:   p.Description,
		Active:        p.Active,
		PriceAmount:   p.Price.Amount,
		PriceCurrency: p.Price.Currency,
		ResetPeriod:   toPeriodModel(p.ResetPeriod),
		SortOrder:     p.SortOrder,
		Metadata:      p.Metadata,
		CreatedAt:     utc(p.CreatedAt),
		UpdatedAt:     utc(p.UpdatedAt),
		DeletedAt:     utcPtr(p.DeletedAt),
		Deleted:       p.IsDeleted(),
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	reset, err := fromPeriodModel(m.ResetPeriod)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity:      types.Entity{CreatedAt: utc(m.CreatedAt), UpdatedAt: utc(m.UpdatedAt)},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          planID,
		Slug:        m.Slug,
		Name:        textOrNil(m.Name),
		Description: textOrNil(m.Description),
		Active:      m.Active,
		Price:       types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		ResetPeriod: reset,
		SortOrder:   m.SortOrder,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Feature models ====================

type featureModel struct {
	grove.BaseModel `grove:"table:entitle_features"`

	ID          string            `grove:"id,pk"       bson:"_id"`
	Slug        string            `grove:"slug"        bson:"slug"`
	Name        map[string]string `grove:"name"        bson:"name,omitempty"`
	Description map[string]string `grove:"description" bson:"description,omitempty"`
	Type        string            `grove:"type"        bson:"type"`
	SortOrder   int               `grove:"sort_order"  bson:"sort_order"`
	Metadata    map[string]string `grove:"metadata"    bson:"metadata,omitempty"`
	CreatedAt   time.Time         `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"  bson:"updated_at"`
	DeletedAt   *time.Time        `grove:"deleted_at"  bson:"deleted_at,omitempty"`
	Deleted     bool              `grove:"deleted"     bson:"deleted"`
}

func toFeatureModel(f *feature.Feature) *featureModel {
	return &featureModel{
		ID:          f.ID.String(),
		Slug:        f.Slug,
		Name:        f.Name,
		Description: f.Description,
		Type:        string(f.Type),
		SortOrder:   f.SortOrder,
		Metadata:    f.Metadata,
		CreatedAt:   utc(f.CreatedAt),
		UpdatedAt:   utc(f.UpdatedAt),
		DeletedAt:   utcPtr(f.DeletedAt),
		Deleted:     f.IsDeleted(),
	}
}

func fromFeatureModel(m *featureModel) (*feature.Feature, error) {
	featureID, err := id.ParseFeatureID(m.ID)
	if err != nil {
		return nil, err
	}

	return &feature.Feature{
		Entity:      types.Entity{CreatedAt: utc(m.CreatedAt), UpdatedAt: utc(m.UpdatedAt)},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          featureID,
		Slug:        m.Slug,
		Name:        textOrNil(m.Name),
		Description: textOrNil(m.Description),
		Type:        feature.Type(m.Type),
		SortOrder:   m.SortOrder,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Entitlement models ====================

type entitlementModel struct {
	grove.BaseModel `grove:"table:entitle_plan_features"`

	ID           string            `grove:"id,pk"         bson:"_id"`
	PlanID       string            `grove:"plan_id"       bson:"plan_id"`
	FeatureID    string            `grove:"feature_id"    bson:"feature_id"`
	Value        *string           `grove:"value"         bson:"value,omitempty"`
	DisplayValue map[string]string `grove:"display_value" bson:"display_value,omitempty"`
	ResetPeriod  *periodModel      `grove:"reset_period"  bson:"reset_period,omitempty"`
	SortOrder    int               `grove:"sort_order"    bson:"sort_order"`
	CreatedAt    time.Time         `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time         `grove:"updated_at"    bson:"updated_at"`
}

func toEntitlementModel(e *entitlement.Entitlement) *entitlementModel {
	var value *string
	if e.Value.IsSet() {
		v := e.Value.String()
		value = &v
	}
	return &entitlementModel{
		ID:           e.ID.String(),
		PlanID:       e.PlanID.String(),
		FeatureID:    e.FeatureID.String(),
		Value:        value,
		DisplayValue: e.DisplayValue,
		ResetPeriod:  toPeriodModel(e.ResetPeriod),
		SortOrder:    e.SortOrder,
		CreatedAt:    utc(e.CreatedAt),
		UpdatedAt:    utc(e.UpdatedAt),
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
	reset, err := fromPeriodModel(m.ResetPeriod)
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
		Entity:       types.Entity{CreatedAt: utc(m.CreatedAt), UpdatedAt: utc(m.UpdatedAt)},
		ID:           entID,
		PlanID:       planID,
		FeatureID:    featureID,
		Value:        value,
		DisplayValue: textOrNil(m.DisplayValue),
		ResetPeriod:  reset,
		SortOrder:    m.SortOrder,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriberType string            `grove:"subscriber_type" bson:"subscriber_type"`
	SubscriberID   string            `grove:"subscriber_id"   bson:"subscriber_id"`
	PlanID         string            `grove:"plan_id"         bson:"plan_id"`
	StartAt        *time.Time        `grove:"start_at"        bson:"start_at,omitempty"`
	EndAt          *time.Time        `grove:"end_at"          bson:"end_at,omitempty"`
	CancelledAt    *time.Time        `grove:"cancelled_at"    bson:"cancelled_at,omitempty"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
	DeletedAt      *time.Time        `grove:"deleted_at"      bson:"deleted_at,omitempty"`
	Deleted        bool              `grove:"deleted"         bson:"deleted"`
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
		Metadata:       s.Metadata,
		CreatedAt:      utc(s.CreatedAt),
		UpdatedAt:      utc(s.UpdatedAt),
		DeletedAt:      utcPtr(s.DeletedAt),
		Deleted:        s.IsDeleted(),
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
		Entity:      types.Entity{CreatedAt: utc(m.CreatedAt), UpdatedAt: utc(m.UpdatedAt)},
		SoftDelete:  types.SoftDelete{DeletedAt: utcPtr(m.DeletedAt)},
		ID:          subID,
		Subscriber:  types.NewRef(m.SubscriberType, m.SubscriberID),
		PlanID:      planID,
		StartAt:     utcPtr(m.StartAt),
		EndAt:       utcPtr(m.EndAt),
		CancelledAt: utcPtr(m.CancelledAt),
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:entitle_usages"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id"`
	FeatureID      string    `grove:"feature_id"      bson:"feature_id"`
	Used           float64   `grove:"used"            bson:"used"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
}

func toUsageModel(u *meter.Usage) *usageModel {
	return &usageModel{
		ID:             u.ID.String(),
		SubscriptionID: u.SubscriptionID.String(),
		FeatureID:      u.FeatureID.String(),
		Used:           u.Value,
		CreatedAt:      utc(u.CreatedAt),
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
		CreatedAt:      utc(m.CreatedAt),
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:entitle_events"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	OwnerType string    `grove:"owner_type" bson:"owner_type"`
	OwnerID   string    `grove:"owner_id"   bson:"owner_id"`
	Type      string    `grove:"type"       bson:"type"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:        e.ID.String(),
		OwnerType: e.Owner.Type,
		OwnerID:   e.Owner.ID,
		Type:      string(e.Type),
		CreatedAt: utc(e.CreatedAt),
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
		CreatedAt: utc(m.CreatedAt),
	}, nil
}

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
