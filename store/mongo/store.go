// Package mongo implements store.Store on MongoDB through the grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Collection name constants.
const (
	colPlans         = "entitle_plans"
	colFeatures      = "entitle_features"
	colEntitlements  = "entitle_plan_features"
	colSubscriptions = "entitle_subscriptions"
	colUsages        = "entitle_usages"
	colEvents        = "entitle_events"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
// BSON dates keep millisecond precision, so stored times are truncated.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if _, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx); err != nil {
		return writeErr("create plan", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(live(bson.M{"_id": planID.String()})).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(live(bson.M{"slug": slug})).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get plan by slug: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := live(bson.M{})
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(catalogOrder)
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list plans: %w", err)
	}
	return fromModels(models, fromPlanModel)
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(live(bson.M{"_id": m.ID})).
		Exec(ctx)
	if err != nil {
		return writeErr("update plan", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrPlanNotFound
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(live(bson.M{"_id": planID.String()})).
		Set("deleted_at", at.UTC()).
		Set("deleted", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrPlanNotFound
	}
	return nil
}

// ==================== Feature Store ====================

func (s *Store) CreateFeature(ctx context.Context, f *feature.Feature) error {
	if _, err := s.mdb.NewInsert(toFeatureModel(f)).Exec(ctx); err != nil {
		return writeErr("create feature", err)
	}
	return nil
}

func (s *Store) GetFeature(ctx context.Context, featureID id.FeatureID) (*feature.Feature, error) {
	var m featureModel
	err := s.mdb.NewFind(&m).
		Filter(live(bson.M{"_id": featureID.String()})).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrFeatureNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get feature: %w", err)
	}
	return fromFeatureModel(&m)
}

func (s *Store) GetFeatureBySlug(ctx context.Context, slug string) (*feature.Feature, error) {
	var m featureModel
	err := s.mdb.NewFind(&m).
		Filter(live(bson.M{"slug": slug})).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrFeatureNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get feature by slug: %w", err)
	}
	return fromFeatureModel(&m)
}

func (s *Store) ListFeatures(ctx context.Context, opts feature.ListOpts) ([]*feature.Feature, error) {
	var models []featureModel

	filter := live(bson.M{})
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(catalogOrder)
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list features: %w", err)
	}
	return fromModels(models, fromFeatureModel)
}

func (s *Store) UpdateFeature(ctx context.Context, f *feature.Feature) error {
	m := toFeatureModel(f)
	res, err := s.mdb.NewUpdate(m).
		Filter(live(bson.M{"_id": m.ID})).
		Exec(ctx)
	if err != nil {
		return writeErr("update feature", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrFeatureNotFound
	}
	return nil
}

func (s *Store) DeleteFeature(ctx context.Context, featureID id.FeatureID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*featureModel)(nil)).
		Filter(live(bson.M{"_id": featureID.String()})).
		Set("deleted_at", at.UTC()).
		Set("deleted", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete feature: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrFeatureNotFound
	}
	return nil
}

// ==================== Entitlement Store ====================

func (s *Store) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	if _, err := s.mdb.NewInsert(toEntitlementModel(e)).Exec(ctx); err != nil {
		return writeErr("create entitlement", err)
	}
	return nil
}

func (s *Store) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	return s.findEntitlement(ctx, bson.M{"_id": entID.String()})
}

func (s *Store) GetEntitlementByPlanFeature(ctx context.Context, planID id.PlanID, featureID id.FeatureID) (*entitlement.Entitlement, error) {
	return s.findEntitlement(ctx, bson.M{"plan_id": planID.String(), "feature_id": featureID.String()})
}

func (s *Store) findEntitlement(ctx context.Context, filter bson.M) (*entitlement.Entitlement, error) {
	var m entitlementModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get entitlement: %w", err)
	}
	return fromEntitlementModel(&m)
}

func (s *Store) ListEntitlements(ctx context.Context, planID id.PlanID) ([]*entitlement.Entitlement, error) {
	var models []entitlementModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"plan_id": planID.String()}).
		Sort(catalogOrder).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list entitlements: %w", err)
	}
	return fromModels(models, fromEntitlementModel)
}

func (s *Store) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	m := toEntitlementModel(e)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return writeErr("update entitlement", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrEntitlementNotFound
	}
	return nil
}

func (s *Store) DeleteEntitlement(ctx context.Context, entID id.EntitlementID) error {
	res, err := s.mdb.NewDelete((*entitlementModel)(nil)).
		Filter(bson.M{"_id": entID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete entitlement: %w", err)
	}
	if res.DeletedCount() == 0 {
		return entitle.ErrEntitlementNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx); err != nil {
		return writeErr("create subscription", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(live(bson.M{"_id": subID.String()})).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriber types.Ref, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := live(bson.M{
		"subscriber_type": subscriber.Type,
		"subscriber_id":   subscriber.ID,
	})
	if !opts.PlanID.IsNil() {
		filter["plan_id"] = opts.PlanID.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
	}
	return fromModels(models, fromSubscriptionModel)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(live(bson.M{"_id": m.ID})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(live(bson.M{"_id": subID.String()})).
		Set("deleted_at", at.UTC()).
		Set("deleted", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptionsEndingBetween(ctx context.Context, after, upTo time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(live(bson.M{"end_at": bson.M{"$gt": after.UTC(), "$lte": upTo.UTC()}})).
		Sort(bson.D{{Key: "end_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list ending subscriptions: %w", err)
	}
	return fromModels(models, fromSubscriptionModel)
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, u *meter.Usage) error {
	if _, err := s.mdb.NewInsert(toUsageModel(u)).Exec(ctx); err != nil {
		return writeErr("append usage", err)
	}
	return nil
}

func usageWindow(subID id.SubscriptionID, featureID id.FeatureID, since time.Time) bson.M {
	return bson.M{
		"subscription_id": subID.String(),
		"feature_id":      featureID.String(),
		"created_at":      bson.M{"$gte": since.UTC()},
	}
}

func (s *Store) SumUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (float64, error) {
	pipeline := bson.A{
		bson.M{"$match": usageWindow(subID, featureID, since)},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$used"},
			},
		},
	}

	cursor, err := s.mdb.Collection(colUsages).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: sum usage: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("entitle/mongo: sum usage decode: %w", err)
	}

	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (s *Store) OldestUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (time.Time, bool, error) {
	var models []usageModel
	err := s.mdb.NewFind(&models).
		Filter(usageWindow(subID, featureID, since)).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("entitle/mongo: oldest usage: %w", err)
	}
	if len(models) == 0 {
		return time.Time{}, false, nil
	}
	return models[0].CreatedAt.UTC(), true, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) ([]*meter.Usage, error) {
	var models []usageModel
	err := s.mdb.NewFind(&models).
		Filter(usageWindow(subID, featureID, since)).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list usage: %w", err)
	}
	return fromModels(models, fromUsageModel)
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	if _, err := s.mdb.NewInsert(toEventModel(e)).Exec(ctx); err != nil {
		return writeErr("append event", err)
	}
	return nil
}

func (s *Store) EventExists(ctx context.Context, owner types.Ref, typ event.Type, since time.Time) (bool, error) {
	n, err := s.mdb.Collection(colEvents).CountDocuments(ctx, bson.M{
		"owner_type": owner.Type,
		"owner_id":   owner.ID,
		"type":       string(typ),
		"created_at": bson.M{"$gt": since.UTC()},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("entitle/mongo: event exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListEvents(ctx context.Context, owner types.Ref) ([]*event.Event, error) {
	var models []eventModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"owner_type": owner.Type, "owner_id": owner.ID}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list events: %w", err)
	}
	return fromModels(models, fromEventModel)
}

// ==================== Helpers ====================

// catalogOrder sorts plans, features and entitlements for display.
var catalogOrder = bson.D{
	{Key: "sort_order", Value: 1},
	{Key: "created_at", Value: 1},
	{Key: "_id", Value: 1},
}

// live restricts filter to documents that are not soft-deleted.
func live(filter bson.M) bson.M {
	filter["deleted"] = bson.M{"$ne": true}
	return filter
}

// writeErr wraps err, mapping duplicate keys to entitle.ErrAlreadyExists.
func writeErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("entitle/mongo: %s: %w", op, entitle.ErrAlreadyExists)
	}
	return fmt.Errorf("entitle/mongo: %s: %w", op, err)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	liveOnly := bson.M{"deleted": false}
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(liveOnly),
			},
			{Keys: bson.D{{Key: "sort_order", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colFeatures: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(liveOnly),
			},
		},
		colEntitlements: {
			{
				Keys:    bson.D{{Key: "plan_id", Value: 1}, {Key: "feature_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "subscriber_type", Value: 1}, {Key: "subscriber_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "end_at", Value: 1}}},
			{Keys: bson.D{{Key: "plan_id", Value: 1}}},
		},
		colUsages: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "feature_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "owner_type", Value: 1}, {Key: "owner_id", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
