// Package sqlite implements store.Store on SQLite through the grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("entitle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(toPlanModel(p)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("slug = ?", slug).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models).Where("deleted_at IS NULL")

	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("sort_order ASC, created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromModels(models, fromPlanModel)
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.sdb.NewUpdate(toPlanModel(p)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrPlanNotFound)
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("deleted_at = ?", nanos(at)).
		Where("id = ?", planID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrPlanNotFound)
}

// ==================== Feature Store ====================

func (s *Store) CreateFeature(ctx context.Context, f *feature.Feature) error {
	_, err := s.sdb.NewInsert(toFeatureModel(f)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetFeature(ctx context.Context, featureID id.FeatureID) (*feature.Feature, error) {
	m := new(featureModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", featureID.String()).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrFeatureNotFound
		}
		return nil, err
	}
	return fromFeatureModel(m)
}

func (s *Store) GetFeatureBySlug(ctx context.Context, slug string) (*feature.Feature, error) {
	m := new(featureModel)
	err := s.sdb.NewSelect(m).
		Where("slug = ?", slug).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrFeatureNotFound
		}
		return nil, err
	}
	return fromFeatureModel(m)
}

func (s *Store) ListFeatures(ctx context.Context, opts feature.ListOpts) ([]*feature.Feature, error) {
	var models []featureModel
	q := s.sdb.NewSelect(&models).Where("deleted_at IS NULL")

	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("sort_order ASC, created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromModels(models, fromFeatureModel)
}

func (s *Store) UpdateFeature(ctx context.Context, f *feature.Feature) error {
	res, err := s.sdb.NewUpdate(toFeatureModel(f)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrFeatureNotFound)
}

func (s *Store) DeleteFeature(ctx context.Context, featureID id.FeatureID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*featureModel)(nil)).
		Set("deleted_at = ?", nanos(at)).
		Where("id = ?", featureID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrFeatureNotFound)
}

// ==================== Entitlement Store ====================

func (s *Store) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	_, err := s.sdb.NewInsert(toEntitlementModel(e)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	m := new(entitlementModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", entID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrEntitlementNotFound
		}
		return nil, err
	}
	return fromEntitlementModel(m)
}

func (s *Store) GetEntitlementByPlanFeature(ctx context.Context, planID id.PlanID, featureID id.FeatureID) (*entitlement.Entitlement, error) {
	m := new(entitlementModel)
	err := s.sdb.NewSelect(m).
		Where("plan_id = ?", planID.String()).
		Where("feature_id = ?", featureID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrEntitlementNotFound
		}
		return nil, err
	}
	return fromEntitlementModel(m)
}

func (s *Store) ListEntitlements(ctx context.Context, planID id.PlanID) ([]*entitlement.Entitlement, error) {
	var models []entitlementModel
	err := s.sdb.NewSelect(&models).
		Where("plan_id = ?", planID.String()).
		OrderExpr("sort_order ASC, created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromEntitlementModel)
}

func (s *Store) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	res, err := s.sdb.NewUpdate(toEntitlementModel(e)).WherePK().Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrEntitlementNotFound)
}

func (s *Store) DeleteEntitlement(ctx context.Context, entID id.EntitlementID) error {
	res, err := s.sdb.NewDelete((*entitlementModel)(nil)).
		Where("id = ?", entID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrEntitlementNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriber types.Ref, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("subscriber_type = ?", subscriber.Type).
		Where("subscriber_id = ?", subscriber.ID).
		Where("deleted_at IS NULL")

	if !opts.PlanID.IsNil() {
		q = q.Where("plan_id = ?", opts.PlanID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromModels(models, fromSubscriptionModel)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewUpdate(toSubscriptionModel(sub)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrSubscriptionNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("deleted_at = ?", nanos(at)).
		Where("id = ?", subID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptionsEndingBetween(ctx context.Context, after, upTo time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("end_at > ?", nanos(after)).
		Where("end_at <= ?", nanos(upTo)).
		Where("deleted_at IS NULL").
		OrderExpr("end_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromSubscriptionModel)
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, u *meter.Usage) error {
	_, err := s.sdb.NewInsert(toUsageModel(u)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) SumUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (float64, error) {
	var total float64
	err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(used), 0) FROM entitle_usages
		WHERE subscription_id = ? AND feature_id = ? AND created_at >= ?
	`, subID.String(), featureID.String(), nanos(since)).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) OldestUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (time.Time, bool, error) {
	// MIN over no rows is NULL, which leaves oldest nil.
	var oldest *int64
	err := s.sdb.NewRaw(`
		SELECT MIN(created_at) FROM entitle_usages
		WHERE subscription_id = ? AND feature_id = ? AND created_at >= ?
	`, subID.String(), featureID.String(), nanos(since)).Scan(ctx, &oldest)
	if err != nil || oldest == nil {
		return time.Time{}, false, err
	}
	return fromNanos(*oldest), true, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) ([]*meter.Usage, error) {
	var models []usageModel
	err := s.sdb.NewSelect(&models).
		Where("subscription_id = ?", subID.String()).
		Where("feature_id = ?", featureID.String()).
		Where("created_at >= ?", nanos(since)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromUsageModel)
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := s.sdb.NewInsert(toEventModel(e)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) EventExists(ctx context.Context, owner types.Ref, typ event.Type, since time.Time) (bool, error) {
	var found int
	err := s.sdb.NewRaw(`
		SELECT EXISTS (
			SELECT 1 FROM entitle_events
			WHERE owner_type = ? AND owner_id = ? AND type = ? AND created_at > ?
		)
	`, owner.Type, owner.ID, string(typ), nanos(since)).Scan(ctx, &found)
	if err != nil {
		return false, err
	}
	return found == 1, nil
}

func (s *Store) ListEvents(ctx context.Context, owner types.Ref) ([]*event.Event, error) {
	var models []eventModel
	err := s.sdb.NewSelect(&models).
		Where("owner_type = ?", owner.Type).
		Where("owner_id = ?", owner.ID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromEventModel)
}

// ==================== Helpers ====================

// rowsResult is the part of a grove exec result the store reads.
type rowsResult interface {
	RowsAffected() (int64, error)
}

// expectRow returns notFound when res touched no rows.
func expectRow(res rowsResult, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// mapWriteErr turns unique index conflicts into entitle.ErrAlreadyExists.
// SQLite reports them only through the error text.
func mapWriteErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", entitle.ErrAlreadyExists, err.Error())
	}
	return err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
