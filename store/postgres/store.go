// Package postgres implements store.Store on PostgreSQL through the grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// uniqueViolation is the SQLSTATE of a unique index conflict.
const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to the database at dsn and wraps it in a Store.
func Open(ctx context.Context, dsn string, poolSize int) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("entitle/postgres: database URL is required")
	}

	var opts []driver.Option
	if poolSize > 0 {
		opts = append(opts, driver.WithPoolSize(poolSize))
	}

	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("entitle/postgres: open: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("entitle/postgres: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(toPlanModel(p)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
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
	err := s.pg.NewSelect(m).
		Where("slug = $1", slug).
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
	q := s.pg.NewSelect(&models).Where("deleted_at IS NULL")

	if opts.ActiveOnly {
		q = q.Where("active = $1", true)
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
	res, err := s.pg.NewUpdate(toPlanModel(p)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrPlanNotFound)
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID, at time.Time) error {
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("deleted_at = $1", at.UTC()).
		Where("id = $2", planID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrPlanNotFound)
}

// ==================== Feature Store ====================

func (s *Store) CreateFeature(ctx context.Context, f *feature.Feature) error {
	_, err := s.pg.NewInsert(toFeatureModel(f)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetFeature(ctx context.Context, featureID id.FeatureID) (*feature.Feature, error) {
	m := new(featureModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", featureID.String()).
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
	err := s.pg.NewSelect(m).
		Where("slug = $1", slug).
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
	q := s.pg.NewSelect(&models).Where("deleted_at IS NULL")

	if opts.Type != "" {
		q = q.Where("type = $1", string(opts.Type))
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
	res, err := s.pg.NewUpdate(toFeatureModel(f)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrFeatureNotFound)
}

func (s *Store) DeleteFeature(ctx context.Context, featureID id.FeatureID, at time.Time) error {
	res, err := s.pg.NewUpdate((*featureModel)(nil)).
		Set("deleted_at = $1", at.UTC()).
		Where("id = $2", featureID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrFeatureNotFound)
}

// ==================== Entitlement Store ====================

func (s *Store) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	_, err := s.pg.NewInsert(toEntitlementModel(e)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	m := new(entitlementModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", entID.String()).
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
	err := s.pg.NewSelect(m).
		Where("plan_id = $1", planID.String()).
		Where("feature_id = $2", featureID.String()).
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
	err := s.pg.NewSelect(&models).
		Where("plan_id = $1", planID.String()).
		OrderExpr("sort_order ASC, created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromEntitlementModel)
}

func (s *Store) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	res, err := s.pg.NewUpdate(toEntitlementModel(e)).WherePK().Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectRow(res, entitle.ErrEntitlementNotFound)
}

func (s *Store) DeleteEntitlement(ctx context.Context, entID id.EntitlementID) error {
	res, err := s.pg.NewDelete((*entitlementModel)(nil)).
		Where("id = $1", entID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrEntitlementNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pg.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	q := s.pg.NewSelect(&models).
		Where("subscriber_type = $1", subscriber.Type).
		Where("subscriber_id = $2", subscriber.ID).
		Where("deleted_at IS NULL")

	if !opts.PlanID.IsNil() {
		q = q.Where("plan_id = $3", opts.PlanID.String())
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
	res, err := s.pg.NewUpdate(toSubscriptionModel(sub)).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrSubscriptionNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("deleted_at = $1", at.UTC()).
		Where("id = $2", subID.String()).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, entitle.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptionsEndingBetween(ctx context.Context, after, upTo time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("end_at > $1", after.UTC()).
		Where("end_at <= $2", upTo.UTC()).
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
	_, err := s.pg.NewInsert(toUsageModel(u)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) SumUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (float64, error) {
	var total float64
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(used), 0) FROM entitle_usages
		WHERE subscription_id = $1 AND feature_id = $2 AND created_at >= $3
	`, subID.String(), featureID.String(), since.UTC()).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) OldestUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (time.Time, bool, error) {
	// MIN over no rows is NULL, which leaves oldest nil.
	var oldest *time.Time
	err := s.pg.NewRaw(`
		SELECT MIN(created_at) FROM entitle_usages
		WHERE subscription_id = $1 AND feature_id = $2 AND created_at >= $3
	`, subID.String(), featureID.String(), since.UTC()).Scan(ctx, &oldest)
	if err != nil || oldest == nil {
		return time.Time{}, false, err
	}
	return oldest.UTC(), true, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) ([]*meter.Usage, error) {
	var models []usageModel
	err := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String()).
		Where("feature_id = $2", featureID.String()).
		Where("created_at >= $3", since.UTC()).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromUsageModel)
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := s.pg.NewInsert(toEventModel(e)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) EventExists(ctx context.Context, owner types.Ref, typ event.Type, since time.Time) (bool, error) {
	var found bool
	err := s.pg.NewRaw(`
		SELECT EXISTS (
			SELECT 1 FROM entitle_events
			WHERE owner_type = $1 AND owner_id = $2 AND type = $3 AND created_at > $4
		)
	`, owner.Type, owner.ID, string(typ), since.UTC()).Scan(ctx, &found)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *Store) ListEvents(ctx context.Context, owner types.Ref) ([]*event.Event, error) {
	var models []eventModel
	err := s.pg.NewSelect(&models).
		Where("owner_type = $1", owner.Type).
		Where("owner_id = $2", owner.ID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(models, fromEventModel)
}

// ==================== Helpers ====================

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
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", entitle.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

// isNoRows checks for both the database/sql and pgx no-rows sentinels.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
