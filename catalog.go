package entitle

import (
	"context"
	"fmt"
	"regexp"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Catalog manages the static configuration: plans, features, and the
// entitlements granting features to plans.
type Catalog struct {
	*core
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

// CreatePlan validates and stores p. A nil ID is generated.
func (c *Catalog) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validateSlug(p.Slug); err != nil {
		return err
	}
	if err := validatePeriod("reset_period", p.ResetPeriod); err != nil {
		return err
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntity(c.now())
	p.DeletedAt = nil
	p.Price = types.NewMoney(p.Price.Amount, p.Price.Currency)

	if err := c.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	c.plugins.EmitPlanCreated(ctx, p)
	c.logger.Debug("plan created", "plan_id", p.ID.String(), "slug", p.Slug)
	return nil
}

func (c *Catalog) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return c.store.GetPlan(ctx, planID)
}

func (c *Catalog) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return c.store.GetPlanBySlug(ctx, slug)
}

// ListPlans returns plans ordered by sort order, then creation time.
func (c *Catalog) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return c.store.ListPlans(ctx, opts)
}

// UpdatePlan replaces the mutable fields of an existing plan. The slug and
// creation time cannot change.
func (c *Catalog) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	existing, err := c.store.GetPlan(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Slug != existing.Slug {
		return ErrImmutableSlug
	}
	if err := validatePeriod("reset_period", p.ResetPeriod); err != nil {
		return err
	}

	p.CreatedAt = existing.CreatedAt
	p.DeletedAt = nil
	p.Touch(c.now())
	p.Price = types.NewMoney(p.Price.Amount, p.Price.Currency)

	if err := c.store.UpdatePlan(ctx, p); err != nil {
		return err
	}

	c.plugins.EmitPlanUpdated(ctx, p)
	return nil
}

// DeletePlan soft-deletes a plan, freeing its slug. Existing subscriptions
// keep their plan reference.
func (c *Catalog) DeletePlan(ctx context.Context, planID id.PlanID) error {
	if err := c.store.DeletePlan(ctx, planID, c.now()); err != nil {
		return err
	}

	c.plugins.EmitPlanDeleted(ctx, planID)
	return nil
}

// ──────────────────────────────────────────────────
// Features
// ──────────────────────────────────────────────────

// CreateFeature validates and stores f. A nil ID is generated.
func (c *Catalog) CreateFeature(ctx context.Context, f *feature.Feature) error {
	if err := validateSlug(f.Slug); err != nil {
		return err
	}
	if !f.Type.Valid() {
		return invalid("type", "unknown feature type %q", f.Type)
	}

	if f.ID.IsNil() {
		f.ID = id.NewFeatureID()
	}
	f.Entity = types.NewEntity(c.now())
	f.DeletedAt = nil

	if err := c.store.CreateFeature(ctx, f); err != nil {
		return err
	}

	c.plugins.EmitFeatureCreated(ctx, f)
	c.logger.Debug("feature created", "feature_id", f.ID.String(), "slug", f.Slug, "type", string(f.Type))
	return nil
}

func (c *Catalog) GetFeature(ctx context.Context, featureID id.FeatureID) (*feature.Feature, error) {
	return c.store.GetFeature(ctx, featureID)
}

func (c *Catalog) GetFeatureBySlug(ctx context.Context, slug string) (*feature.Feature, error) {
	return c.store.GetFeatureBySlug(ctx, slug)
}

func (c *Catalog) ListFeatures(ctx context.Context, opts feature.ListOpts) ([]*feature.Feature, error) {
	return c.store.ListFeatures(ctx, opts)
}

// UpdateFeature replaces the mutable fields of an existing feature. Type
// and slug are fixed at creation.
func (c *Catalog) UpdateFeature(ctx context.Context, f *feature.Feature) error {
	existing, err := c.store.GetFeature(ctx, f.ID)
	if err != nil {
		return err
	}
	if f.Type != existing.Type {
		return ErrImmutableFeatureType
	}
	if f.Slug != existing.Slug {
		return ErrImmutableSlug
	}

	f.CreatedAt = existing.CreatedAt
	f.DeletedAt = nil
	f.Touch(c.now())

	return c.store.UpdateFeature(ctx, f)
}

// DeleteFeature soft-deletes a feature. Its entitlements stop resolving by
// slug.
func (c *Catalog) DeleteFeature(ctx context.Context, featureID id.FeatureID) error {
	return c.store.DeleteFeature(ctx, featureID, c.now())
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// GrantOptions are the optional parts of a grant.
type GrantOptions struct {
	// ResetPeriod makes the quota a rolling window. Nil is a lifetime cap.
	ResetPeriod  *period.Period
	DisplayValue types.Text
	SortOrder    int
}

// Grant entitles a plan to a feature with the given quota. A pair can be
// granted once; a second grant fails with ErrAlreadyExists.
func (c *Catalog) Grant(ctx context.Context, planID id.PlanID, featureID id.FeatureID, value entitlement.Value, opts GrantOptions) (*entitlement.Entitlement, error) {
	if _, err := c.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	if _, err := c.store.GetFeature(ctx, featureID); err != nil {
		return nil, err
	}

	ent := &entitlement.Entitlement{
		Entity:       types.NewEntity(c.now()),
		ID:           id.NewEntitlementID(),
		PlanID:       planID,
		FeatureID:    featureID,
		Value:        value,
		DisplayValue: opts.DisplayValue,
		ResetPeriod:  opts.ResetPeriod,
		SortOrder:    opts.SortOrder,
	}
	if err := validateEntitlement(ent); err != nil {
		return nil, err
	}

	if err := c.store.CreateEntitlement(ctx, ent); err != nil {
		return nil, err
	}

	c.plugins.EmitEntitlementGranted(ctx, ent)
	c.logger.Debug("feature granted",
		"plan_id", planID.String(),
		"feature_id", featureID.String(),
		"value", value.String(),
	)
	return ent, nil
}

// Entitlement returns the grant of featureID on planID.
func (c *Catalog) Entitlement(ctx context.Context, planID id.PlanID, featureID id.FeatureID) (*entitlement.Entitlement, error) {
	return c.store.GetEntitlementByPlanFeature(ctx, planID, featureID)
}

// UpdateEntitlement changes the quota, reset period, display value or sort
// order of a grant. The plan and feature cannot change.
func (c *Catalog) UpdateEntitlement(ctx context.Context, ent *entitlement.Entitlement) error {
	existing, err := c.store.GetEntitlement(ctx, ent.ID)
	if err != nil {
		return err
	}
	if ent.PlanID != existing.PlanID || ent.FeatureID != existing.FeatureID {
		return invalid("entitlement", "plan and feature of a grant are immutable")
	}
	if err := validateEntitlement(ent); err != nil {
		return err
	}

	ent.CreatedAt = existing.CreatedAt
	ent.Touch(c.now())

	return c.store.UpdateEntitlement(ctx, ent)
}

// Revoke removes the grant of featureID from planID. Recorded usage is kept.
func (c *Catalog) Revoke(ctx context.Context, planID id.PlanID, featureID id.FeatureID) error {
	ent, err := c.store.GetEntitlementByPlanFeature(ctx, planID, featureID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteEntitlement(ctx, ent.ID); err != nil {
		return err
	}

	c.plugins.EmitEntitlementRevoked(ctx, ent)
	return nil
}

// ListEntitlements returns the grants of a plan in sort order.
func (c *Catalog) ListEntitlements(ctx context.Context, planID id.PlanID) ([]*entitlement.Entitlement, error) {
	return c.store.ListEntitlements(ctx, planID)
}

func validateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return invalid("slug", "%q must match %s", slug, slugPattern.String())
	}
	return nil
}

func validatePeriod(field string, p *period.Period) error {
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %w", field, wrapPeriod(err))
	}
	return nil
}

func validateEntitlement(ent *entitlement.Entitlement) error {
	if err := ent.Value.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return validatePeriod("reset_period", ent.ResetPeriod)
}
