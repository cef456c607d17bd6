// Package memory is an in-process store.Store backed by maps. It is the
// default backend for tests and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps copies of records so callers cannot mutate stored state
// without going through an Update method.
type Store struct {
	mu sync.RWMutex

	plans         map[string]*plan.Plan
	features      map[string]*feature.Feature
	entitlements  map[string]*entitlement.Entitlement
	subscriptions map[string]*subscription.Subscription
	usage         []meter.Usage
	events        []event.Event

	closed bool
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		features:      make(map[string]*feature.Feature),
		entitlements:  make(map[string]*entitlement.Entitlement),
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, existing := range s.plans {
		if !existing.IsDeleted() && existing.Slug == p.Slug {
			return entitle.ErrAlreadyExists
		}
	}
	cp := *p
	s.plans[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID.String()]
	if !ok || p.IsDeleted() {
		return nil, entitle.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if !p.IsDeleted() && p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, entitle.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.IsDeleted() || (opts.ActiveOnly && !p.Active) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return sortedBefore(result[i].SortOrder, result[j].SortOrder, result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.plans[p.ID.String()]
	if !ok || existing.IsDeleted() {
		return entitle.ErrPlanNotFound
	}
	cp := *p
	s.plans[p.ID.String()] = &cp
	return nil
}

func (s *Store) DeletePlan(_ context.Context, planID id.PlanID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID.String()]
	if !ok || p.IsDeleted() {
		return entitle.ErrPlanNotFound
	}
	p.MarkDeleted(at)
	return nil
}

// ==================== Feature Store ====================

func (s *Store) CreateFeature(_ context.Context, f *feature.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.features[f.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, existing := range s.features {
		if !existing.IsDeleted() && existing.Slug == f.Slug {
			return entitle.ErrAlreadyExists
		}
	}
	cp := *f
	s.features[f.ID.String()] = &cp
	return nil
}

func (s *Store) GetFeature(_ context.Context, featureID id.FeatureID) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.features[featureID.String()]
	if !ok || f.IsDeleted() {
		return nil, entitle.ErrFeatureNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) GetFeatureBySlug(_ context.Context, slug string) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.features {
		if !f.IsDeleted() && f.Slug == slug {
			cp := *f
			return &cp, nil
		}
	}
	return nil, entitle.ErrFeatureNotFound
}

func (s *Store) ListFeatures(_ context.Context, opts feature.ListOpts) ([]*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*feature.Feature, 0, len(s.features))
	for _, f := range s.features {
		if f.IsDeleted() || (opts.Type != "" && f.Type != opts.Type) {
			continue
		}
		cp := *f
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return sortedBefore(result[i].SortOrder, result[j].SortOrder, result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateFeature(_ context.Context, f *feature.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.features[f.ID.String()]
	if !ok || existing.IsDeleted() {
		return entitle.ErrFeatureNotFound
	}
	cp := *f
	s.features[f.ID.String()] = &cp
	return nil
}

func (s *Store) DeleteFeature(_ context.Context, featureID id.FeatureID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.features[featureID.String()]
	if !ok || f.IsDeleted() {
		return entitle.ErrFeatureNotFound
	}
	f.MarkDeleted(at)
	return nil
}

// ==================== Entitlement Store ====================

func (s *Store) CreateEntitlement(_ context.Context, e *entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entitlements[e.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, existing := range s.entitlements {
		if existing.PlanID == e.PlanID && existing.FeatureID == e.FeatureID {
			return entitle.ErrAlreadyExists
		}
	}
	cp := *e
	s.entitlements[e.ID.String()] = &cp
	return nil
}

func (s *Store) GetEntitlement(_ context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entitlements[entID.String()]
	if !ok {
		return nil, entitle.ErrEntitlementNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetEntitlementByPlanFeature(_ context.Context, planID id.PlanID, featureID id.FeatureID) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entitlements {
		if e.PlanID == planID && e.FeatureID == featureID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, entitle.ErrEntitlementNotFound
}

func (s *Store) ListEntitlements(_ context.Context, planID id.PlanID) ([]*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entitlement.Entitlement, 0)
	for _, e := range s.entitlements {
		if e.PlanID == planID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return sortedBefore(result[i].SortOrder, result[j].SortOrder, result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) UpdateEntitlement(_ context.Context, e *entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entitlements[e.ID.String()]; !ok {
		return entitle.ErrEntitlementNotFound
	}
	cp := *e
	s.entitlements[e.ID.String()] = &cp
	return nil
}

func (s *Store) DeleteEntitlement(_ context.Context, entID id.EntitlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entitlements[entID.String()]; !ok {
		return entitle.ErrEntitlementNotFound
	}
	delete(s.entitlements, entID.String())
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok || sub.IsDeleted() {
		return nil, entitle.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) ListSubscriptions(_ context.Context, subscriber types.Ref, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.IsDeleted() || sub.Subscriber != subscriber {
			continue
		}
		if !opts.PlanID.IsNil() && sub.PlanID != opts.PlanID {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return createdBefore(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok || existing.IsDeleted() {
		return entitle.ErrSubscriptionNotFound
	}
	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, subID id.SubscriptionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok || sub.IsDeleted() {
		return entitle.ErrSubscriptionNotFound
	}
	sub.MarkDeleted(at)
	return nil
}

func (s *Store) ListSubscriptionsEndingBetween(_ context.Context, after, upTo time.Time) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.IsDeleted() || sub.EndAt == nil {
			continue
		}
		if sub.EndAt.After(after) && !sub.EndAt.After(upTo) {
			cp := *sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EndAt.Before(*result[j].EndAt)
	})
	return result, nil
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(_ context.Context, u *meter.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = append(s.usage, *u)
	return nil
}

func (s *Store) SumUsage(_ context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for i := range s.usage {
		if inWindow(&s.usage[i], subID, featureID, since) {
			total += s.usage[i].Value
		}
	}
	return total, nil
}

func (s *Store) OldestUsage(_ context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		oldest time.Time
		found  bool
	)
	for i := range s.usage {
		u := &s.usage[i]
		if !inWindow(u, subID, featureID, since) {
			continue
		}
		if !found || u.CreatedAt.Before(oldest) {
			oldest = u.CreatedAt
			found = true
		}
	}
	return oldest, found, nil
}

func (s *Store) ListUsage(_ context.Context, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) ([]*meter.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.Usage, 0)
	for i := range s.usage {
		if inWindow(&s.usage[i], subID, featureID, since) {
			cp := s.usage[i]
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *Store) EventExists(_ context.Context, owner types.Ref, typ event.Type, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		e := &s.events[i]
		if e.Owner == owner && e.Type == typ && e.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListEvents(_ context.Context, owner types.Ref) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for i := range s.events {
		if s.events[i].Owner == owner {
			cp := s.events[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return entitle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ==================== Helpers ====================

func inWindow(u *meter.Usage, subID id.SubscriptionID, featureID id.FeatureID, since time.Time) bool {
	if u.SubscriptionID != subID || u.FeatureID != featureID {
		return false
	}
	return since.IsZero() || !u.CreatedAt.Before(since)
}

func sortedBefore(ai, aj int, ci, cj time.Time, ii, ij id.ID) bool {
	if ai != aj {
		return ai < aj
	}
	return createdBefore(ci, cj, ii, ij)
}

func createdBefore(ci, cj time.Time, ii, ij id.ID) bool {
	if !ci.Equal(cj) {
		return ci.Before(cj)
	}
	return ii.String() < ij.String()
}

func paginate[T any](items []T, offset, limit int) []T {
	offset = max(0, min(offset, len(items)))
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
