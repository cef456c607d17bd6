package entitle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Subscriber answers quota questions across every active subscription of
// one subscriber. Subscriptions whose plan does not grant the slug are
// skipped; when none grants it the answer is ErrFeatureNotEntitled.
type Subscriber struct {
	ref       types.Ref
	lifecycle *Lifecycle
	quota     *Quota
}

func (s *Subscriber) Ref() types.Ref { return s.ref }

// Subscribe subscribes this subscriber to planID.
func (s *Subscriber) Subscribe(ctx context.Context, planID id.PlanID, opts SubscribeOptions) (*subscription.Subscription, error) {
	return s.lifecycle.Subscribe(ctx, s.ref, planID, opts)
}

// Subscribed reports whether an active or pending subscription to planID
// exists.
func (s *Subscriber) Subscribed(ctx context.Context, planID id.PlanID) (bool, error) {
	return s.lifecycle.Subscribed(ctx, s.ref, planID)
}

// Subscriptions lists every subscription, oldest first.
func (s *Subscriber) Subscriptions(ctx context.Context, opts ListOptions) ([]*subscription.Subscription, error) {
	return s.lifecycle.ListSubscriptions(ctx, s.ref, opts)
}

// Active lists the active subscriptions, oldest first.
func (s *Subscriber) Active(ctx context.Context) ([]*subscription.Subscription, error) {
	return s.lifecycle.ListSubscriptions(ctx, s.ref, ListOptions{Status: subscription.StatusActive})
}

// HasActiveFeature reports whether any active subscription grants slug.
func (s *Subscriber) HasActiveFeature(ctx context.Context, slug string) (bool, error) {
	subs, err := s.Active(ctx)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		ok, err := s.quota.HasActiveFeature(ctx, sub, slug)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Remaining sums the remaining quota of slug over the active subscriptions
// that grant it.
func (s *Subscriber) Remaining(ctx context.Context, slug string) (float64, error) {
	subs, err := s.Active(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total   float64
		granted bool
	)
	for _, sub := range subs {
		rem, err := s.quota.Remaining(ctx, sub, slug)
		if errors.Is(err, ErrFeatureNotEntitled) {
			continue
		}
		if err != nil {
			return 0, err
		}
		granted = true
		total += rem
	}
	if !granted {
		return 0, fmt.Errorf("%w: %q", ErrFeatureNotEntitled, slug)
	}
	return total, nil
}

// CanUse reports whether any active subscription can cover amount of slug.
func (s *Subscriber) CanUse(ctx context.Context, slug string, amount float64) (bool, error) {
	sub, err := s.usable(ctx, slug, amount)
	return sub != nil, err
}

// Use records amount against the oldest active subscription that can cover
// it.
func (s *Subscriber) Use(ctx context.Context, slug string, amount float64) (*meter.Usage, error) {
	sub, err := s.usable(ctx, slug, amount)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: no active subscription of %s can use %q", ErrFeatureNotUsable, s.ref, slug)
	}
	return s.quota.Use(ctx, sub, slug, amount)
}

func (s *Subscriber) usable(ctx context.Context, slug string, amount float64) (*subscription.Subscription, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, invalid("amount", "must be a positive number, got %v", amount)
	}

	subs, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		ok, err := s.quota.CanUse(ctx, sub, slug, amount)
		if errors.Is(err, ErrFeatureNotEntitled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			return sub, nil
		}
	}
	return nil, nil
}

// NextAvailable combines the active subscriptions: unlimited if any is
// unlimited, otherwise the earliest reset instant, otherwise not
// resettable.
func (s *Subscriber) NextAvailable(ctx context.Context, slug string) (Availability, error) {
	subs, err := s.Active(ctx)
	if err != nil {
		return Availability{}, err
	}

	var (
		earliest Availability
		granted  bool
	)
	for _, sub := range subs {
		a, err := s.quota.NextAvailable(ctx, sub, slug)
		if errors.Is(err, ErrFeatureNotEntitled) {
			continue
		}
		if err != nil {
			return Availability{}, err
		}
		granted = true

		switch a.Kind {
		case AvailabilityUnlimited:
			return a, nil
		case AvailabilityAt:
			if earliest.Kind != AvailabilityAt || a.At.Before(earliest.At) {
				earliest = a
			}
		}
	}

	switch {
	case !granted:
		return Availability{}, fmt.Errorf("%w: %q", ErrFeatureNotEntitled, slug)
	case earliest.Kind == AvailabilityAt:
		return earliest, nil
	default:
		return Availability{Kind: AvailabilityNotResettable}, nil
	}
}
