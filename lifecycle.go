package entitle

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Lifecycle creates subscriptions and moves them between phases. Phases are
// never stored; they are derived from start, end and cancellation times.
type Lifecycle struct {
	*core
	resolvers *Resolvers
}

// SubscribeOptions control how a subscription starts.
type SubscribeOptions struct {
	// StartAt defaults to now. It is ignored when Pending is set.
	StartAt *time.Time
	// EndAt defaults to StartAt plus the plan's reset period, if any.
	EndAt *time.Time
	// Pending creates the subscription without a start; Resume activates it.
	Pending  bool
	Metadata map[string]string
}

// ResumeOptions control how a cancelled or pending subscription resumes.
type ResumeOptions struct {
	// StartAt is used only when the subscription has never started.
	StartAt *time.Time
	// EndAt defaults to the start plus the plan's reset period.
	EndAt *time.Time
}

// ListOptions filter a subscriber's subscriptions. Status is matched
// against the derived phase at query time.
type ListOptions struct {
	PlanID id.PlanID
	Status subscription.Status
	Limit  int
	Offset int
}

// Subscribe creates a subscription of subscriber to planID. An unknown plan
// is an invalid argument.
func (l *Lifecycle) Subscribe(ctx context.Context, subscriber types.Ref, planID id.PlanID, opts SubscribeOptions) (*subscription.Subscription, error) {
	if err := l.resolvers.Validate(ctx, subscriber); err != nil {
		return nil, err
	}

	p, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return nil, err
	}

	now := l.now()

	var start *time.Time
	if !opts.Pending {
		s := now
		if opts.StartAt != nil {
			s = opts.StartAt.UTC()
		}
		start = &s
	}

	var end *time.Time
	switch {
	case opts.EndAt != nil:
		e := opts.EndAt.UTC()
		end = &e
	case start != nil:
		end, err = p.EndAt(*start)
		if err != nil {
			return nil, wrapPeriod(err)
		}
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, invalid("end_at", "ends before it starts")
	}

	sub := &subscription.Subscription{
		Entity:     types.NewEntity(now),
		ID:         id.NewSubscriptionID(),
		Subscriber: subscriber,
		PlanID:     p.ID,
		StartAt:    start,
		EndAt:      end,
		Metadata:   opts.Metadata,
	}

	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionCreated(ctx, sub)
	l.logger.Debug("subscription created",
		"subscription_id", sub.ID.String(),
		"subscriber", subscriber.String(),
		"plan_id", p.ID.String(),
		"status", string(sub.Status(now)),
	)
	return sub, nil
}

// Cancel marks a subscription cancelled now. The end moves to now when
// immediately is set or the subscription was open-ended; otherwise the
// existing end is kept.
func (l *Lifecycle) Cancel(ctx context.Context, subID id.SubscriptionID, immediately bool) (*subscription.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	cancelled := now
	sub.CancelledAt = &cancelled
	if immediately || sub.EndAt == nil {
		end := cancelled
		sub.EndAt = &end
	}
	sub.Touch(now)

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionCancelled(ctx, sub)
	l.logger.Debug("subscription cancelled",
		"subscription_id", sub.ID.String(),
		"immediately", immediately,
	)
	return sub, nil
}

// Resume clears the cancellation. A subscription that never started gets
// opts.StartAt or now; an existing start is never moved. The end is
// recomputed from the start unless opts.EndAt is given.
func (l *Lifecycle) Resume(ctx context.Context, subID id.SubscriptionID, opts ResumeOptions) (*subscription.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	sub.CancelledAt = nil
	if sub.StartAt == nil {
		s := now
		if opts.StartAt != nil {
			s = opts.StartAt.UTC()
		}
		sub.StartAt = &s
	}

	if opts.EndAt != nil {
		e := opts.EndAt.UTC()
		sub.EndAt = &e
	} else {
		p, err := l.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, err
		}
		sub.EndAt, err = p.EndAt(*sub.StartAt)
		if err != nil {
			return nil, wrapPeriod(err)
		}
	}
	sub.Touch(now)

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionResumed(ctx, sub)
	l.logger.Debug("subscription resumed", "subscription_id", sub.ID.String())
	return sub, nil
}

// Status derives the phase of sub at the engine's current time.
func (l *Lifecycle) Status(sub *subscription.Subscription) subscription.Status {
	return sub.Status(l.now())
}

func (l *Lifecycle) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// ListSubscriptions returns subscriber's subscriptions, oldest first.
func (l *Lifecycle) ListSubscriptions(ctx context.Context, subscriber types.Ref, opts ListOptions) ([]*subscription.Subscription, error) {
	if opts.Status == "" {
		return l.store.ListSubscriptions(ctx, subscriber, subscription.ListOpts{
			PlanID: opts.PlanID,
			Limit:  opts.Limit,
			Offset: opts.Offset,
		})
	}

	// Status is derived, so filter before paging.
	all, err := l.store.ListSubscriptions(ctx, subscriber, subscription.ListOpts{PlanID: opts.PlanID})
	if err != nil {
		return nil, err
	}
	now := l.now()
	matched := make([]*subscription.Subscription, 0, len(all))
	for _, sub := range all {
		if sub.Status(now) == opts.Status {
			matched = append(matched, sub)
		}
	}
	return page(matched, opts.Offset, opts.Limit), nil
}

// Subscribed reports whether subscriber holds an active or pending
// subscription to planID.
func (l *Lifecycle) Subscribed(ctx context.Context, subscriber types.Ref, planID id.PlanID) (bool, error) {
	subs, err := l.store.ListSubscriptions(ctx, subscriber, subscription.ListOpts{PlanID: planID})
	if err != nil {
		return false, err
	}
	now := l.now()
	for _, sub := range subs {
		switch sub.Status(now) {
		case subscription.StatusActive, subscription.StatusPending:
			return true, nil
		}
	}
	return false, nil
}

// DeleteSubscription soft-deletes a subscription. It disappears from every
// query, including scheduler sweeps.
func (l *Lifecycle) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	return l.store.DeleteSubscription(ctx, subID, l.now())
}

func page[T any](items []T, offset, limit int) []T {
	offset = max(0, min(offset, len(items)))
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
