// Package signal carries the one-shot side effects fired by the lifecycle
// scheduler when a subscription crosses its end boundary.
package signal

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Signal is the payload emitted once per boundary crossing. Consumers must
// tolerate duplicates: delivery is at-least-once when recording fails after
// a successful emit.
type Signal struct {
	ID             id.SignalID       `json:"id"`
	Type           event.Type        `json:"type"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Subscriber     types.Ref         `json:"subscriber"`
	PlanID         id.PlanID         `json:"plan_id"`
	EndAt          time.Time         `json:"end_at"`
	FiredAt        time.Time         `json:"fired_at"`
}

// RoutingKey is the topic the signal is published under.
func (s Signal) RoutingKey() string { return string(s.Type) }

// Emitter delivers signals to whatever reacts to lifecycle transitions.
type Emitter interface {
	Emit(ctx context.Context, s Signal) error
}

// Noop discards every signal.
type Noop struct{}

func (Noop) Emit(context.Context, Signal) error { return nil }

// Func adapts a plain function to an Emitter.
type Func func(ctx context.Context, s Signal) error

func (f Func) Emit(ctx context.Context, s Signal) error { return f(ctx, s) }

// Multi fans a signal out to every emitter. All emitters are attempted;
// their errors are joined.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, s Signal) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
