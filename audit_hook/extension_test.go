package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	audithook "github.com/xraph/entitle/audit_hook"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

type memRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
	err    error
}

func (r *memRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *memRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func quiet() audithook.Option {
	return audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtension_EngineHooks(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	eng := entitle.New(memory.New(),
		entitle.WithPlugin(audithook.New(rec, quiet())),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	p := &plan.Plan{Slug: "pro", Name: entitle.T("Pro"), Active: true}
	require.NoError(t, eng.Catalog().CreatePlan(ctx, p))
	_, err := eng.Lifecycle().Subscribe(ctx, types.NewRef("user", "u1"), p.ID, entitle.SubscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		audithook.ActionPlanCreated,
		audithook.ActionSubscriptionCreated,
	}, rec.actions())
	assert.Equal(t, p.ID.String(), rec.events[0].ResourceID)
	assert.Equal(t, "pro", rec.events[0].Metadata["slug"])
}

func TestExtension_SignalHooks(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	ext := audithook.New(rec, quiet())

	s := signal.Signal{
		ID:             id.NewSignalID(),
		Type:           event.TypeSubscriptionEnded,
		SubscriptionID: id.NewSubscriptionID(),
		Subscriber:     types.NewRef("user", "u1"),
		EndAt:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ext.OnSubscriptionEnded(ctx, s))
	require.NoError(t, ext.OnSubscriptionEndingSoon(ctx, s))

	require.Len(t, rec.events, 2)
	assert.Equal(t, audithook.ActionSubscriptionEnded, rec.events[0].Action)
	assert.Equal(t, audithook.ActionSubscriptionEndingSoon, rec.events[1].Action)
	assert.Equal(t, s.SubscriptionID.String(), rec.events[0].ResourceID)
	assert.Equal(t, "user:u1", rec.events[0].Metadata["subscriber"])
}

func TestExtension_RecorderFailureIsSwallowed(t *testing.T) {
	rec := &memRecorder{err: errors.New("audit store down")}
	ext := audithook.New(rec, quiet())

	err := ext.OnPlanDeleted(context.Background(), id.NewPlanID())
	assert.NoError(t, err)
	assert.Len(t, rec.events, 1)
}

func TestExtension_ActionFilters(t *testing.T) {
	ctx := context.Background()
	p := &plan.Plan{ID: id.NewPlanID(), Slug: "pro"}

	tests := []struct {
		name string
		opts []audithook.Option
		want []string
	}{
		{"all by default", nil, []string{audithook.ActionPlanCreated, audithook.ActionPlanUpdated}},
		{
			"enabled only",
			[]audithook.Option{audithook.WithEnabledActions(audithook.ActionPlanUpdated)},
			[]string{audithook.ActionPlanUpdated},
		},
		{
			"disabled",
			[]audithook.Option{audithook.WithDisabledActions(audithook.ActionPlanUpdated)},
			[]string{audithook.ActionPlanCreated},
		},
		{
			"disabled before enabled",
			[]audithook.Option{
				audithook.WithDisabledActions(audithook.ActionPlanCreated),
				audithook.WithEnabledActions(audithook.ActionPlanCreated, audithook.ActionPlanUpdated),
			},
			[]string{audithook.ActionPlanUpdated},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			ext := audithook.New(rec, append([]audithook.Option{quiet()}, tt.opts...)...)

			require.NoError(t, ext.OnPlanCreated(ctx, p))
			require.NoError(t, ext.OnPlanUpdated(ctx, p))
			assert.Equal(t, tt.want, rec.actions())
		})
	}
}

func TestAllActions(t *testing.T) {
	all := audithook.AllActions()
	assert.Len(t, all, 13)
	assert.Contains(t, all, audithook.ActionSubscriptionEndingSoon)
}

func TestRecorderFunc(t *testing.T) {
	var got string
	r := audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		got = evt.Action
		return nil
	})
	ext := audithook.New(r, quiet())
	sub := &subscription.Subscription{ID: id.NewSubscriptionID()}
	require.NoError(t, ext.OnUsageDenied(context.Background(), sub, "api-calls", 3))
	assert.Equal(t, audithook.ActionUsageDenied, got)
}
