package entitle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
)

// endingAt subscribes alice to a fresh plan with a term ending at end.
func (f *fixture) endingAt(t *testing.T, slug string, end time.Time) *subscription.Subscription {
	t.Helper()
	p := f.plan(t, slug, nil)
	start := epoch.Add(-30 * 24 * time.Hour)
	sub, err := f.eng.Lifecycle().Subscribe(f.ctx, alice, p.ID, entitle.SubscribeOptions{
		StartAt: &start,
		EndAt:   &end,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) events(t *testing.T, sub *subscription.Subscription) []*event.Event {
	t.Helper()
	evs, err := f.store.ListEvents(f.ctx, event.ForSubscription(sub.ID))
	require.NoError(t, err)
	return evs
}

func TestScheduler_EndedOnce(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink))
	sched := f.eng.Scheduler()
	end := epoch.Add(time.Hour)
	sub := f.endingAt(t, "pro", end)

	f.clock.Advance(time.Hour)
	report, err := sched.SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Emitted)

	require.Equal(t, 1, sink.Len())
	sig := sink.signals[0]
	assert.Equal(t, event.TypeSubscriptionEnded, sig.Type)
	assert.Equal(t, sub.ID, sig.SubscriptionID)
	assert.Equal(t, alice, sig.Subscriber)
	assert.Equal(t, end, sig.EndAt)
	assert.Equal(t, f.clock.Now(), sig.FiredAt)

	evs := f.events(t, sub)
	require.Len(t, evs, 1)
	assert.Equal(t, event.TypeSubscriptionEnded, evs[0].Type)

	// Later sweeps inside the lookback find the event and stay quiet.
	for _, step := range []time.Duration{0, time.Minute, 3 * time.Minute} {
		f.clock.Advance(step)
		report, err = sched.SweepEnded(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skipped)
		assert.Zero(t, report.Emitted)
	}
	assert.Equal(t, 1, sink.Len())
}

func TestScheduler_EndedBoundaries(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink))

	now := epoch.Add(time.Hour)
	f.endingAt(t, "too-old", now.Add(-entitle.EndedLookback))
	justIn := f.endingAt(t, "just-in", now.Add(-entitle.EndedLookback+time.Second))
	atNow := f.endingAt(t, "at-now", now)
	f.endingAt(t, "future", now.Add(time.Second))
	f.endingAt(t, "long-gone", epoch.Add(-time.Hour))

	f.clock.Advance(time.Hour)
	report, err := f.eng.Scheduler().SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Emitted)

	fired := map[string]bool{}
	for _, s := range sink.signals {
		fired[s.SubscriptionID.String()] = true
	}
	assert.True(t, fired[justIn.ID.String()])
	assert.True(t, fired[atNow.ID.String()])
}

func TestScheduler_EndingSoon(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink), entitle.WithEndingSoonDays(7))
	sched := f.eng.Scheduler()

	soon := f.endingAt(t, "soon", epoch.Add(3*24*time.Hour))
	f.endingAt(t, "edge", epoch.Add(7*24*time.Hour))
	f.endingAt(t, "later", epoch.Add(9*24*time.Hour))

	report, err := sched.SweepEndingSoon(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Emitted)
	for _, s := range sink.signals {
		assert.Equal(t, event.TypeSubscriptionEndingSoon, s.Type)
	}

	// The dedup window spans the whole lookahead, so a day later the
	// reminder does not repeat.
	f.clock.Advance(24 * time.Hour)
	report, err = sched.SweepEndingSoon(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Emitted)
	assert.Len(t, f.events(t, soon), 1)

	// The later subscription enters the lookahead.
	f.clock.Advance(24 * time.Hour)
	report, err = sched.SweepEndingSoon(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Emitted)
	assert.Equal(t, 3, sink.Len())
}

func TestScheduler_SweepBothPasses(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink))

	f.endingAt(t, "ended", epoch.Add(-time.Minute))
	f.endingAt(t, "soon", epoch.Add(time.Hour))

	report, err := f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, epoch, report.StartedAt)
	assert.Equal(t, 1, report.Ended.Emitted)
	assert.Equal(t, 1, report.EndingSoon.Emitted)
	assert.Equal(t, 2, report.Emitted())
	assert.NoError(t, report.Err())
}

// failingEndedQuery fails the candidate query of the ended pass, which is
// the only one whose window closes at the current time.
type failingEndedQuery struct {
	*memory.Store
	now func() time.Time
}

func (s failingEndedQuery) ListSubscriptionsEndingBetween(ctx context.Context, after, upTo time.Time) ([]*subscription.Subscription, error) {
	if upTo.Equal(s.now()) {
		return nil, errors.New("replica lagging")
	}
	return s.Store.ListSubscriptionsEndingBetween(ctx, after, upTo)
}

func TestScheduler_AbortedPassDoesNotSkipOther(t *testing.T) {
	sink := &collector{}
	mem := memory.New()
	f := newFixtureOn(t, failingEndedQuery{Store: mem, now: func() time.Time { return epoch }}, mem, entitle.WithEmitter(sink))
	f.endingAt(t, "ended", epoch.Add(-time.Minute))
	f.endingAt(t, "soon", epoch.Add(time.Hour))

	report, err := f.eng.Scheduler().Sweep(f.ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "list ended candidates")
	assert.ErrorContains(t, err, "replica lagging")
	assert.Zero(t, report.Ended.Emitted)
	assert.Equal(t, 1, report.EndingSoon.Emitted, "ending-soon still ran")
	assert.Equal(t, 1, sink.Len())
}

func TestScheduler_EmitFailureRetries(t *testing.T) {
	sink := &collector{fail: errors.New("broker down")}
	f := newFixture(t, entitle.WithEmitter(sink))
	sched := f.eng.Scheduler()
	sub := f.endingAt(t, "pro", epoch)

	report, err := sched.SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorContains(t, report.Errors.ErrOrNil(), "broker down")
	assert.Empty(t, f.events(t, sub), "nothing is recorded for a failed emit")

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	f.clock.Advance(time.Minute)
	report, err = sched.SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Emitted)
	assert.Len(t, f.events(t, sub), 1)
}

// failingEvents fails every event write.
type failingEvents struct {
	*memory.Store
}

func (failingEvents) AppendEvent(context.Context, *event.Event) error {
	return errors.New("disk full")
}

func TestScheduler_RecordFailureMayRepeat(t *testing.T) {
	sink := &collector{}
	mem := memory.New()
	f := newFixtureOn(t, failingEvents{mem}, mem, entitle.WithEmitter(sink))
	sched := f.eng.Scheduler()
	f.endingAt(t, "pro", epoch)

	report, err := sched.SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Emitted)
	assert.Equal(t, 1, report.Failed)

	report, err = sched.SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Emitted, "without a record the signal fires again")
	assert.Equal(t, 2, sink.Len())
}

// endedHook fails the ended hook.
type endedHook struct{ err error }

func (endedHook) Name() string { return "ended-hook" }

func (h endedHook) OnSubscriptionEnded(context.Context, signal.Signal) error { return h.err }

func TestScheduler_PluginHookFailure(t *testing.T) {
	sink := &collector{}
	f := newFixture(t,
		entitle.WithEmitter(sink),
		entitle.WithPlugin(endedHook{err: errors.New("crm unreachable")}),
	)
	sub := f.endingAt(t, "pro", epoch)

	report, err := f.eng.Scheduler().SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorContains(t, report.Errors.ErrOrNil(), "crm unreachable")
	assert.Equal(t, 1, sink.Len(), "the emitter still ran")
	assert.Empty(t, f.events(t, sub))
}

func TestScheduler_LockHeld(t *testing.T) {
	sink := &collector{}
	locker := lock.NewMemory()
	f := newFixture(t, entitle.WithEmitter(sink), entitle.WithLocker(locker, time.Minute))
	f.endingAt(t, "pro", epoch)

	release, ok, err := locker.TryLock(f.ctx, entitle.LockKeyEnded, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.eng.Scheduler().SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Locked)
	assert.ErrorIs(t, report.Errors.ErrOrNil(), entitle.ErrSweepInProgress)
	assert.Zero(t, sink.Len())

	release()
	report, err = f.eng.Scheduler().SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.False(t, report.Locked)
	assert.Equal(t, 1, report.Emitted)

	// The pass releases its own lock.
	_, ok, err = locker.TryLock(f.ctx, entitle.LockKeyEnded, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_DeletedSubscriptionIgnored(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink))
	sub := f.endingAt(t, "pro", epoch)
	require.NoError(t, f.eng.Lifecycle().DeleteSubscription(f.ctx, sub.ID))

	report, err := f.eng.Scheduler().Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Ended.Candidates)
	assert.Zero(t, sink.Len())
}

func TestScheduler_CancelledImmediatelyFiresEnded(t *testing.T) {
	sink := &collector{}
	f := newFixture(t, entitle.WithEmitter(sink))
	sub := f.endingAt(t, "pro", epoch.Add(30*24*time.Hour))

	_, err := f.eng.Lifecycle().Cancel(f.ctx, sub.ID, true)
	require.NoError(t, err)

	report, err := f.eng.Scheduler().SweepEnded(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Emitted)
}
