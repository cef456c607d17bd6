package entitle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/subscription"
)

// EndedLookback is both the candidate window and the dedup window of the
// ended pass. It must exceed the sweep interval.
const EndedLookback = 5 * time.Minute

// Lock keys guarding each pass.
const (
	LockKeyEnded      = "entitle:sweep:ended"
	LockKeyEndingSoon = "entitle:sweep:ending_soon"
)

// Pass names a scheduler pass.
type Pass string

const (
	PassEnded      Pass = "ended"
	PassEndingSoon Pass = "ending_soon"
)

// Scheduler detects subscriptions crossing their end boundary and fires one
// signal per crossing. The event ledger is its only memory: a signal is
// skipped when a matching event was recorded inside the pass's lookback.
//
// A candidate is checked, emitted, then recorded. If recording fails after
// a successful emit the signal may fire again on a later sweep.
type Scheduler struct {
	*core
	emitter        signal.Emitter
	locker         lock.Locker
	lockTTL        time.Duration
	endingSoonDays int
	observe        func(SweepReport, error)
}

// PassReport summarizes one pass.
type PassReport struct {
	Pass       Pass
	Candidates int
	Emitted    int
	Skipped    int
	// Failed counts candidates whose emit or record step failed.
	Failed int
	// Locked is set when another sweeper held the pass.
	Locked bool
	Errors MultiError
}

// SweepReport summarizes both passes of one sweep.
type SweepReport struct {
	StartedAt  time.Time
	Ended      PassReport
	EndingSoon PassReport
}

// Emitted is the number of signals fired by the sweep.
func (r SweepReport) Emitted() int { return r.Ended.Emitted + r.EndingSoon.Emitted }

// Err joins the per-candidate failures of both passes.
func (r SweepReport) Err() error {
	return errors.Join(r.Ended.Errors.ErrOrNil(), r.EndingSoon.Errors.ErrOrNil())
}

// EndingSoonDays is the configured ending-soon lookahead.
func (s *Scheduler) EndingSoonDays() int { return s.endingSoonDays }

// Sweep runs the ended pass, then the ending-soon pass. Per-candidate
// failures are collected in the report; the returned error is reserved for
// failures that abort a pass, such as a failed candidate query. An aborted
// pass does not skip the other one and both abort errors are joined.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: s.now()}

	var endedErr, soonErr error
	report.Ended, endedErr = s.SweepEnded(ctx)
	report.EndingSoon, soonErr = s.SweepEndingSoon(ctx)
	if err := errors.Join(endedErr, soonErr); err != nil {
		return report, err
	}

	s.logger.Debug("sweep finished",
		"ended_emitted", report.Ended.Emitted,
		"ending_soon_emitted", report.EndingSoon.Emitted,
		"failed", report.Ended.Failed+report.EndingSoon.Failed,
	)
	return report, nil
}

// SweepEnded fires an ended signal for every subscription whose end lies in
// (now-5m, now] and has no ended event newer than now-5m.
func (s *Scheduler) SweepEnded(ctx context.Context) (PassReport, error) {
	now := s.now()
	return s.run(ctx, passSpec{
		pass:    PassEnded,
		lockKey: LockKeyEnded,
		typ:     event.TypeSubscriptionEnded,
		after:   now.Add(-EndedLookback),
		upTo:    now,
		dedup:   now.Add(-EndedLookback),
		now:     now,
		hook:    s.plugins.EmitSubscriptionEnded,
	})
}

// SweepEndingSoon fires an ending-soon signal for every subscription whose
// end lies in (now, now+D days] and has no ending-soon event newer than
// now-D days.
func (s *Scheduler) SweepEndingSoon(ctx context.Context) (PassReport, error) {
	now := s.now()
	lookahead := time.Duration(s.endingSoonDays) * 24 * time.Hour
	return s.run(ctx, passSpec{
		pass:    PassEndingSoon,
		lockKey: LockKeyEndingSoon,
		typ:     event.TypeSubscriptionEndingSoon,
		after:   now,
		upTo:    now.Add(lookahead),
		dedup:   now.Add(-lookahead),
		now:     now,
		hook:    s.plugins.EmitSubscriptionEndingSoon,
	})
}

type passSpec struct {
	pass        Pass
	lockKey     string
	typ         event.Type
	after, upTo time.Time
	dedup       time.Time
	now         time.Time
	hook        func(context.Context, signal.Signal) error
}

func (s *Scheduler) run(ctx context.Context, p passSpec) (PassReport, error) {
	report := PassReport{Pass: p.pass}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, p.lockKey, s.lockTTL)
		if err != nil {
			return report, fmt.Errorf("entitle: lock %s pass: %w", p.pass, err)
		}
		if !ok {
			report.Locked = true
			report.Errors.Add(ErrSweepInProgress)
			s.logger.Debug("sweep pass skipped, lock held", "pass", string(p.pass))
			return report, nil
		}
		defer release()
	}

	candidates, err := s.store.ListSubscriptionsEndingBetween(ctx, p.after, p.upTo)
	if err != nil {
		return report, fmt.Errorf("entitle: list %s candidates: %w", p.pass, err)
	}
	report.Candidates = len(candidates)

	for _, sub := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.process(ctx, p, sub, &report)
	}

	if report.Emitted > 0 || report.Failed > 0 {
		s.logger.Info("sweep pass finished",
			"pass", string(p.pass),
			"candidates", report.Candidates,
			"emitted", report.Emitted,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// process handles one candidate: exists-check, emit, record.
func (s *Scheduler) process(ctx context.Context, p passSpec, sub *subscription.Subscription, report *PassReport) {
	owner := event.ForSubscription(sub.ID)

	seen, err := s.store.EventExists(ctx, owner, p.typ, p.dedup)
	if err != nil {
		report.Failed++
		report.Errors.Add(fmt.Errorf("%s: check %s: %w", sub.ID, p.typ, err))
		s.logger.Warn("sweep dedup check failed",
			"pass", string(p.pass),
			"subscription_id", sub.ID.String(),
			"error", err,
		)
		return
	}
	if seen {
		report.Skipped++
		return
	}

	sig := signal.Signal{
		ID:             id.NewSignalID(),
		Type:           p.typ,
		SubscriptionID: sub.ID,
		Subscriber:     sub.Subscriber,
		PlanID:         sub.PlanID,
		EndAt:          *sub.EndAt,
		FiredAt:        p.now,
	}

	if err := s.emit(ctx, p, sig); err != nil {
		report.Failed++
		report.Errors.Add(fmt.Errorf("%s: emit %s: %w", sub.ID, p.typ, err))
		s.logger.Warn("sweep emit failed",
			"pass", string(p.pass),
			"subscription_id", sub.ID.String(),
			"error", err,
		)
		return
	}
	report.Emitted++

	ev := &event.Event{
		ID:        id.NewEventID(),
		Owner:     owner,
		Type:      p.typ,
		CreatedAt: p.now,
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		report.Failed++
		report.Errors.Add(fmt.Errorf("%s: record %s: %w", sub.ID, p.typ, err))
		s.logger.Error("sweep record failed after emit, signal may repeat",
			"pass", string(p.pass),
			"subscription_id", sub.ID.String(),
			"error", err,
		)
	}
}

func (s *Scheduler) emit(ctx context.Context, p passSpec, sig signal.Signal) error {
	return errors.Join(
		s.emitter.Emit(ctx, sig),
		p.hook(ctx, sig),
	)
}

// Run sweeps immediately, then every interval until ctx is done. Sweep
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"interval", interval,
		"ending_soon_days", s.endingSoonDays,
	)

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if errors.Is(err, context.Canceled) {
		return
	}
	if s.observe != nil {
		s.observe(report, err)
	}
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if report.Ended.Failed+report.EndingSoon.Failed > 0 {
		s.logger.Warn("sweep finished with failures", "error", report.Err())
	}
}
