// Package entitle is an entitlement and usage-quota engine for Go
// applications.
//
// Entitle is a library, not a service. It decides whether a subscriber may
// use a feature, how much of a consumable feature remains in the current
// window, and fires one signal per subscription boundary crossing. It
// provides:
//
//   - Plans, features and per-plan grants with lifetime or rolling quotas
//   - Subscriptions whose phase is derived from their timestamps, never stored
//   - An append-only usage ledger summed at read time
//   - An idempotent scheduler emitting ended and ending-soon signals
//   - Memory, SQLite, PostgreSQL and MongoDB stores
//
// # Quick Start
//
//	eng := entitle.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
//	pro := &plan.Plan{Slug: "pro", Name: entitle.T("Pro"), Active: true,
//	    ResetPeriod: entitle.Every(1, period.Month)}
//	_ = eng.Catalog().CreatePlan(ctx, pro)
//
//	calls := &feature.Feature{Slug: "api-calls", Type: feature.Consumable}
//	_ = eng.Catalog().CreateFeature(ctx, calls)
//
//	_, _ = eng.Catalog().Grant(ctx, pro.ID, calls.ID, entitle.Limit(1000),
//	    entitle.GrantOptions{ResetPeriod: entitle.Every(1, period.Day)})
//
//	user := eng.Subscriber(entitle.NewRef("user", "42"))
//	_, _ = user.Subscribe(ctx, pro.ID, entitle.SubscribeOptions{})
//
//	if _, err := user.Use(ctx, "api-calls", 1); errors.Is(err, entitle.ErrFeatureNotUsable) {
//	    // quota exhausted
//	}
//
// # Subscription phases
//
// A subscription's phase is computed from start, end and cancellation
// times. The first matching rule wins: cancelled, expired, future, pending,
// active. Only active subscriptions may consume quota.
//
// # Quotas
//
// A grant's quota is a limit, unlimited, or unset. With a reset period the
// limit applies to a rolling window ending now; without one it is a
// lifetime cap. Months are 30 days and years 365 days.
//
// # Scheduling
//
// Scheduler.Sweep looks for subscriptions that just ended or end within the
// ending-soon lookahead, emits a signal for each, and records an event so
// the next sweep skips it. Sweeps must not overlap; configure a
// lock.Locker when more than one process sweeps the same store.
package entitle
