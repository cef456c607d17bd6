// Package lock provides the mutual-exclusion guard that keeps scheduler
// passes from overlapping, within one process or across a fleet.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker grants exclusive, expiring ownership of a key.
//
// TryLock returns ok=false without error when another holder owns key. The
// returned release func gives the key up early; a lock left unreleased
// expires after ttl.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	now   func() time.Time
	token uint64
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

// NewMemory returns an empty process-local Locker.
func NewMemory() *Memory {
	return &Memory{
		held: make(map[string]memoryHold),
		now:  time.Now,
	}
}

// WithClock replaces the clock used for expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}

	m.token++
	token := m.token
	m.held[key] = memoryHold{token: token, expires: now.Add(ttl)}

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A hold that expired and was re-acquired belongs to someone else.
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
	}
	return release, true, nil
}
