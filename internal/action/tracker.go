// Package action tracks the outstanding event-driven side effects of a single
// user-initiated action. The sink registers one unit of work per caused event
// and the distributor drains one unit per fully-distributed event; when the
// counter hits zero the action is complete, exactly once.
package action

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotTracked is returned when decrementing an action with no live counter
// (never begun, already completed, or expired).
var ErrNotTracked = errors.New("action: not tracked")

// Tracker is the counter-based coordinator for tracked actions. Keyed by
// business action id, not event id: multiple events contribute to and drain
// the same counter. Implementations must be safe under concurrent decrement
// from parallel consumer completions.
type Tracker interface {
	// BeginWork registers initial units of outstanding work for the
	// action, adding to the counter if one is already live.
	BeginWork(ctx context.Context, actionID string, initial int64) error

	// IncrementWork adds one unit, creating the counter if needed.
	// Returns the new outstanding count.
	IncrementWork(ctx context.Context, actionID string) (int64, error)

	// DecrementWork removes one unit and returns the remaining count.
	DecrementWork(ctx context.Context, actionID string) (int64, error)

	// MaybeCompleteWork reports true exactly once: on the call that
	// observes the counter at zero, which also retires the counter.
	MaybeCompleteWork(ctx context.Context, actionID string) (bool, error)
}

type counter struct {
	count   int64
	expires time.Time
}

// MemoryTracker is an in-process Tracker for tests and single-node
// deployments. Counters expire after the configured TTL so an action whose
// side effects never resolve does not leak tracking state.
type MemoryTracker struct {
	mu       sync.Mutex
	counters map[string]*counter
	ttl      time.Duration

	now func() time.Time // test hook
}

var _ Tracker = (*MemoryTracker)(nil)

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		counters: make(map[string]*counter),
		ttl:      ttl,
		now:      time.Now,
	}
}

// live returns the counter for actionID, purging it first if expired.
func (t *MemoryTracker) live(actionID string) *counter {
	c, ok := t.counters[actionID]
	if !ok {
		return nil
	}
	if t.now().After(c.expires) {
		delete(t.counters, actionID)
		return nil
	}
	return c
}

func (t *MemoryTracker) BeginWork(ctx context.Context, actionID string, initial int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.live(actionID); c != nil {
		c.count += initial
		c.expires = t.now().Add(t.ttl)
		return nil
	}
	t.counters[actionID] = &counter{count: initial, expires: t.now().Add(t.ttl)}
	return nil
}

func (t *MemoryTracker) IncrementWork(ctx context.Context, actionID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.live(actionID); c != nil {
		c.count++
		c.expires = t.now().Add(t.ttl)
		return c.count, nil
	}
	t.counters[actionID] = &counter{count: 1, expires: t.now().Add(t.ttl)}
	return 1, nil
}

func (t *MemoryTracker) DecrementWork(ctx context.Context, actionID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.live(actionID)
	if c == nil || c.count <= 0 {
		return 0, ErrNotTracked
	}
	c.count--
	return c.count, nil
}

func (t *MemoryTracker) MaybeCompleteWork(ctx context.Context, actionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.live(actionID)
	if c == nil || c.count != 0 {
		return false, nil
	}
	delete(t.counters, actionID)
	return true, nil
}
