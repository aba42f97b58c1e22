// Package store defines the persistence contract for the event pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/groblegark/workset/internal/model"
)

// ErrNotFound is returned when no event matches the given id.
var ErrNotFound = errors.New("store: event not found")

// ErrVersionConflict is returned when an optimistic-concurrency update loses
// the race: the record's version no longer matches the caller's.
var ErrVersionConflict = errors.New("store: version conflict")

// Tx is the transactional write surface handed to the event sink. All events
// created through one Tx commit atomically with the domain mutation that
// produced them.
type Tx interface {
	// CreateEvents inserts the batch within the surrounding transaction.
	CreateEvents(ctx context.Context, events []*model.EventRecord) error
}

// Store is the durable event store. Events are inserted once and never
// updated by the write path; only their delivery state advances, guarded by
// the version counter.
type Store interface {
	// RunInTransaction executes fn inside a single database transaction.
	// The transaction commits iff fn returns nil.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// GetEvent loads a single event record by id.
	GetEvent(ctx context.Context, id string) (*model.EventRecord, error)

	// TakeDueEvents claims up to limit events that are ready for delivery:
	// state New (or Taken with an expired lease), past their deferred-until
	// time. Claimed events move to Taken with a lease expiring at
	// now.Add(lease); the returned records carry their post-claim version.
	TakeDueEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.EventRecord, error)

	// MarkProcessed advances a claimed event to Processed. Fails with
	// ErrVersionConflict if the lease was lost in the meantime.
	MarkProcessed(ctx context.Context, id string, version int64) error

	// ReleaseEvent returns a claimed event to New and increments its
	// send-retry counter.
	ReleaseEvent(ctx context.Context, id string, version int64) error

	// MarkFailed dead-letters an event that exhausted its retry budget.
	MarkFailed(ctx context.Context, id string, version int64) error

	// Lifecycle
	Close() error
}
