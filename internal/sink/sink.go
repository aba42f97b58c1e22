// Package sink is the write path of the event pipeline: it validates,
// enriches and batches event records into a single transactional commit
// alongside the domain mutation that caused them.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/workset/internal/action"
	"github.com/groblegark/workset/internal/alert"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/store"
	"github.com/groblegark/workset/internal/topic"
)

// Contract violations. These indicate a programming error upstream and fail
// fast rather than being swallowed.
var (
	ErrNoTransaction = errors.New("sink: batch requires a transaction")
	ErrEmptyTopic    = errors.New("sink: topic is required")
	ErrBatchClosed   = errors.New("sink: batch already committed")
)

// Config carries the sink's safety policy.
type Config struct {
	// GenerationCeiling halts cascades at this depth: an event whose
	// computed generation reaches the ceiling poisons its whole batch.
	GenerationCeiling int

	// Debug logs dropped enqueues (unregistered topic, sealed
	// predecessor) at debug level.
	Debug bool
}

// Sink builds transactional event batches. A Sink is shared; each unit of
// work owns its own Batch, which is single-writer by construction.
type Sink struct {
	registry *topic.Registry
	factory  *Factory
	tracker  action.Tracker
	alerter  alert.Alerter
	logger   *slog.Logger
	cfg      Config
}

func New(registry *topic.Registry, factory *Factory, tracker action.Tracker, alerter alert.Alerter, logger *slog.Logger, cfg Config) *Sink {
	return &Sink{
		registry: registry,
		factory:  factory,
		tracker:  tracker,
		alerter:  alerter,
		logger:   logger,
		cfg:      cfg,
	}
}

// Batch buffers event records against one store transaction. Not safe for
// concurrent enqueue; each logical unit of work owns its own batch.
type Batch struct {
	sink      *Sink
	tx        store.Tx
	events    []*model.EventRecord
	committed bool
}

// Begin scopes a fresh empty batch to the given transaction.
func (s *Sink) Begin(tx store.Tx) (*Batch, error) {
	if tx == nil {
		return nil, ErrNoTransaction
	}
	return &Batch{sink: s, tx: tx}, nil
}

// EnqueueRequest describes one event to append to a batch.
type EnqueueRequest struct {
	Origin     Origin
	Topic      string
	Action     string // user action id; tracked when UserID is also set
	Entity     model.Entity
	UserID     string
	ExtraTags  []string
	Seal       bool       // stop the cascade descending from this event
	DeferUntil *time.Time // event invisible to consumers until this time
}

// Enqueue validates, enriches and appends one event record to the batch.
// Events nobody listens to and events descending from a sealed predecessor
// are silently dropped. A cascade reaching the generation ceiling raises a
// critical alert and clears the entire batch: the transactional unit is
// treated as poisoned.
func (b *Batch) Enqueue(ctx context.Context, req EnqueueRequest) error {
	if b.committed {
		return ErrBatchClosed
	}
	if req.Topic == "" {
		return ErrEmptyTopic
	}

	if !b.sink.registry.IsRegistered(req.Topic) {
		if b.sink.cfg.Debug {
			b.sink.logger.Debug("event dropped: no registered consumer", "topic", req.Topic)
		}
		return nil
	}

	if p := req.Origin.Preceding; p != nil {
		if p.Seal {
			if b.sink.cfg.Debug {
				b.sink.logger.Debug("event dropped: preceding event sealed",
					"topic", req.Topic, "event_line", p.EventLine)
			}
			return nil
		}
		if generation := p.EventGeneration + 1; generation >= b.sink.cfg.GenerationCeiling {
			b.sink.alerter.Critical(ctx, "event cascade exceeded generation ceiling",
				"topic", req.Topic,
				"event_line", p.EventLine,
				"generation", generation,
				"ceiling", b.sink.cfg.GenerationCeiling,
				"generator", req.Origin.Generator,
			)
			b.events = nil
			return nil
		}
	}

	var payload json.RawMessage
	if req.Entity != nil {
		data, err := json.Marshal(req.Entity)
		if err != nil {
			b.sink.alerter.Error(ctx, "event dropped: entity serialization failed", err,
				"topic", req.Topic)
			return nil
		}
		payload = data
	}

	e, err := b.sink.factory.CreateEvent(ctx, req.Topic, req.Action, req.Entity, req.UserID, req.Origin, payload)
	if err != nil {
		return fmt.Errorf("create event for %s: %w", req.Topic, err)
	}

	e.Tags = model.MergeTags(e.Tags, req.ExtraTags...)
	e.Seal = e.Seal || req.Seal
	e.DeferredUntil = req.DeferUntil

	b.events = append(b.events, e)

	if e.Tracked() {
		if _, err := b.sink.tracker.IncrementWork(ctx, e.Action); err != nil {
			b.sink.alerter.Error(ctx, "action tracking failed", err,
				"action", e.Action, "user_id", e.UserID)
		}
	}

	return nil
}

// Len returns the number of events currently buffered.
func (b *Batch) Len() int {
	return len(b.events)
}

// Commit writes the entire batch through the transaction in one multi-insert
// and closes the batch. An empty batch commits nothing.
func (b *Batch) Commit(ctx context.Context) error {
	if b.committed {
		return ErrBatchClosed
	}
	b.committed = true
	if len(b.events) == 0 {
		return nil
	}
	events := b.events
	b.events = nil
	if err := b.tx.CreateEvents(ctx, events); err != nil {
		return fmt.Errorf("commit event batch: %w", err)
	}
	return nil
}
