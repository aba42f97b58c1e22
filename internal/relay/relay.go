// Package relay moves committed event records out of the store and onto the
// bus. It is the second leg of the outbox: events are written in the caller's
// transaction and picked up here on an interval, so a crash between commit
// and publish only delays delivery.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/workset/internal/alert"
	"github.com/groblegark/workset/internal/bus"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/store"
)

// DeadLetter archives an event that exhausted its send retry budget.
type DeadLetter interface {
	Archive(ctx context.Context, e *model.EventRecord) error
}

// Config carries the relay's tuning knobs.
type Config struct {
	Interval   time.Duration
	BatchSize  int
	LeaseTTL   time.Duration
	RetryLimit int
}

// Relay periodically claims due events from the store, publishes them on the
// bus, and marks them processed. Publish failures release the claim for a
// later attempt until the retry budget runs out, then the event is
// dead-lettered.
type Relay struct {
	store      store.Store
	bus        bus.Bus
	deadletter DeadLetter // optional
	alerter    alert.Alerter
	logger     *slog.Logger
	cfg        Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time // test hook
}

func New(s store.Store, b bus.Bus, dl DeadLetter, a alert.Alerter, logger *slog.Logger, cfg Config) *Relay {
	return &Relay{
		store:      s,
		bus:        b,
		deadletter: dl,
		alerter:    a,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start begins periodic relaying. It runs one pass immediately, then on each
// tick.
func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop cancels the relay and waits for the current pass (if any) to finish.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	r.RelayOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce drains the backlog of due events: it keeps claiming batches until
// a batch comes back short or the context is cancelled.
func (r *Relay) RelayOnce(ctx context.Context) {
	for ctx.Err() == nil {
		events, err := r.store.TakeDueEvents(ctx, r.now().UTC(), r.cfg.LeaseTTL, r.cfg.BatchSize)
		if err != nil {
			r.alerter.Error(ctx, "relay: take due events", err)
			return
		}
		if len(events) == 0 {
			return
		}

		sent := 0
		for _, e := range events {
			if ctx.Err() != nil {
				return
			}
			if r.relayEvent(ctx, e) {
				sent++
			}
		}
		r.logger.Debug("relay pass", "claimed", len(events), "sent", sent)

		if len(events) < r.cfg.BatchSize {
			return
		}
	}
}

// relayEvent publishes one claimed event and settles its outbox row.
// Reports whether the event reached the bus.
func (r *Relay) relayEvent(ctx context.Context, e *model.EventRecord) bool {
	data, err := json.Marshal(e)
	if err != nil {
		// Should not happen for records we wrote ourselves; treat as
		// permanently undeliverable.
		r.alerter.Error(ctx, "relay: marshal event", err, "event_id", e.ID)
		r.failEvent(ctx, e)
		return false
	}

	if err := r.bus.Publish(ctx, bus.SubjectEvents, data); err != nil {
		r.alerter.Error(ctx, "relay: publish event", err, "event_id", e.ID, "send_retries", e.SendRetries)
		if e.SendRetries >= r.cfg.RetryLimit {
			r.failEvent(ctx, e)
		} else if err := r.store.ReleaseEvent(ctx, e.ID, e.Version); err != nil && !errors.Is(err, store.ErrVersionConflict) {
			r.alerter.Error(ctx, "relay: release event", err, "event_id", e.ID)
		}
		return false
	}

	if err := r.store.MarkProcessed(ctx, e.ID, e.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Lease expired mid-publish and another relay reclaimed the
			// event; delivery is at-least-once, so a duplicate is fine.
			r.logger.Warn("relay: lost claim after publish", "event_id", e.ID)
			return true
		}
		r.alerter.Error(ctx, "relay: mark processed", err, "event_id", e.ID)
	}
	return true
}

// failEvent dead-letters an event that cannot be delivered.
func (r *Relay) failEvent(ctx context.Context, e *model.EventRecord) {
	if err := r.store.MarkFailed(ctx, e.ID, e.Version); err != nil {
		r.alerter.Error(ctx, "relay: mark failed", err, "event_id", e.ID)
		return
	}
	r.alerter.Critical(ctx, "relay: event exhausted send retries", "event_id", e.ID, "topic", e.Topic, "tenant_id", e.TenantID)

	if r.deadletter == nil {
		return
	}
	if err := r.deadletter.Archive(ctx, e); err != nil {
		r.alerter.Error(ctx, "relay: archive dead letter", err, "event_id", e.ID)
	}
}
