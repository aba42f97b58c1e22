// Package distributor fans a delivered event out to every registered
// consumer whose topic bindings match the event's topic.
package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/groblegark/workset/internal/action"
	"github.com/groblegark/workset/internal/alert"
	"github.com/groblegark/workset/internal/bus"
	"github.com/groblegark/workset/internal/idgen"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/topic"
)

// Consumer is the capability other subsystems implement to receive events.
type Consumer interface {
	// ID identifies the consumer in bindings and logs.
	ID() string

	// RegisterTopics is called exactly once per process lifetime so the
	// consumer can declare its topic interest.
	RegisterTopics(r Registrar)

	// ConsumeEvents is called once per matching delivered event with the
	// ids of the bindings that matched.
	ConsumeEvents(ctx context.Context, event *model.EventRecord, bindingIDs []string) error
}

// Registrar accepts a consumer's topic interest declarations.
type Registrar interface {
	// Bind declares interest in a topic pattern and returns the binding id.
	Bind(pattern string) string
}

// CompletionNotifier publishes the fire-and-forget notice when a tracked
// action fully drains.
type CompletionNotifier interface {
	SignalComplete(ctx context.Context, userID, actionID string) error
}

// binding is one (consumer, pattern) edge.
type binding struct {
	id      string
	pattern string
}

// consumerRegistrar scopes Bind calls to one consumer during registration.
type consumerRegistrar struct {
	registry *topic.Registry
	bindings []binding
}

func (r *consumerRegistrar) Bind(pattern string) string {
	id, err := idgen.Binding()
	if err != nil {
		// nanoid only fails on a broken entropy source; fall back to a
		// deterministic id rather than losing the binding.
		id = idgen.BindingPrefix + pattern
	}
	r.registry.Register(pattern)
	r.bindings = append(r.bindings, binding{id: id, pattern: pattern})
	return id
}

// Distributor owns the in-flight delivery attempt: consumer registration,
// topic matching, bounded-parallel fan-out, acknowledgment, and tracked
// action bookkeeping.
type Distributor struct {
	consumers []Consumer
	registry  *topic.Registry
	tracker   action.Tracker
	notifier  CompletionNotifier
	alerter   alert.Alerter
	logger    *slog.Logger

	maxParallel int

	regOnce  sync.Once
	mu       sync.Mutex
	bindings map[string][]binding // consumer id -> bindings
}

// New assembles a distributor over an explicit consumer list; the composition
// root decides which consumers exist.
func New(consumers []Consumer, registry *topic.Registry, tracker action.Tracker, notifier CompletionNotifier, alerter alert.Alerter, logger *slog.Logger) *Distributor {
	return &Distributor{
		consumers:   consumers,
		registry:    registry,
		tracker:     tracker,
		notifier:    notifier,
		alerter:     alerter,
		logger:      logger,
		maxParallel: runtime.GOMAXPROCS(0),
		bindings:    make(map[string][]binding),
	}
}

// RegisterConsumers runs every consumer's one-time topic self-registration.
// Safe to call from concurrent distribution calls; only the first runs it.
// A failure in one consumer's registration does not block the others.
func (d *Distributor) RegisterConsumers(ctx context.Context) {
	d.regOnce.Do(func() {
		var wg sync.WaitGroup
		for _, c := range d.consumers {
			wg.Add(1)
			go func(c Consumer) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						d.alerter.Error(ctx, "consumer topic registration failed",
							fmt.Errorf("panic: %v", r), "consumer", c.ID())
					}
				}()
				reg := &consumerRegistrar{registry: d.registry}
				c.RegisterTopics(reg)
				d.mu.Lock()
				d.bindings[c.ID()] = reg.bindings
				d.mu.Unlock()
			}(c)
		}
		wg.Wait()
	})
}

// matchingBindings returns the ids of the consumer's bindings whose pattern
// matches the event topic.
func (d *Distributor) matchingBindings(consumerID, eventTopic string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, b := range d.bindings[consumerID] {
		if topic.Match(b.pattern, eventTopic) {
			ids = append(ids, b.id)
		}
	}
	return ids
}

// DistributeEvent fans the event out to every matching consumer in parallel,
// acknowledges the delivery once fan-out completes, and drains the tracked
// action counter. Individual consumer failures are isolated and alerted; a
// structural failure rejects the message instead.
func (d *Distributor) DistributeEvent(ctx context.Context, e *model.EventRecord, ack bus.Ack) error {
	defer func() {
		if r := recover(); r != nil {
			d.alerter.Error(ctx, "event distribution failed", fmt.Errorf("panic: %v", r),
				"event_id", e.ID, "topic", e.Topic)
			if err := ack.Reject(); err != nil {
				d.alerter.Error(ctx, "reject failed", err, "event_id", e.ID)
			}
		}
	}()

	d.RegisterConsumers(ctx)

	g := new(errgroup.Group)
	g.SetLimit(d.maxParallel)
	for _, c := range d.consumers {
		ids := d.matchingBindings(c.ID(), e.Topic)
		if len(ids) == 0 {
			continue
		}
		c := c
		g.Go(func() error {
			// Cooperative cancellation: skip consumers not yet started.
			if ctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					d.alerter.Error(ctx, "consumer handler panicked",
						fmt.Errorf("panic: %v", r),
						"consumer", c.ID(), "event_id", e.ID, "topic", e.Topic)
				}
			}()
			if err := c.ConsumeEvents(ctx, e, ids); err != nil {
				d.alerter.Error(ctx, "consumer handler failed", err,
					"consumer", c.ID(), "event_id", e.ID, "topic", e.Topic)
			}
			return nil
		})
	}
	_ = g.Wait() // handlers never return errors through the group

	if err := ack.Acknowledge(); err != nil {
		d.alerter.Error(ctx, "acknowledge failed", err, "event_id", e.ID)
	}

	if e.Tracked() {
		d.drainAction(ctx, e)
	}

	return nil
}

// drainAction removes this event's unit of outstanding work and fires the
// completion notice if it was the last one.
func (d *Distributor) drainAction(ctx context.Context, e *model.EventRecord) {
	if _, err := d.tracker.DecrementWork(ctx, e.Action); err != nil {
		if err == action.ErrNotTracked {
			// Counter expired or another instance already completed it.
			d.logger.Debug("action no longer tracked", "action", e.Action, "event_id", e.ID)
			return
		}
		d.alerter.Error(ctx, "action decrement failed", err, "action", e.Action, "event_id", e.ID)
		return
	}
	done, err := d.tracker.MaybeCompleteWork(ctx, e.Action)
	if err != nil {
		d.alerter.Error(ctx, "action completion check failed", err, "action", e.Action)
		return
	}
	if !done {
		return
	}
	if err := d.notifier.SignalComplete(ctx, e.UserID, e.Action); err != nil {
		d.alerter.Error(ctx, "completion notification failed", err,
			"action", e.Action, "user_id", e.UserID)
	}
}
