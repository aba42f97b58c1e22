package distributor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/workset/internal/action"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/topic"
)

// fakeConsumer records consumption and can be made to fail or panic.
type fakeConsumer struct {
	id       string
	patterns []string

	failWith  error
	panicWith any

	mu       sync.Mutex
	consumed []*model.EventRecord
	bindings [][]string
	regCalls int
}

func (c *fakeConsumer) ID() string { return c.id }

func (c *fakeConsumer) RegisterTopics(r Registrar) {
	c.mu.Lock()
	c.regCalls++
	c.mu.Unlock()
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	for _, p := range c.patterns {
		r.Bind(p)
	}
}

func (c *fakeConsumer) ConsumeEvents(ctx context.Context, e *model.EventRecord, bindingIDs []string) error {
	c.mu.Lock()
	c.consumed = append(c.consumed, e)
	c.bindings = append(c.bindings, bindingIDs)
	c.mu.Unlock()
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	return c.failWith
}

func (c *fakeConsumer) consumedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumed)
}

// fakeAck counts settlement calls.
type fakeAck struct {
	mu        sync.Mutex
	acked     int
	abandoned int
	rejected  int
}

func (a *fakeAck) Acknowledge() error { a.mu.Lock(); defer a.mu.Unlock(); a.acked++; return nil }
func (a *fakeAck) Abandon() error     { a.mu.Lock(); defer a.mu.Unlock(); a.abandoned++; return nil }
func (a *fakeAck) Reject() error      { a.mu.Lock(); defer a.mu.Unlock(); a.rejected++; return nil }

// fakeNotifier records completion signals.
type fakeNotifier struct {
	mu      sync.Mutex
	signals []string
}

func (n *fakeNotifier) SignalComplete(ctx context.Context, userID, actionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, userID+"/"+actionID)
	return nil
}

// recordingAlerter captures alerts for assertions.
type recordingAlerter struct {
	mu        sync.Mutex
	errors    []string
	criticals []string
}

func (a *recordingAlerter) Error(ctx context.Context, msg string, err error, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, msg)
}

func (a *recordingAlerter) Critical(ctx context.Context, msg string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.criticals = append(a.criticals, msg)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(topic string) *model.EventRecord {
	return &model.EventRecord{
		ID:        "ev-1",
		TenantID:  "tn-main",
		Topic:     topic,
		EventLine: "el-1",
		State:     model.StateNew,
		CreatedAt: time.Now().UTC(),
	}
}

func newDistributor(t *testing.T, consumers ...Consumer) (*Distributor, *action.MemoryTracker, *fakeNotifier, *recordingAlerter) {
	t.Helper()
	tracker := action.NewMemoryTracker(time.Minute)
	notifier := &fakeNotifier{}
	alerter := &recordingAlerter{}
	d := New(consumers, topic.NewRegistry(), tracker, notifier, alerter, testLogger())
	return d, tracker, notifier, alerter
}

func TestRegistrationRunsOnce(t *testing.T) {
	c := &fakeConsumer{id: "audit", patterns: []string{"workset.#"}}
	d, _, _, _ := newDistributor(t, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := d.DistributeEvent(ctx, testEvent("workset.workitem.event.created"), &fakeAck{}); err != nil {
			t.Fatalf("DistributeEvent error: %v", err)
		}
	}
	if c.regCalls != 1 {
		t.Errorf("RegisterTopics called %d times, want 1", c.regCalls)
	}
	if c.consumedCount() != 3 {
		t.Errorf("consumed %d events, want 3", c.consumedCount())
	}
}

func TestRegistrationPanicIsolated(t *testing.T) {
	bad := &fakeConsumer{id: "bad", panicWith: "registration exploded"}
	good := &fakeConsumer{id: "good", patterns: []string{"workset.#"}}
	d, _, _, alerter := newDistributor(t, bad, good)
	ack := &fakeAck{}

	if err := d.DistributeEvent(context.Background(), testEvent("workset.workitem.event.created"), ack); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	if good.consumedCount() != 1 {
		t.Errorf("good consumer consumed %d, want 1", good.consumedCount())
	}
	if len(alerter.errors) == 0 {
		t.Error("expected registration failure alert")
	}
}

func TestFanOutIsolation(t *testing.T) {
	failing := &fakeConsumer{id: "failing", patterns: []string{"workset.#"}, failWith: errors.New("boom")}
	panicking := &fakeConsumer{id: "panicking", patterns: []string{"workset.#"}}
	healthy := &fakeConsumer{id: "healthy", patterns: []string{"workset.#"}}
	d, _, _, alerter := newDistributor(t, failing, panicking, healthy)

	// Register first so the panic fires in ConsumeEvents, not registration.
	ctx := context.Background()
	d.RegisterConsumers(ctx)
	panicking.panicWith = "handler exploded"

	ack := &fakeAck{}
	if err := d.DistributeEvent(ctx, testEvent("workset.workitem.event.created"), ack); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}

	for _, c := range []*fakeConsumer{failing, panicking, healthy} {
		if c.consumedCount() != 1 {
			t.Errorf("consumer %s invoked %d times, want 1", c.id, c.consumedCount())
		}
	}
	if ack.acked != 1 {
		t.Errorf("acknowledged %d times, want 1 despite consumer failures", ack.acked)
	}
	if ack.rejected != 0 || ack.abandoned != 0 {
		t.Errorf("unexpected reject/abandon: %+v", ack)
	}
	if len(alerter.errors) < 2 {
		t.Errorf("expected alerts for failing and panicking consumers, got %v", alerter.errors)
	}
}

func TestTopicMatchRouting(t *testing.T) {
	starC := &fakeConsumer{id: "star", patterns: []string{"a.*.c"}}
	hashC := &fakeConsumer{id: "hash", patterns: []string{"a.#"}}
	other := &fakeConsumer{id: "other", patterns: []string{"b.#"}}
	d, _, _, _ := newDistributor(t, starC, hashC, other)
	ctx := context.Background()

	if err := d.DistributeEvent(ctx, testEvent("a.b.c"), &fakeAck{}); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	if starC.consumedCount() != 1 {
		t.Errorf("a.*.c consumer got %d events for a.b.c, want 1", starC.consumedCount())
	}
	if hashC.consumedCount() != 1 {
		t.Errorf("a.# consumer got %d events for a.b.c, want 1", hashC.consumedCount())
	}
	if other.consumedCount() != 0 {
		t.Errorf("b.# consumer got %d events for a.b.c, want 0", other.consumedCount())
	}

	if err := d.DistributeEvent(ctx, testEvent("a.b.b.c"), &fakeAck{}); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	if starC.consumedCount() != 1 {
		t.Errorf("a.*.c consumer got event for a.b.b.c")
	}
	if hashC.consumedCount() != 2 {
		t.Errorf("a.# consumer got %d events, want 2", hashC.consumedCount())
	}
}

func TestMatchingBindingIDsPassed(t *testing.T) {
	c := &fakeConsumer{id: "multi", patterns: []string{"a.*.c", "a.#", "z.#"}}
	d, _, _, _ := newDistributor(t, c)

	if err := d.DistributeEvent(context.Background(), testEvent("a.b.c"), &fakeAck{}); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bindings) != 1 {
		t.Fatalf("consumed %d times, want 1", len(c.bindings))
	}
	// a.*.c and a.# match; z.# does not.
	if len(c.bindings[0]) != 2 {
		t.Errorf("got %d matching binding ids, want 2", len(c.bindings[0]))
	}
}

func TestActionCompletionExactlyOnce(t *testing.T) {
	c := &fakeConsumer{id: "audit", patterns: []string{"workset.#"}}
	d, tracker, notifier, _ := newDistributor(t, c)
	ctx := context.Background()

	if err := tracker.BeginWork(ctx, "submit-form", 3); err != nil {
		t.Fatalf("BeginWork error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := testEvent("workset.workitem.event.created")
			e.Action = "submit-form"
			e.UserID = "u1"
			if err := d.DistributeEvent(ctx, e, &fakeAck{}); err != nil {
				t.Errorf("DistributeEvent error: %v", err)
			}
		}()
	}
	wg.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.signals) != 1 {
		t.Fatalf("completion signaled %d times, want exactly 1 (%v)", len(notifier.signals), notifier.signals)
	}
	if notifier.signals[0] != "u1/submit-form" {
		t.Errorf("signal = %q, want u1/submit-form", notifier.signals[0])
	}
}

func TestUntrackedEventDoesNotNotify(t *testing.T) {
	c := &fakeConsumer{id: "audit", patterns: []string{"workset.#"}}
	d, _, notifier, _ := newDistributor(t, c)

	e := testEvent("workset.workitem.event.created")
	e.Action = "nightly-sweep" // no user id: system-generated
	if err := d.DistributeEvent(context.Background(), e, &fakeAck{}); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	if len(notifier.signals) != 0 {
		t.Errorf("unexpected completion signals: %v", notifier.signals)
	}
}

func TestCancelledContextSkipsConsumers(t *testing.T) {
	c := &fakeConsumer{id: "audit", patterns: []string{"workset.#"}}
	d, _, _, _ := newDistributor(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	d.RegisterConsumers(ctx)
	cancel()

	ack := &fakeAck{}
	if err := d.DistributeEvent(ctx, testEvent("workset.workitem.event.created"), ack); err != nil {
		t.Fatalf("DistributeEvent error: %v", err)
	}
	if c.consumedCount() != 0 {
		t.Errorf("consumer invoked %d times after cancellation, want 0", c.consumedCount())
	}
	// Delivery is still settled.
	if ack.acked != 1 {
		t.Errorf("acknowledged %d times, want 1", ack.acked)
	}
}
