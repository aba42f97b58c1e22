// Package bridge connects the shared event queue to the distributor. One
// bridge runs per process; all instances compete on one logical queue, so
// exactly one instance handles any given delivered message.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/groblegark/workset/internal/alert"
	"github.com/groblegark/workset/internal/bus"
	"github.com/groblegark/workset/internal/model"
)

// EventDistributor is the fan-out capability the bridge hands deliveries to.
type EventDistributor interface {
	DistributeEvent(ctx context.Context, e *model.EventRecord, ack bus.Ack) error
}

// Bridge listens on the shared event queue and invokes the distributor
// synchronously within the message-acknowledgment lifecycle. Distribution
// blocks the delivery; that is deliberate backpressure against slow or
// failing consumers.
type Bridge struct {
	bus         bus.Bus
	distributor EventDistributor
	alerter     alert.Alerter
	logger      *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      func()
}

func New(b bus.Bus, d EventDistributor, alerter alert.Alerter, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:         b,
		distributor: d,
		alerter:     alerter,
		logger:      logger,
	}
}

// Start begins consuming the event queue. Idempotent; only the first call
// subscribes.
func (br *Bridge) Start(ctx context.Context) error {
	var err error
	br.startOnce.Do(func() {
		br.stop, err = br.bus.Listen(ctx, bus.SubjectEvents, bus.DistributorQueue, br.handle)
		if err == nil {
			br.logger.Info("event bridge listening",
				"subject", bus.SubjectEvents, "queue", bus.DistributorQueue)
		}
	})
	if err != nil {
		return fmt.Errorf("start event bridge: %w", err)
	}
	return nil
}

// handle processes one delivery. An exception escaping distribution abandons
// the message for redelivery and keeps the listener running; an unmarshalable
// payload is rejected since redelivery cannot fix it.
func (br *Bridge) handle(ctx context.Context, data []byte, ack bus.Ack) {
	var e model.EventRecord
	if err := json.Unmarshal(data, &e); err != nil {
		br.alerter.Error(ctx, "undecodable event message rejected", err)
		if rErr := ack.Reject(); rErr != nil {
			br.alerter.Error(ctx, "reject failed", rErr)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			br.alerter.Error(ctx, "event distribution escaped", fmt.Errorf("panic: %v", r),
				"event_id", e.ID, "topic", e.Topic)
			if aErr := ack.Abandon(); aErr != nil {
				br.alerter.Error(ctx, "abandon failed", aErr, "event_id", e.ID)
			}
		}
	}()

	if err := br.distributor.DistributeEvent(ctx, &e, ack); err != nil {
		br.alerter.Error(ctx, "event distribution failed", err,
			"event_id", e.ID, "topic", e.Topic)
		if aErr := ack.Abandon(); aErr != nil {
			br.alerter.Error(ctx, "abandon failed", aErr, "event_id", e.ID)
		}
	}
}

// Stop stops consuming new messages. In-flight distribution finishes; the
// underlying bus connection stays open until the process closes it.
func (br *Bridge) Stop() {
	br.stopOnce.Do(func() {
		if br.stop != nil {
			br.stop()
			br.logger.Info("event bridge stopped")
		}
	})
}
