package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const streamName = "WORKSET"

// NATSBus implements Bus on NATS JetStream. One stream holds every pipeline
// subject; durable queue consumers give competing-consumer delivery with
// explicit acks (Ack/Nak/Term map onto Acknowledge/Abandon/Reject).
type NATSBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

var _ Bus = (*NATSBus)(nil)

// NewNATSBus connects to NATS at url with automatic reconnection and ensures
// the pipeline stream exists. Extra nats.Option values (e.g.
// disconnect/reconnect handlers) can be appended.
func NewNATSBus(url string, opts ...nats.Option) (*NATSBus, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	b := &NATSBus{conn: nc, js: js}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBus) ensureStream() error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"workset.>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	return nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Declare ensures the stream covering the subject exists.
func (b *NATSBus) Declare(subject string) error {
	return b.ensureStream()
}

// jsAck settles a JetStream delivery.
type jsAck struct {
	msg *nats.Msg
}

func (a jsAck) Acknowledge() error { return a.msg.Ack() }
func (a jsAck) Abandon() error     { return a.msg.Nak() }
func (a jsAck) Reject() error      { return a.msg.Term() }

func (b *NATSBus) Listen(ctx context.Context, subject, queue string, h Handler) (func(), error) {
	sub, err := b.js.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		h(ctx, msg.Data, jsAck{msg: msg})
	},
		nats.ManualAck(),
		nats.Durable(durableName(queue)),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s on queue %s: %w", subject, queue, err)
	}
	stop := func() {
		// Drain stops new deliveries, lets in-flight handling finish,
		// and leaves the connection open for other users.
		_ = sub.Drain()
	}
	return stop, nil
}

// durableName derives a JetStream-legal durable name from a queue name.
func durableName(queue string) string {
	return strings.ReplaceAll(queue, ".", "-")
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
