// Package bus abstracts the message bus the event pipeline rides on.
package bus

import "context"

// Wire subjects used by the pipeline.
const (
	// SubjectEvents carries committed event records from the outbox relay
	// to the distributor instances.
	SubjectEvents = "workset.events.record"

	// SubjectNotifyPrefix is the per-user prefix for action-completion
	// notices; the user id is appended as the final segment.
	SubjectNotifyPrefix = "workset.notify.user."

	// SubjectAlerts carries system alert events.
	SubjectAlerts = "workset.system.alert"
)

// Queue name shared by all distributor instances; the bus delivers each
// event message to exactly one member.
const DistributorQueue = "workset-distributors"

// Ack settles a delivered message.
type Ack interface {
	// Acknowledge marks the message fully processed.
	Acknowledge() error
	// Abandon returns the message to the queue for redelivery.
	Abandon() error
	// Reject routes the message to error handling; it is not redelivered.
	Reject() error
}

// Handler processes one delivered message. The delivery is not settled until
// the handler settles it through ack; the bus does not deliver the next
// message to this subscriber until the handler returns.
type Handler func(ctx context.Context, data []byte, ack Ack)

// Bus is the publish/consume capability consumed from the message bus
// collaborator.
type Bus interface {
	// Publish sends data on the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Listen consumes the subject on the named queue, shared competitively
	// across all processes that join it. The returned stop function stops
	// consuming new messages; in-flight handling finishes and the
	// underlying connection stays open until Close.
	Listen(ctx context.Context, subject, queue string, h Handler) (stop func(), err error)

	// Declare ensures the topology for a subject exists. Idempotent.
	Declare(subject string) error

	Close() error
}
