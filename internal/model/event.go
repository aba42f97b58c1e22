package model

import (
	"encoding/json"
	"time"
)

// EventState tracks an event record's delivery lifecycle in the store.
type EventState string

const (
	// StateNew means the event is committed and waiting to be put on the bus.
	StateNew EventState = "new"
	// StateTaken means a relay instance holds a lease on the event. If the
	// lease expires before the event is marked processed, it becomes
	// eligible for re-delivery.
	StateTaken EventState = "taken"
	// StateProcessed means the event was handed to the bus.
	StateProcessed EventState = "processed"
	// StateFailed means the event exhausted its send-retry budget and was
	// dead-lettered.
	StateFailed EventState = "failed"
)

// EventRecord is the durable unit of work flowing through the pipeline.
type EventRecord struct {
	ID      string `json:"id"`
	Version int64  `json:"version"` // optimistic-concurrency counter

	TenantID string `json:"tenant_id"`
	Topic    string `json:"topic"` // dot-segmented, e.g. "workset.workitem.form.event.submitted"

	// Origin metadata.
	EntityType     string `json:"entity_type,omitempty"`
	EntityTemplate string `json:"entity_template,omitempty"`
	EntityID       string `json:"entity_id,omitempty"`
	UserID         string `json:"user_id,omitempty"` // empty = system-generated
	Action         string `json:"action,omitempty"`  // correlates to a tracked user action
	Generator      string `json:"generator,omitempty"`

	// Lineage. EventLine is shared by an entire cascade; EventGeneration is
	// the depth from the root event (root = 0). Seal stops the cascade.
	EventLine       string `json:"event_line"`
	EventGeneration int    `json:"event_generation"`
	Seal            bool   `json:"seal,omitempty"`

	State       EventState `json:"state"`
	SendRetries int        `json:"send_retries"`

	CreatedAt       time.Time  `json:"created_at"`
	DeferredUntil   *time.Time `json:"deferred_until,omitempty"`
	TakenExpiration *time.Time `json:"taken_expiration,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"` // serialized originating entity
	Tags    []string        `json:"tags,omitempty"`
}

// IsNatural reports whether the event was caused directly by a user action
// rather than derived from a preceding event.
func (e *EventRecord) IsNatural() bool {
	return e.EventGeneration == 0
}

// Tracked reports whether this event contributes to action-completion
// bookkeeping: it carries both a user action id and an originating user.
func (e *EventRecord) Tracked() bool {
	return e.Action != "" && e.UserID != ""
}

// Entity is the capability an originating domain object exposes to the sink.
// The payload stored on the event record is the entity's JSON serialization.
type Entity interface {
	EntityID() string
	EntityType() string
	EntityTemplate() string
	TenantID() string
	EntityTags() []string
}

// CompletionNotice is published to the originating user once the last
// outstanding side effect of a tracked action has drained.
type CompletionNotice struct {
	UserID      string    `json:"user_id"`
	Action      string    `json:"action"`
	CompletedAt time.Time `json:"completed_at"`
}
