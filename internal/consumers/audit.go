// Package consumers holds the event consumers that ship with the platform
// itself. Application-specific consumers are registered by the embedding
// service.
package consumers

import (
	"context"
	"log/slog"

	"github.com/groblegark/workset/internal/distributor"
	"github.com/groblegark/workset/internal/model"
)

// Audit logs every distributed event. It binds the full topic space and
// serves as the pipeline's built-in delivery trace.
type Audit struct {
	logger *slog.Logger
}

var _ distributor.Consumer = (*Audit)(nil)

func NewAudit(logger *slog.Logger) *Audit {
	return &Audit{logger: logger}
}

func (a *Audit) ID() string { return "audit" }

func (a *Audit) RegisterTopics(r distributor.Registrar) {
	r.Bind("#")
}

func (a *Audit) ConsumeEvents(ctx context.Context, e *model.EventRecord, bindingIDs []string) error {
	a.logger.InfoContext(ctx, "event delivered",
		"event_id", e.ID,
		"topic", e.Topic,
		"tenant_id", e.TenantID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"action", e.Action,
		"generation", e.EventGeneration,
		"bindings", len(bindingIDs),
	)
	return nil
}
