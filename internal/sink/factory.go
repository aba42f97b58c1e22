package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/groblegark/workset/internal/idgen"
	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/tenant"
)

// ErrNoTenant is returned when no tenant resolves for a new event in a
// multi-tenant deployment. This is a configuration error, not a runtime
// condition to recover from.
var ErrNoTenant = errors.New("sink: no tenant resolved for event")

// Origin describes where an enqueued event came from.
type Origin struct {
	// Preceding is the event that caused this one; nil for natural events
	// triggered directly by a user action.
	Preceding *model.EventRecord

	// Generator names the code path that produced the event.
	Generator string
}

// Factory materializes event records with correct tenant, lineage and origin
// stamping.
type Factory struct {
	globalTenantID string
	multiTenant    bool

	now func() time.Time // test hook
}

func NewFactory(globalTenantID string, multiTenant bool) *Factory {
	return &Factory{
		globalTenantID: globalTenantID,
		multiTenant:    multiTenant,
		now:            time.Now,
	}
}

// CreateEvent builds the durable record for one enqueued event. Natural
// events start a fresh event line at generation 0; derived events inherit
// line, seal and tags from the preceding event and sit one generation deeper.
func (f *Factory) CreateEvent(ctx context.Context, topic, actionID string, entity model.Entity, userID string, origin Origin, payload json.RawMessage) (*model.EventRecord, error) {
	tenantID, err := f.resolveTenant(ctx, entity, origin.Preceding)
	if err != nil {
		return nil, err
	}

	id, err := idgen.Event()
	if err != nil {
		return nil, err
	}

	e := &model.EventRecord{
		ID:        id,
		Version:   1,
		TenantID:  tenantID,
		Topic:     topic,
		UserID:    userID,
		Action:    actionID,
		Generator: origin.Generator,
		State:     model.StateNew,
		CreatedAt: f.now().UTC(),
		Payload:   payload,
	}

	if entity != nil {
		e.EntityType = entity.EntityType()
		e.EntityTemplate = entity.EntityTemplate()
		e.EntityID = entity.EntityID()
		e.Tags = model.MergeTags(entity.EntityTags())
	}

	if p := origin.Preceding; p != nil {
		e.EventLine = p.EventLine
		e.EventGeneration = p.EventGeneration + 1
		e.Seal = p.Seal
		e.Tags = model.MergeTags(p.Tags, e.Tags...)
	} else {
		line, err := idgen.Line()
		if err != nil {
			return nil, err
		}
		e.EventLine = line
	}

	return e, nil
}

// CreateSystemEvent builds an event not attributable to any tenant-scoped
// entity (monitoring, alerts). It is always scoped to the global tenant;
// aboutTenant, when non-empty, tags which tenant the event concerns without
// scoping the event to it.
func (f *Factory) CreateSystemEvent(topic, generator string, payload any, aboutTenant string) (*model.EventRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal system event payload: %w", err)
	}
	id, err := idgen.Event()
	if err != nil {
		return nil, err
	}
	line, err := idgen.Line()
	if err != nil {
		return nil, err
	}

	e := &model.EventRecord{
		ID:        id,
		Version:   1,
		TenantID:  f.globalTenantID,
		Topic:     topic,
		Generator: generator,
		EventLine: line,
		State:     model.StateNew,
		CreatedAt: f.now().UTC(),
		Payload:   data,
	}
	if aboutTenant != "" {
		e.Tags = []string{"tenant:" + aboutTenant}
	}
	return e, nil
}

// resolveTenant walks the inheritance chain: entity, preceding event, ambient
// context, global (single-tenant deployments only).
func (f *Factory) resolveTenant(ctx context.Context, entity model.Entity, preceding *model.EventRecord) (string, error) {
	if entity != nil {
		if id := entity.TenantID(); id != "" {
			return id, nil
		}
	}
	if preceding != nil && preceding.TenantID != "" {
		return preceding.TenantID, nil
	}
	if id := tenant.FromContext(ctx); id != "" {
		return id, nil
	}
	if !f.multiTenant {
		return f.globalTenantID, nil
	}
	return "", ErrNoTenant
}
