package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/workset/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.EventRecord.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.EventRecord, error) {
	var e model.EventRecord
	var (
		entityType      sql.NullString
		entityTemplate  sql.NullString
		entityID        sql.NullString
		userID          sql.NullString
		action          sql.NullString
		generator       sql.NullString
		state           string
		deferredUntil   sql.NullTime
		takenExpiration sql.NullTime
		payload         []byte
		tags            pq.StringArray
	)

	err := row.Scan(
		&e.ID,
		&e.Version,
		&e.TenantID,
		&e.Topic,
		&entityType,
		&entityTemplate,
		&entityID,
		&userID,
		&action,
		&generator,
		&e.EventLine,
		&e.EventGeneration,
		&e.Seal,
		&state,
		&e.SendRetries,
		&e.CreatedAt,
		&deferredUntil,
		&takenExpiration,
		&payload,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	e.EntityType = entityType.String
	e.EntityTemplate = entityTemplate.String
	e.EntityID = entityID.String
	e.UserID = userID.String
	e.Action = action.String
	e.Generator = generator.String
	e.State = model.EventState(state)

	if deferredUntil.Valid {
		t := deferredUntil.Time
		e.DeferredUntil = &t
	}
	if takenExpiration.Valid {
		t := takenExpiration.Time
		e.TakenExpiration = &t
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	if len(tags) > 0 {
		e.Tags = []string(tags)
	}

	return &e, nil
}

// nullString converts an empty string to NULL for storage.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTimePtr converts a nil *time.Time to NULL for storage.
func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// jsonbBytes converts a json.RawMessage to a driver value, mapping empty to NULL.
func jsonbBytes(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
