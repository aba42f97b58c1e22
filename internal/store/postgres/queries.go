package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/store"
)

// eventColumns is the column list used for SELECT statements on app_events.
const eventColumns = `id, version, tenant_id, topic,
	entity_type, entity_template, entity_id, user_id, action, generator,
	event_line, event_generation, seal, state, send_retries,
	created_at, deferred_until, taken_expiration, payload, tags`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateEvents(ctx context.Context, db executor, events []*model.EventRecord) error {
	for _, e := range events {
		_, err := db.ExecContext(ctx, `
			INSERT INTO app_events (
				id, version, tenant_id, topic,
				entity_type, entity_template, entity_id, user_id, action, generator,
				event_line, event_generation, seal, state, send_retries,
				created_at, deferred_until, taken_expiration, payload, tags
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20
			)`,
			e.ID,
			e.Version,
			e.TenantID,
			e.Topic,
			nullString(e.EntityType),
			nullString(e.EntityTemplate),
			nullString(e.EntityID),
			nullString(e.UserID),
			nullString(e.Action),
			nullString(e.Generator),
			e.EventLine,
			e.EventGeneration,
			e.Seal,
			string(e.State),
			e.SendRetries,
			e.CreatedAt,
			nullTimePtr(e.DeferredUntil),
			nullTimePtr(e.TakenExpiration),
			jsonbBytes(e.Payload),
			pq.Array(e.Tags),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.EventRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM app_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return e, err
}

// queryTakeDueEvents claims a batch of deliverable events: state new, or
// taken with an expired lease, past any deferred-until time. SKIP LOCKED
// keeps concurrent relay instances from contending on the same rows.
func queryTakeDueEvents(ctx context.Context, db executor, now, leaseUntil time.Time, limit int) ([]*model.EventRecord, error) {
	rows, err := db.QueryContext(ctx, `
		UPDATE app_events SET
			state = 'taken',
			taken_expiration = $2,
			version = version + 1
		WHERE id IN (
			SELECT id FROM app_events
			WHERE (state = 'new' OR (state = 'taken' AND taken_expiration < $1))
			  AND (deferred_until IS NULL OR deferred_until <= $1)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		now, leaseUntil, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// queryAdvanceState moves an event to the given state with an optimistic
// version check. bumpRetries additionally increments the send-retry counter
// (used when a claimed event is released back for another attempt).
func queryAdvanceState(ctx context.Context, db executor, id string, version int64, state model.EventState, bumpRetries bool) error {
	retryDelta := 0
	if bumpRetries {
		retryDelta = 1
	}
	res, err := db.ExecContext(ctx, `
		UPDATE app_events SET
			state = $3,
			taken_expiration = NULL,
			send_retries = send_retries + $4,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		id, version, string(state), retryDelta,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVersionConflict
	}
	return nil
}
