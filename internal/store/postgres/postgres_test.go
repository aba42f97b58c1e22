package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// eventRowColumns is the column list for scanEvent results.
var eventRowColumns = []string{
	"id", "version", "tenant_id", "topic",
	"entity_type", "entity_template", "entity_id", "user_id", "action", "generator",
	"event_line", "event_generation", "seal", "state", "send_retries",
	"created_at", "deferred_until", "taken_expiration", "payload", "tags",
}

// addEventRow adds a minimal event row to a sqlmock.Rows.
func addEventRow(rows *sqlmock.Rows, id, tenant, topic, line string, gen int, state string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, int64(1), tenant, topic,
		nil, nil, nil, nil, nil, nil,
		line, gen, false, state, 0,
		now, nil, nil, nil, nil,
	)
}

func testEvent(now time.Time) *model.EventRecord {
	return &model.EventRecord{
		ID:        "ev-test1",
		Version:   1,
		TenantID:  "tn-main",
		Topic:     "workset.workitem.form.event.submitted",
		UserID:    "u1",
		Action:    "submit-form",
		EventLine: "el-root1",
		State:     model.StateNew,
		CreatedAt: now,
		Payload:   json.RawMessage(`{"id":"wi-1"}`),
		Tags:      []string{"urgent"},
	}
}

func TestRunInTransactionCreateEvents(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_events").
		WithArgs(
			"ev-test1", int64(1), "tn-main", "workset.workitem.form.event.submitted",
			nil, nil, nil, "u1", "submit-form", nil,
			"el-root1", 0, false, "new", 0,
			now, nil, nil, []byte(`{"id":"wi-1"}`), pq.Array([]string{"urgent"}),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Tx) error {
		return tx.CreateEvents(context.Background(), []*model.EventRecord{testEvent(now)})
	})
	if err != nil {
		t.Fatalf("RunInTransaction error: %v", err)
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("domain validation failed")
	err := s.RunInTransaction(context.Background(), func(tx store.Tx) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunInTransaction error = %v, want %v", err, wantErr)
	}
}

func TestGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()

	rows := sqlmock.NewRows(eventRowColumns)
	addEventRow(rows, "ev-test1", "tn-main", "workset.workitem.event.created", "el-a", 2, "new", now)
	mock.ExpectQuery("SELECT (.+) FROM app_events WHERE id = \\$1").
		WithArgs("ev-test1").
		WillReturnRows(rows)

	e, err := s.GetEvent(context.Background(), "ev-test1")
	if err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if e.ID != "ev-test1" || e.TenantID != "tn-main" || e.EventGeneration != 2 {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.State != model.StateNew {
		t.Errorf("State = %q, want %q", e.State, model.StateNew)
	}
}

func TestGetEventNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectQuery("SELECT (.+) FROM app_events WHERE id = \\$1").
		WithArgs("ev-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetEvent(context.Background(), "ev-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetEvent error = %v, want ErrNotFound", err)
	}
}

func TestTakeDueEvents(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	now := time.Now().UTC()
	lease := time.Minute

	rows := sqlmock.NewRows(eventRowColumns)
	addEventRow(rows, "ev-a", "tn-main", "workset.workitem.event.created", "el-a", 0, "taken", now)
	addEventRow(rows, "ev-b", "tn-main", "workset.schedule.event.fired", "el-b", 1, "taken", now)
	mock.ExpectQuery("UPDATE app_events SET").
		WithArgs(now, now.Add(lease), 10).
		WillReturnRows(rows)

	events, err := s.TakeDueEvents(context.Background(), now, lease, 10)
	if err != nil {
		t.Fatalf("TakeDueEvents error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "ev-a" || events[1].ID != "ev-b" {
		t.Errorf("unexpected order: %s, %s", events[0].ID, events[1].ID)
	}
}

func TestMarkProcessed(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE app_events SET").
		WithArgs("ev-a", int64(2), "processed", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkProcessed(context.Background(), "ev-a", 2); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
}

func TestMarkProcessedVersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE app_events SET").
		WithArgs("ev-a", int64(2), "processed", 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkProcessed(context.Background(), "ev-a", 2)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("MarkProcessed error = %v, want ErrVersionConflict", err)
	}
}

func TestReleaseEventBumpsRetries(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE app_events SET").
		WithArgs("ev-a", int64(2), "new", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ReleaseEvent(context.Background(), "ev-a", 2); err != nil {
		t.Fatalf("ReleaseEvent error: %v", err)
	}
}

func TestMarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectExec("UPDATE app_events SET").
		WithArgs("ev-a", int64(3), "failed", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkFailed(context.Background(), "ev-a", 3); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
}
