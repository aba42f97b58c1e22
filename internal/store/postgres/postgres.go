// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/workset/internal/model"
	"github.com/groblegark/workset/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// pgTx adapts *sql.Tx to the store.Tx write surface.
type pgTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) CreateEvents(ctx context.Context, events []*model.EventRecord) error {
	return queryCreateEvents(ctx, t.tx, events)
}

// RunInTransaction executes fn inside a database transaction, committing
// iff fn returns nil.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.EventRecord, error) {
	return queryGetEvent(ctx, s.db, id)
}

func (s *PostgresStore) TakeDueEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.EventRecord, error) {
	return queryTakeDueEvents(ctx, s.db, now, now.Add(lease), limit)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id string, version int64) error {
	return queryAdvanceState(ctx, s.db, id, version, model.StateProcessed, false)
}

func (s *PostgresStore) ReleaseEvent(ctx context.Context, id string, version int64) error {
	return queryAdvanceState(ctx, s.db, id, version, model.StateNew, true)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, version int64) error {
	return queryAdvanceState(ctx, s.db, id, version, model.StateFailed, false)
}
