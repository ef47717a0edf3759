package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Errors surfaced by the store.
var (
	// ErrStatusConflict means a conditioned write found the pattern in a
	// different status than the caller read. The race is detectable and
	// retryable, never silently absorbed.
	ErrStatusConflict = errors.New("pattern status changed concurrently")
)

const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	id             TEXT PRIMARY KEY,
	signature      TEXT NOT NULL,
	status         TEXT NOT NULL,
	success_count  INTEGER NOT NULL DEFAULT 0,
	failure_count  INTEGER NOT NULL DEFAULT 0,
	failure_streak INTEGER NOT NULL DEFAULT 0,
	disabled       INTEGER NOT NULL DEFAULT 0,
	promoted_at    TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(status);

CREATE TABLE IF NOT EXISTS lifecycle_transitions (
	transition_id       TEXT PRIMARY KEY,
	pattern_id          TEXT NOT NULL,
	from_status         TEXT NOT NULL,
	to_status           TEXT NOT NULL,
	transition_trigger  TEXT NOT NULL,
	actor_name          TEXT NOT NULL,
	actor_type          TEXT NOT NULL,
	reason              TEXT,
	request_id          TEXT NOT NULL,
	correlation_id      TEXT,
	gate_snapshot       TEXT NOT NULL,
	transitioned_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_pattern ON lifecycle_transitions(pattern_id);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	processed_at TEXT NOT NULL
);
`

// Store is the relational persistence layer for pattern governance:
// pattern rows with rolling metrics, the append-only transition audit
// table, and the processed-event table backing idempotent replay
// detection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at path and bootstraps
// the schema. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a typed unit of work. All reads and conditioned writes inside
// one Tx see and mutate the same snapshot, which is what makes the
// idempotency check atomic with the state mutation it protects.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
