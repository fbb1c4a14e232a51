// Package store provides persistent storage for the assistant's structured
// memory: health logs, expenses, conversation turns, embeddings, and user
// insights. Everything lives in a single SQLite database file (or in memory
// for tests), opened in WAL mode with foreign keys enforced.
//
// The primary abstraction is the [Store] struct, which offers typed operations
// per table plus [Store.Transaction] for multi-statement atomicity. Errors are
// classified into three sentinels — [ErrIntegrity] for constraint violations,
// [ErrNotFound] for missing rows, and [ErrStorage] for everything else — so
// callers can branch with [errors.Is] without knowing driver details.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors returned by all Store operations. Wrapped errors retain the
// driver detail; match with errors.Is.
var (
	// ErrIntegrity indicates a constraint violation: unknown enum value,
	// missing foreign key, NULL in a required column.
	ErrIntegrity = errors.New("store: integrity violation")

	// ErrStorage indicates an I/O or driver failure.
	ErrStorage = errors.New("store: storage failure")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
)

// MemoryPath opens an in-memory database instead of a file. Used by tests and
// ephemeral deployments; contents are lost on close.
const MemoryPath = ":memory:"

// dbtx is the subset of database/sql operations shared by *sql.DB and
// *sql.Tx, letting every query method run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed persistence layer. It is safe for concurrent use;
// WAL mode allows readers to proceed while a writer holds the lock, and the
// busy timeout absorbs short write contention.
type Store struct {
	db *sql.DB // nil for transaction-scoped stores
	q  dbtx
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Pass [MemoryPath] for an in-memory database. File databases use
// WAL journaling with a 5 s busy timeout; foreign keys are enforced in both
// modes.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: open: %w: empty database path", ErrStorage)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == MemoryPath {
		// WAL requires a file; in-memory databases use the default journal.
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w: %v", path, ErrStorage, err)
	}
	if path == MemoryPath {
		// Each pool connection would otherwise get its own private database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, q: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Calling Close on a transaction-scoped
// Store is an error.
func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("store: close: %w: store is transaction-scoped", ErrStorage)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w: %v", ErrStorage, err)
	}
	return nil
}

// Transaction runs fn atomically. The *Store passed to fn is scoped to the
// transaction and offers the full operation set; if fn returns an error the
// transaction is rolled back and that error is returned unchanged, otherwise
// the transaction commits. Either every write in fn lands or none does.
//
// Transactions do not nest: calling Transaction on a transaction-scoped Store
// fails. Keep fn free of provider calls and other slow work — the write lock
// is held until fn returns.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fmt.Errorf("store: transaction: %w: transactions do not nest", ErrStorage)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin transaction", err)
	}
	// Rollback after a successful commit is a harmless no-op; this also
	// releases the transaction if fn panics.
	defer tx.Rollback()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	return mapErr("commit transaction", tx.Commit())
}

// mapErr classifies a driver error under one of the package sentinels,
// preserving the original message. Returns nil for nil.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", op, ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("store: %s: %w: %v", op, ErrIntegrity, err)
	}
	return fmt.Errorf("store: %s: %w: %v", op, ErrStorage, err)
}

// dbTime formats a timestamp for storage. All timestamps are stored as
// RFC 3339 UTC text so lexicographic comparison matches chronological order
// and SQLite's date() function groups them correctly.
func dbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored RFC 3339 timestamp.
func parseTime(op, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: %s: %w: bad timestamp %q: %v", op, ErrStorage, s, err)
	}
	return t, nil
}

// orNow returns t, or the current time if t is zero.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
