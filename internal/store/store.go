// Package store is the coordination kernel's single point of contact with
// SQLite. It follows the teacher's connection discipline — one
// *sql.DB, WAL journaling, a busy timeout, and SetMaxOpenConns(1) so the
// driver itself serializes writers (internal/memory/operational.go) — and
// adds the ambient-transaction scoping spec.md §4.1 requires: ReadScope for
// queries and WriteScope for mutations that may need to span several
// repository calls inside one atomic unit, including nested WriteScope
// acquisitions on the same context joining their outer transaction instead
// of starting a second one.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/coopforge/sergeant/internal/logging"
)

var log = logging.Component("store")

// Store owns the database handle and schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the kernel's schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// querierFor resolves the ambient transaction carried by ctx, if any,
// falling back to the raw database handle.
func (s *Store) querierFor(ctx context.Context) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return s.db
}

// ReadScope is a query-only scope. It joins an ambient write transaction
// when one is already open on ctx (so reads see uncommitted writes from the
// same logical request) but never itself manages a transaction.
type ReadScope struct {
	ctx context.Context
}

// ReadScope opens a read scope over ctx.
func (s *Store) ReadScope(ctx context.Context) *ReadScope {
	return &ReadScope{ctx: ctx}
}

// Context returns the scope's context, to be threaded into Store query
// methods.
func (r *ReadScope) Context() context.Context {
	return r.ctx
}

// WriteScope owns (or joins) a transaction. Callers must call Complete
// before Close to have the transaction committed; otherwise Close rolls
// back. A WriteScope opened while ctx already carries an ambient
// transaction joins that transaction: its Complete and Close become no-ops
// with respect to the transaction's lifetime, which is owned by the
// outermost WriteScope.
type WriteScope struct {
	ctx       context.Context
	tx        *sql.Tx
	owned     bool
	completed bool
	closed    bool
}

// WriteScope begins (or joins) a transaction for ctx.
func (s *Store) WriteScope(ctx context.Context) (*WriteScope, error) {
	if tx, ok := txFromContext(ctx); ok {
		return &WriteScope{ctx: ctx, tx: tx, owned: false}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	return &WriteScope{ctx: withTx(ctx, tx), tx: tx, owned: true}, nil
}

// Context returns the scope's context, carrying the ambient transaction for
// nested WriteScope/ReadScope acquisitions and for Store query methods.
func (w *WriteScope) Context() context.Context {
	return w.ctx
}

// Complete marks the scope's work as committable. It does not itself commit
// until Close is called; this lets a caller run several mutations and
// commit them atomically as one unit.
func (w *WriteScope) Complete() {
	w.completed = true
}

// Close commits the transaction if Complete was called, or rolls it back
// otherwise. It is a no-op on a scope that joined an outer transaction, and
// safe to call more than once.
func (w *WriteScope) Close() error {
	if w.closed || !w.owned {
		w.closed = true
		return nil
	}
	w.closed = true
	if w.completed {
		if err := w.tx.Commit(); err != nil {
			return fmt.Errorf("store: commit transaction: %w", err)
		}
		return nil
	}
	if err := w.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("store: rollback transaction: %w", err)
	}
	return nil
}
