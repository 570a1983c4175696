// Package index implements the Metadata Index: a single embedded SQLite
// database file (via the pure-Go modernc.org/sqlite
// driver, so ShadowBox never needs cgo to open its own data) covering
// boxes, files, versions, blobs and tags, with a monotonic-version
// migration runner and an FTS5-backed fuzzy search.
package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"shadowbox/internal/sberr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// method below run against either a bare connection or an open
// transaction without duplicating code.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Index owns the Metadata Index's connection pool.
type Index struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Tx is an open transaction scope, letting the Box Engine compose a blob
// write and several metadata writes atomically.
type Tx struct {
	tx *sql.Tx
}

// Open opens (creating if necessary) the SQLite file at path and applies
// every pending migration.
func Open(ctx context.Context, path string, logger *zap.SugaredLogger) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, sberr.NewError("index.Open", sberr.KindIOError, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one file handle

	idx := &Index{db: db, logger: logger}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying connection pool.
func (i *Index) Close() error { return i.db.Close() }

// migrate reads PRAGMA user_version and applies every embedded migration
// above that version, each in its own transaction.
func (i *Index) migrate(ctx context.Context) error {
	var current int
	if err := i.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return sberr.NewError("index.migrate", sberr.KindIOError, err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return sberr.NewError("index.migrate", sberr.KindIOError, err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })

	for n, entry := range entries {
		version := n + 1
		if version <= current {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return sberr.NewError("index.migrate", sberr.KindIOError, err)
		}
		if err := i.applyMigration(ctx, string(sqlBytes), version); err != nil {
			return err
		}
		if i.logger != nil {
			i.logger.Infow("applied migration", "file", entry.Name(), "version", version)
		}
	}
	return nil
}

func (i *Index) applyMigration(ctx context.Context, script string, version int) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return sberr.NewError("index.applyMigration", sberr.KindIOError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return sberr.NewError("index.applyMigration", sberr.KindIOError, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return sberr.NewError("index.applyMigration", sberr.KindIOError, err)
	}
	if err := tx.Commit(); err != nil {
		return sberr.NewError("index.applyMigration", sberr.KindIOError, err)
	}
	return nil
}

// Begin opens a new transaction scope. Callers must Commit or Rollback.
func (i *Index) Begin(ctx context.Context) (*Tx, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sberr.NewError("index.Begin", sberr.KindIOError, err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return sberr.NewError("index.Tx.Commit", sberr.KindIOError, err)
	}
	return nil
}

// Rollback rolls back the transaction. Calling it after a successful
// Commit is a safe no-op (database/sql returns ErrTxDone, which we swallow).
func (t *Tx) Rollback() error {
	_ = t.tx.Rollback()
	return nil
}

// q lets the query methods below accept either the bare Index or an open
// Tx uniformly.
func (i *Index) q() execer { return i.db }
func (t *Tx) q() execer    { return t.tx }

// Querier is satisfied by both *Index and *Tx, and is what the Box Engine
// takes as a parameter so the same code path can run standalone reads or
// composed read/write transactions.
type Querier interface {
	q() execer
}

var _ Querier = (*Index)(nil)
var _ Querier = (*Tx)(nil)
