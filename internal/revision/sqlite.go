package revision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const schema = `CREATE TABLE IF NOT EXISTS sync_state (
	ref        TEXT PRIMARY KEY,
	revision   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteTracker keeps one pointer per tracked ref in a SQLite database, so
// several repositories can share one state file.
type SQLiteTracker struct {
	db   *sql.DB
	path string
	ref  string
}

var _ Tracker = (*SQLiteTracker)(nil)

// NewSQLiteTracker opens (or creates) the database at path. ref identifies
// the tracked repository and branch, e.g. "acme/widgets@main".
func NewSQLiteTracker(ctx context.Context, path, ref string) (*SQLiteTracker, error) {
	if path == "" || ref == "" {
		return nil, errors.New("sqlite tracker requires a path and a ref")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &StorageError{Op: "open", Path: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Path: path, Err: fmt.Errorf("create schema: %w", err)}
	}
	return &SQLiteTracker{db: db, path: path, ref: ref}, nil
}

// Read returns the pointer for the tracker's ref.
func (t *SQLiteTracker) Read(ctx context.Context) (string, bool, error) {
	var rev string
	err := t.db.QueryRowContext(ctx, `SELECT revision FROM sync_state WHERE ref = ?`, t.ref).Scan(&rev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, &StorageError{Op: "read", Path: t.path, Err: err}
	}
	return rev, true, nil
}

// Write upserts the pointer in a single statement.
func (t *SQLiteTracker) Write(ctx context.Context, pointer string) error {
	p, err := normalize(pointer)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO sync_state (ref, revision, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET revision = excluded.revision, updated_at = excluded.updated_at`,
		t.ref, p, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}
	return nil
}

// Delete removes the pointer for the tracker's ref, returning the tracker
// to the absent state.
func (t *SQLiteTracker) Delete(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM sync_state WHERE ref = ?`, t.ref); err != nil {
		return &StorageError{Op: "delete", Path: t.path, Err: err}
	}
	return nil
}

// Close closes the database.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
