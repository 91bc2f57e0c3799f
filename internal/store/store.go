// Package store provides a SQLite-backed ledger of ingest operations.
// The vector index itself lives in Qdrant; the ledger exists so operators can
// answer "what was ingested, into which namespace, and when" without scanning
// the index, and it backs the namespace list in the stats API.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one recorded ingest operation.
type Entry struct {
	// Namespace is the logical partition the chunks were stored under.
	Namespace string
	// Source identifies what was ingested (file path, URL, or "text").
	Source string
	// Chunks is the number of chunks stored by the operation.
	Chunks int
	// CreatedAt is when the operation was recorded.
	CreatedAt time.Time
}

// NamespaceCount aggregates ledger totals per namespace.
type NamespaceCount struct {
	// Namespace is the logical partition name.
	Namespace string
	// Chunks is the total chunk count recorded for the namespace.
	Chunks int
}

// Ledger persists and queries ingest records. Safe for concurrent use.
type Ledger struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ingest ledger database.
// It resolves to ~/.medrag/ledger.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".medrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ledger.db"), nil
}

// Open opens (or creates) a Ledger at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Ledger, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// migrate creates the schema if it does not already exist.
func (l *Ledger) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingests (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace    TEXT    NOT NULL,
    source       TEXT    NOT NULL,
    chunks       INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingests_namespace ON ingests(namespace);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record persists one ingest operation.
func (l *Ledger) Record(ctx context.Context, namespace, source string, chunks int) error {
	const q = `INSERT INTO ingests (namespace, source, chunks, created_at) VALUES (?, ?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, q, namespace, source, chunks, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: record ingest: %w", err)
	}
	return nil
}

// Recent returns the most recent n ingest records, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT namespace, source, chunks, created_at
FROM ingests
ORDER BY id DESC
LIMIT ?`
	rows, err := l.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.Namespace, &e.Source, &e.Chunks, &ts); err != nil {
			return nil, fmt.Errorf("store: scan ingest row: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return entries, nil
}

// Namespaces returns per-namespace chunk totals, alphabetically.
func (l *Ledger) Namespaces(ctx context.Context) ([]NamespaceCount, error) {
	const q = `
SELECT namespace, SUM(chunks)
FROM ingests
GROUP BY namespace
ORDER BY namespace`
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: query namespaces: %w", err)
	}
	defer rows.Close()

	var counts []NamespaceCount
	for rows.Next() {
		var nc NamespaceCount
		if err := rows.Scan(&nc.Namespace, &nc.Chunks); err != nil {
			return nil, fmt.Errorf("store: scan namespace row: %w", err)
		}
		counts = append(counts, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return counts, nil
}

// Forget removes the ledger records for a namespace. Called after the
// namespace's vectors are deleted from the index so the two views agree.
func (l *Ledger) Forget(ctx context.Context, namespace string) error {
	const q = `DELETE FROM ingests WHERE namespace = ?`
	if _, err := l.db.ExecContext(ctx, q, namespace); err != nil {
		return fmt.Errorf("store: forget namespace %q: %w", namespace, err)
	}
	return nil
}

// Close releases the database connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
