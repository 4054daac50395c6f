// Package runlog provides a SQLite-backed history of ingestion runs.
// `crag ingest` appends a record after each run; `crag stats` reads the
// recent history so operators can see when the index was last rebuilt and
// what it cost.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Run is one recorded ingestion run.
type Run struct {
	// DocumentTitle is the ingested document's title.
	DocumentTitle string `json:"document_title"`
	// DocumentPath is the source file path.
	DocumentPath string `json:"document_path"`
	// Chunks is the indexed chunk count.
	Chunks int `json:"chunks"`
	// SectionsSkipped counts sections dropped during chunking.
	SectionsSkipped int `json:"sections_skipped"`
	// ChunksSkipped counts chunks dropped during enrichment.
	ChunksSkipped int `json:"chunks_skipped"`
	// Resumed reports whether the run restarted from a checkpoint.
	Resumed bool `json:"resumed"`
	// ElapsedSeconds is wall-clock run time.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// CostUSD is the total API spend for the run.
	CostUSD float64 `json:"cost_usd"`
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves ingestion run records.
// Safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    document_title   TEXT    NOT NULL,
    document_path    TEXT    NOT NULL,
    chunks           INTEGER NOT NULL,
    sections_skipped INTEGER NOT NULL,
    chunks_skipped   INTEGER NOT NULL,
    resumed          INTEGER NOT NULL,
    elapsed_seconds  REAL    NOT NULL,
    cost_usd         REAL    NOT NULL,
    created_at       INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_created
    ON ingestion_runs (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("runlog: migrate: %w", err)
	}
	return nil
}

// Record persists one ingestion run.
func (s *Store) Record(ctx context.Context, run Run) error {
	const q = `
INSERT INTO ingestion_runs
    (document_title, document_path, chunks, sections_skipped, chunks_skipped,
     resumed, elapsed_seconds, cost_usd, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	resumed := 0
	if run.Resumed {
		resumed = 1
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		run.DocumentTitle, run.DocumentPath, run.Chunks,
		run.SectionsSkipped, run.ChunksSkipped,
		resumed, run.ElapsedSeconds, run.CostUSD, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("runlog: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	const q = `
SELECT document_title, document_path, chunks, sections_skipped, chunks_skipped,
       resumed, elapsed_seconds, cost_usd, created_at
FROM   ingestion_runs
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("runlog: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var resumed int
		var ts int64
		if err := rows.Scan(&r.DocumentTitle, &r.DocumentPath, &r.Chunks,
			&r.SectionsSkipped, &r.ChunksSkipped,
			&resumed, &r.ElapsedSeconds, &r.CostUSD, &ts); err != nil {
			return nil, fmt.Errorf("runlog: recent scan: %w", err)
		}
		r.Resumed = resumed != 0
		r.CreatedAt = time.Unix(ts, 0)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("runlog: close: %w", err)
	}
	return nil
}
