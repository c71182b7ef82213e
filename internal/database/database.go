package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Database is the PostgreSQL persistence layer for patterns, labeled
// cases, and case memory. It implements patterns.VectorStore,
// patterns.CaseSource, and casememory.Store.
type Database struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and initializes the schema.
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// initSchema creates the tables. Idempotent; safe to run on every start.
func (d *Database) initSchema() error {
	schema := `
	-- Learned patterns with their embeddings for similarity search
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		features JSONB NOT NULL,
		confidence REAL NOT NULL,
		occurrences INTEGER NOT NULL DEFAULT 1,
		success_rate REAL NOT NULL DEFAULT 0,
		predictive_power REAL NOT NULL DEFAULT 0,
		outcomes JSONB,
		tags JSONB,
		superseded_by TEXT,
		provenance JSONB,
		embedding BYTEA,
		created_at TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	);

	-- Outcome-labeled historical cases feeding batch discovery
	CREATE TABLE IF NOT EXISTS labeled_cases (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		features JSONB NOT NULL,
		success BOOLEAN NOT NULL,
		outcome TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-case memory snapshots
	CREATE TABLE IF NOT EXISTS case_memory (
		case_id TEXT PRIMARY KEY,
		snapshot JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type);
	CREATE INDEX IF NOT EXISTS idx_patterns_superseded ON patterns(superseded_by);
	CREATE INDEX IF NOT EXISTS idx_patterns_last_seen ON patterns(last_seen);
	CREATE INDEX IF NOT EXISTS idx_labeled_cases_category ON labeled_cases(category);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}
