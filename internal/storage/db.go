// Package storage keeps the event journal: ring events and relay
// actuations recorded in a local sqlite database so the frontend can show
// history across restarts.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	journal := &Journal{db: db, logger: logger}
	if err := journal.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS ring_events (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			caller_name TEXT NOT NULL,
			caller_number TEXT NOT NULL,
			button TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actuations (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			relay INTEGER NOT NULL,
			action TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ring_events_at ON ring_events(at);`,
		`CREATE INDEX IF NOT EXISTS idx_actuations_at ON actuations(at);`,
	}

	for _, stmt := range statements {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
