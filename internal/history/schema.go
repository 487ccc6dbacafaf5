package history

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

func (s *Store) initializeSchema() error {
	return s.withTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return fmt.Errorf("failed to create schema_version table: %w", err)
		}
		if err := createRunsTable(tx); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		return nil
	})
}

// createRunsTable holds one row per archived report. seq orders runs recorded
// within the same clock tick.
func createRunsTable(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			alignment REAL NOT NULL,
			drift_level TEXT NOT NULL,
			entries INTEGER NOT NULL,
			definitions INTEGER NOT NULL,
			complete_chains INTEGER NOT NULL,
			report BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_mode ON runs(mode, recorded_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create runs table: %w", err)
		}
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) runMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version == currentSchemaVersion {
		s.logger.Debug("History schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("history schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	// No migrations exist yet; version 1 is the only schema.
	return nil
}
