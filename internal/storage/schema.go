package storage

import (
	"fmt"
	"time"
)

type migration struct {
	version int
	name    string
	ddl     string
}

// migrations run in order; each is recorded in schema_version once applied.
// Append new entries, never edit applied ones.
var migrations = []migration{
	{
		version: 1,
		name:    "settings",
		// Secrets share the table, flagged so they are never listed.
		ddl: `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				secret INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);`,
	},
	{
		version: 2,
		name:    "sessions",
		ddl: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				endpoint TEXT NOT NULL DEFAULT '',
				started_at TEXT NOT NULL,
				last_seen TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active'
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
	},
}

// currentSchemaVersion is the version after every migration has run.
var currentSchemaVersion = migrations[len(migrations)-1].version

// initSchema brings the database up to currentSchemaVersion.
func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var applied int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&applied); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= applied {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (s *SQLiteStore) apply(m migration) error {
	log.WithField("version", m.version).Debugf("Applying %s migration", m.name)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.ddl); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		m.version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
