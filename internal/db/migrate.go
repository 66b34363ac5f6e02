// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
)

// migration is a forward-only schema step. Steps are compiled into the
// binary: a field terminal has no migrations directory to ship.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations must stay sorted by version with no gaps. Version 0 means an
// empty database and triggers the full chain. There is no rollback: a step
// that has shipped is never edited, only followed by a new one.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		sql: `
		CREATE TABLE IF NOT EXISTS weight_registrations (
			id TEXT PRIMARY KEY,
			weight REAL NOT NULL CHECK(weight > 0),
			cut_type TEXT NOT NULL CHECK(cut_type IN ('jamón', 'chuleta')),
			supplier TEXT NOT NULL CHECK(length(supplier) > 0),
			registered_by TEXT NOT NULL,
			photo_path TEXT,
			photo_url TEXT,
			ocr_confidence REAL,
			sync_status TEXT NOT NULL DEFAULT 'pending'
				CHECK(sync_status IN ('pending', 'synced', 'failed')),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_registrations_sync_status
			ON weight_registrations(sync_status);
		CREATE INDEX IF NOT EXISTS idx_registrations_created_at
			ON weight_registrations(created_at);

		CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			operation_type TEXT NOT NULL
				CHECK(operation_type IN ('create', 'update_peer', 'upload_attachment')),
			entity_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			priority INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt_at INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_priority_created
			ON sync_queue(priority, created_at);
		`,
	},
	{
		version:     2,
		description: "suppliers and conflict audit log",
		sql: `
		CREATE TABLE IF NOT EXISTS suppliers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL CHECK(length(name) > 0),
			contact TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conflict_log (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			fields TEXT NOT NULL,
			strategy TEXT NOT NULL,
			local_updated_at INTEGER NOT NULL,
			server_updated_at INTEGER NOT NULL,
			detected_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conflict_log_entity
			ON conflict_log(entity_id);
		`,
	},
}

// CurrentSchemaVersion is the version a fully migrated database reports.
func CurrentSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion reads the schema version marker (PRAGMA user_version).
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to read schema version", err)
	}
	return version, nil
}

// Migrate applies all pending schema steps in order, each inside its own
// transaction, and advances the version marker with each step.
func Migrate(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return errors.Wrap(errors.ErrMigration,
				fmt.Sprintf("failed to apply migration %d (%s)", m.version, m.description), err)
		}
		logging.Info("Applied schema migration", map[string]interface{}{
			"version":     m.version,
			"description": m.description,
		})
	}

	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to advance schema version: %w", err)
	}

	return tx.Commit()
}
