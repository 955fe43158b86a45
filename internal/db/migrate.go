// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. Append only; never edit an
// applied version.
var migrations = []Migration{
	{
		Version:     1,
		Description: "records, sync_queue, metadata, conflict_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS records (
			store_name      TEXT NOT NULL,
			id              TEXT NOT NULL,
			payload         TEXT NOT NULL DEFAULT '{}',
			updated_at      INTEGER NOT NULL,
			sync_status     TEXT NOT NULL DEFAULT 'pending',
			conflict_backup TEXT,
			project_id      TEXT,
			folder_id       TEXT,
			note_id         TEXT,
			parent_id       TEXT,
			entry_date      TEXT,
			PRIMARY KEY (store_name, id)
		);
		CREATE INDEX IF NOT EXISTS idx_records_updated ON records(store_name, updated_at);
		CREATE INDEX IF NOT EXISTS idx_records_status  ON records(store_name, sync_status);
		CREATE INDEX IF NOT EXISTS idx_records_project ON records(store_name, project_id);
		CREATE INDEX IF NOT EXISTS idx_records_folder  ON records(store_name, folder_id);
		CREATE INDEX IF NOT EXISTS idx_records_note    ON records(store_name, note_id);
		CREATE INDEX IF NOT EXISTS idx_records_parent  ON records(store_name, parent_id);
		CREATE INDEX IF NOT EXISTS idx_records_date    ON records(store_name, entry_date);

		CREATE TABLE IF NOT EXISTS sync_queue (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			action      TEXT NOT NULL CHECK(action IN ('create','update','delete')),
			store_name  TEXT NOT NULL,
			record_id   TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			created_at  INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','failed')),
			last_error  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, id);

		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conflict_log (
			id                TEXT PRIMARY KEY,
			store_name        TEXT NOT NULL,
			record_id         TEXT NOT NULL,
			local_updated_at  INTEGER NOT NULL,
			remote_updated_at INTEGER NOT NULL,
			resolution        TEXT NOT NULL,
			detected_at       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conflict_record ON conflict_log(store_name, record_id);
		`,
	},
}

// Migrate applies any schema versions newer than the database's current
// version, each inside its own transaction.
func Migrate(conn *sql.DB) error {
	if err := initVersionTable(conn); err != nil {
		return err
	}

	current, err := currentVersion(conn)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := applyMigration(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// CurrentVersion returns the applied schema version, 0 if none.
func CurrentVersion(conn *sql.DB) (int, error) {
	if err := initVersionTable(conn); err != nil {
		return 0, err
	}
	return currentVersion(conn)
}

func initVersionTable(conn *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at  INTEGER NOT NULL,
		description TEXT NOT NULL
	);`
	_, err := conn.Exec(query)
	return err
}

func currentVersion(conn *sql.DB) (int, error) {
	var version int
	err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func applyMigration(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.Version, time.Now().UnixMilli(), m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}
