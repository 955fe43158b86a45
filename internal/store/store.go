// Package store implements the local persistent cache: one logical table
// per entity kind, keyed by id, with secondary lookup by foreign key.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appdb "github.com/notabene-app/notabene-core/internal/db"
	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/models"
)

// fkColumns maps indexed payload fields to their records-table columns.
var fkColumns = map[string]string{
	models.FieldProjectID: "project_id",
	models.FieldFolderID:  "folder_id",
	models.FieldNoteID:    "note_id",
	models.FieldParentID:  "parent_id",
	models.FieldDate:      "entry_date",
}

// Store provides keyed record access for every entity kind. It never
// cascades deletes; ownership traversal belongs to the sync layer.
type Store struct {
	db  *sql.DB
	now func() int64
}

// New creates a Store over an opened and migrated database.
func New(database *appdb.DB) *Store {
	return &Store{
		db:  database.DB,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Get returns the record with the given id, or nil if absent.
func (s *Store) Get(storeName, id string) (*models.Record, error) {
	if err := validateStore(storeName); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT id, payload, updated_at, sync_status, conflict_backup
		 FROM records WHERE store_name = ? AND id = ?`,
		storeName, id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read record", err)
	}
	return rec, nil
}

// GetAll returns every record of one entity kind, newest first.
func (s *Store) GetAll(storeName string) ([]*models.Record, error) {
	if err := validateStore(storeName); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, payload, updated_at, sync_status, conflict_backup
		 FROM records WHERE store_name = ? ORDER BY updated_at DESC, id`,
		storeName,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// GetByParent returns the records whose foreign-key field equals value.
// The field must be indexed for the store per the registry.
func (s *Store) GetByParent(storeName, field, value string) ([]*models.Record, error) {
	spec, ok := models.SpecFor(storeName)
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown store %q", storeName))
	}

	column := ""
	for _, f := range spec.IndexedFields {
		if f == field {
			column = fkColumns[f]
			break
		}
	}
	if column == "" {
		return nil, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("field %q is not indexed for store %q", field, storeName))
	}

	rows, err := s.db.Query(
		`SELECT id, payload, updated_at, sync_status, conflict_backup
		 FROM records WHERE store_name = ? AND `+column+` = ? ORDER BY updated_at DESC, id`,
		storeName, value,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query by parent", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Put merges the incoming record with any existing row by id. Fields not
// present in the incoming partial are preserved; updated_at defaults to
// now and sync_status to pending when the incoming record leaves them
// unset. Returns the fully merged, stored record.
func (s *Store) Put(storeName string, rec *models.Record) (*models.Record, error) {
	if err := validateStore(storeName); err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record must have an id")
	}

	existing, err := s.Get(storeName, rec.ID)
	if err != nil {
		return nil, err
	}

	merged := mergeRecord(existing, rec, s.now)

	payload, err := json.Marshal(merged.Fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record payload", err)
	}
	var backup interface{}
	if merged.ConflictBackup != nil {
		data, err := json.Marshal(merged.ConflictBackup)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode conflict backup", err)
		}
		backup = string(data)
	}

	fks := extractForeignKeys(storeName, merged.Fields)

	_, err = s.db.Exec(
		`INSERT INTO records
			(store_name, id, payload, updated_at, sync_status, conflict_backup,
			 project_id, folder_id, note_id, parent_id, entry_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(store_name, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			conflict_backup = excluded.conflict_backup,
			project_id = excluded.project_id,
			folder_id = excluded.folder_id,
			note_id = excluded.note_id,
			parent_id = excluded.parent_id,
			entry_date = excluded.entry_date`,
		storeName, merged.ID, string(payload), merged.UpdatedAt, string(merged.SyncStatus), backup,
		fks["project_id"], fks["folder_id"], fks["note_id"], fks["parent_id"], fks["entry_date"],
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to store record", err)
	}

	return merged, nil
}

// Delete removes a single record. Missing rows are not an error.
func (s *Store) Delete(storeName, id string) error {
	if err := validateStore(storeName); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM records WHERE store_name = ? AND id = ?", storeName, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
	}
	return nil
}

// CountByStatus returns how many records of a kind carry the given status.
func (s *Store) CountByStatus(storeName string, status models.SyncStatus) (int, error) {
	if err := validateStore(storeName); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM records WHERE store_name = ? AND sync_status = ?",
		storeName, string(status),
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count records", err)
	}
	return n, nil
}

func validateStore(storeName string) error {
	if !models.IsKnownStore(storeName) {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown store %q", storeName))
	}
	return nil
}

// mergeRecord overlays the incoming partial onto the existing record.
func mergeRecord(existing, incoming *models.Record, now func() int64) *models.Record {
	merged := &models.Record{ID: incoming.ID, Fields: make(map[string]interface{})}

	if existing != nil {
		for k, v := range existing.Fields {
			merged.Fields[k] = v
		}
		merged.ConflictBackup = existing.ConflictBackup
	}
	for k, v := range incoming.Fields {
		merged.Fields[k] = v
	}

	merged.UpdatedAt = incoming.UpdatedAt
	if merged.UpdatedAt == 0 {
		merged.UpdatedAt = now()
	}
	merged.SyncStatus = incoming.SyncStatus
	if merged.SyncStatus == "" {
		merged.SyncStatus = models.SyncStatusPending
	}
	if incoming.ConflictBackup != nil {
		merged.ConflictBackup = incoming.ConflictBackup
	}

	return merged
}

func extractForeignKeys(storeName string, fields map[string]interface{}) map[string]interface{} {
	fks := map[string]interface{}{
		"project_id": nil,
		"folder_id":  nil,
		"note_id":    nil,
		"parent_id":  nil,
		"entry_date": nil,
	}
	spec, ok := models.SpecFor(storeName)
	if !ok {
		return fks
	}
	for _, field := range spec.IndexedFields {
		if v, ok := fields[field].(string); ok && v != "" {
			fks[fkColumns[field]] = v
		}
	}
	return fks
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec     models.Record
		payload string
		status  string
		backup  sql.NullString
	)
	if err := row.Scan(&rec.ID, &payload, &rec.UpdatedAt, &status, &backup); err != nil {
		return nil, err
	}
	rec.SyncStatus = models.SyncStatus(status)
	if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
		return nil, fmt.Errorf("corrupt record payload for %s: %w", rec.ID, err)
	}
	if backup.Valid && backup.String != "" {
		if err := json.Unmarshal([]byte(backup.String), &rec.ConflictBackup); err != nil {
			return nil, fmt.Errorf("corrupt conflict backup for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*models.Record, error) {
	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate records", err)
	}
	return out, nil
}
