package store

import (
	"database/sql"
	"strconv"

	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/models"
	"github.com/notabene-app/notabene-core/internal/uuid"
)

// GetMetadata returns the value for a bookkeeping key, "" if unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read metadata", err)
	}
	return value, nil
}

// SetMetadata upserts a bookkeeping key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write metadata", err)
	}
	return nil
}

// LastSync returns the timestamp of the last completed reconciliation,
// 0 if no pass has completed yet.
func (s *Store) LastSync() (int64, error) {
	value, err := s.GetMetadata(models.MetaLastSync)
	if err != nil || value == "" {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "corrupt last_sync value", err)
	}
	return ts, nil
}

// SetLastSync records the completion time of a reconciliation pass.
func (s *Store) SetLastSync(ts int64) error {
	return s.SetMetadata(models.MetaLastSync, strconv.FormatInt(ts, 10))
}

// AddConflictLog persists a resolved conflict for user awareness.
func (s *Store) AddConflictLog(entry *models.ConflictLog) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	_, err := s.db.Exec(
		`INSERT INTO conflict_log
			(id, store_name, record_id, local_updated_at, remote_updated_at, resolution, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.StoreName, entry.RecordID,
		entry.LocalUpdatedAt, entry.RemoteUpdatedAt, entry.Resolution, entry.DetectedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write conflict log", err)
	}
	return nil
}

// ConflictLogs returns the recorded conflicts for one record, newest first.
func (s *Store) ConflictLogs(storeName, recordID string) ([]*models.ConflictLog, error) {
	rows, err := s.db.Query(
		`SELECT id, store_name, record_id, local_updated_at, remote_updated_at, resolution, detected_at
		 FROM conflict_log WHERE store_name = ? AND record_id = ? ORDER BY detected_at DESC`,
		storeName, recordID,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflict log", err)
	}
	defer rows.Close()

	var out []*models.ConflictLog
	for rows.Next() {
		var entry models.ConflictLog
		if err := rows.Scan(&entry.ID, &entry.StoreName, &entry.RecordID,
			&entry.LocalUpdatedAt, &entry.RemoteUpdatedAt, &entry.Resolution, &entry.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
