// Package queue provides the durable outbound mutation queue. Items survive
// restarts and are drained in FIFO order by the sync manager's push phase.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appdb "github.com/notabene-app/notabene-core/internal/db"
	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
)

// Queue manages pending sync operations backed by the sync_queue table.
// FIFO order is fixed by the autoincrement id.
type Queue struct {
	db  *sql.DB
	now func() int64
}

// New creates a Queue over an opened and migrated database.
func New(database *appdb.DB) *Queue {
	return &Queue{
		db:  database.DB,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Add appends a mutation to the queue. The payload is stored as JSON so a
// failed item can be replayed or inspected later.
func (q *Queue) Add(action models.QueueAction, storeName, recordID string, payload interface{}) (*models.SyncQueueItem, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode queue payload", err)
	}

	now := q.now()
	res, err := q.db.Exec(
		`INSERT INTO sync_queue (action, store_name, record_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(action), storeName, recordID, string(data), now,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue mutation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue item id", err)
	}

	item := &models.SyncQueueItem{
		ID:        id,
		Action:    action,
		StoreName: storeName,
		RecordID:  recordID,
		Payload:   data,
		Timestamp: now,
		Status:    models.QueueStatusPending,
	}

	logging.Debug("Enqueued mutation", map[string]interface{}{
		"queue_id": id,
		"action":   string(action),
		"store":    storeName,
		"id":       recordID,
	})

	return item, nil
}

// GetPending returns pending items in insertion order. Terminally failed
// items are excluded; they require RetryFailed or manual intervention.
func (q *Queue) GetPending() ([]*models.SyncQueueItem, error) {
	rows, err := q.db.Query(
		`SELECT id, action, store_name, record_id, payload, created_at, retry_count, status, last_error
		 FROM sync_queue WHERE status = ? ORDER BY id`,
		models.QueueStatusPending,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending mutations", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get returns a single queue item by id.
func (q *Queue) Get(id int64) (*models.SyncQueueItem, error) {
	row := q.db.QueryRow(
		`SELECT id, action, store_name, record_id, payload, created_at, retry_count, status, last_error
		 FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %d not found", id))
	}
	return item, err
}

// Remove deletes an item after its mutation was confirmed remotely.
func (q *Queue) Remove(id int64) error {
	_, err := q.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove queue item", err)
	}
	return nil
}

// Fail records a push failure. The item stays pending until its retry
// count reaches models.MaxPushRetries, then parks as terminally failed.
// Returns true when the item became terminal.
func (q *Queue) Fail(id int64, cause error) (bool, error) {
	item, err := q.Get(id)
	if err != nil {
		return false, err
	}

	item.RetryCount++
	item.LastError = cause.Error()

	terminal := item.RetryCount >= models.MaxPushRetries
	status := models.QueueStatusPending
	if terminal {
		status = models.QueueStatusFailed
	}

	_, err = q.db.Exec(
		"UPDATE sync_queue SET retry_count = ?, status = ?, last_error = ? WHERE id = ?",
		item.RetryCount, status, item.LastError, id,
	)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to update queue item", err)
	}

	if terminal {
		logging.ErrorWithCode("Mutation failed permanently", string(apperrors.ErrSyncPushFailed), cause,
			map[string]interface{}{
				"queue_id": id,
				"action":   string(item.Action),
				"store":    item.StoreName,
				"id":       item.RecordID,
				"retries":  item.RetryCount,
			})
	} else {
		logging.Warn("Mutation failed, will retry", map[string]interface{}{
			"queue_id": id,
			"action":   string(item.Action),
			"store":    item.StoreName,
			"id":       item.RecordID,
			"retries":  item.RetryCount,
			"error":    cause.Error(),
		})
	}

	return terminal, nil
}

// PendingCount returns the number of items awaiting push.
func (q *Queue) PendingCount() (int, error) {
	var n int
	err := q.db.QueryRow(
		"SELECT COUNT(*) FROM sync_queue WHERE status = ?", models.QueueStatusPending,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count pending mutations", err)
	}
	return n, nil
}

// Stats returns per-status queue counts.
func (q *Queue) Stats() (map[string]int, error) {
	stats := map[string]int{
		models.QueueStatusPending: 0,
		models.QueueStatusFailed:  0,
	}
	rows, err := q.db.Query("SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue stats", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// RetryFailed resets terminally failed items back to pending with a fresh
// retry budget. This is the manual-intervention path for parked mutations.
func (q *Queue) RetryFailed() (int, error) {
	res, err := q.db.Exec(
		"UPDATE sync_queue SET status = ?, retry_count = 0, last_error = '' WHERE status = ?",
		models.QueueStatusPending, models.QueueStatusFailed,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Reset failed queue items for retry", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.SyncQueueItem, error) {
	var (
		item    models.SyncQueueItem
		action  string
		payload string
	)
	err := row.Scan(&item.ID, &action, &item.StoreName, &item.RecordID,
		&payload, &item.Timestamp, &item.RetryCount, &item.Status, &item.LastError)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
	}
	item.Action = models.QueueAction(action)
	item.Payload = json.RawMessage(payload)
	return &item, nil
}
