// Package models provides data model definitions for the Notabene sync core.
package models

import "encoding/json"

// QueueAction is the remote mutation a queue item represents.
type QueueAction string

const (
	ActionCreate QueueAction = "create"
	ActionUpdate QueueAction = "update"
	ActionDelete QueueAction = "delete"
)

// Queue item status. Items stay pending until a confirmed remote success
// removes them; after MaxPushRetries failures they become terminally failed.
const (
	QueueStatusPending = "pending"
	QueueStatusFailed  = "failed"
)

// MaxPushRetries is the number of push attempts before a queue item is
// parked as failed and excluded from automatic retry.
const MaxPushRetries = 3

// SyncQueueItem is one durable pending mutation awaiting transmission.
// The integer id is assigned by SQLite and fixes FIFO order.
type SyncQueueItem struct {
	ID         int64           `db:"id" json:"id"`
	Action     QueueAction     `db:"action" json:"action"`
	StoreName  string          `db:"store_name" json:"store_name"`
	RecordID   string          `db:"record_id" json:"record_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Timestamp  int64           `db:"created_at" json:"timestamp"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	Status     string          `db:"status" json:"status"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// Record unmarshals the payload back into the record envelope it was
// queued with.
func (i *SyncQueueItem) Record() (*Record, error) {
	var rec Record
	if err := json.Unmarshal(i.Payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
