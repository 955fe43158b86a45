// Package models provides data model definitions for the Notabene sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncStatus marks how a locally cached record relates to the remote backend.
type SyncStatus string

const (
	// SyncStatusPending marks a local edit not yet confirmed by the remote.
	SyncStatusPending SyncStatus = "pending"

	// SyncStatusSynced marks a record confirmed to match the remote copy.
	SyncStatusSynced SyncStatus = "synced"

	// SyncStatusPendingDelete marks a record deleted locally but whose remote
	// delete has not been confirmed yet.
	SyncStatusPendingDelete SyncStatus = "pending_delete"

	// SyncStatusFailed marks a record whose outbound mutation exhausted its
	// retries and needs manual resolution.
	SyncStatusFailed SyncStatus = "failed"
)

// Record is the envelope shared by every entity kind: an id, the domain
// fields, and the sync bookkeeping that the store and the sync manager
// maintain. Timestamps are unix milliseconds.
type Record struct {
	ID             string                 `json:"id"`
	Fields         map[string]interface{} `json:"fields"`
	UpdatedAt      int64                  `json:"updated_at"`
	SyncStatus     SyncStatus             `json:"sync_status"`
	ConflictBackup map[string]interface{} `json:"conflict_backup,omitempty"`
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Touch stamps the record with the current time.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UnixMilli()
}

// Clone returns a deep copy of the record. Field values are copied at the
// top level only; nested values must not be mutated by callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:         r.ID,
		UpdatedAt:  r.UpdatedAt,
		SyncStatus: r.SyncStatus,
	}
	if r.Fields != nil {
		out.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.ConflictBackup != nil {
		out.ConflictBackup = make(map[string]interface{}, len(r.ConflictBackup))
		for k, v := range r.ConflictBackup {
			out.ConflictBackup[k] = v
		}
	}
	return out
}

// StringField returns a string-typed domain field, or "" if absent.
func (r *Record) StringField(name string) string {
	if r.Fields == nil {
		return ""
	}
	if s, ok := r.Fields[name].(string); ok {
		return s
	}
	return ""
}
