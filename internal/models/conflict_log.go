// Package models provides data model definitions for the Notabene sync core.
package models

import "time"

// ConflictLog records a resolved concurrent edit for user awareness.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	StoreName       string `db:"store_name" json:"store_name"`
	RecordID        string `db:"record_id" json:"record_id"`
	LocalUpdatedAt  int64  `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt int64  `db:"remote_updated_at" json:"remote_updated_at"`
	Resolution      string `db:"resolution" json:"resolution"` // local_wins, remote_wins
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
