// Package models provides data model definitions for the Notabene sync core.
package models

// Metadata keys maintained by the sync manager.
const (
	// MetaLastSync holds the unix-millisecond timestamp of the last
	// completed reconciliation pass.
	MetaLastSync = "last_sync"
)

// Metadata is a single key/value bookkeeping record.
type Metadata struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// TableName returns the table name for Metadata.
func (Metadata) TableName() string {
	return "metadata"
}
