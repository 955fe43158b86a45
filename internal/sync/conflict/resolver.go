// Package conflict resolves concurrent edits detected during pull using
// whole-record last-write-wins on the updated_at timestamp.
package conflict

import (
	"time"

	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
)

// Resolution names the winning side of a resolved conflict.
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
)

// Resolver applies last-write-wins between a pending local record and the
// remote copy of the same id.
type Resolver struct {
	now func() int64
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{now: func() int64 { return time.Now().UnixMilli() }}
}

// Result is the outcome of resolving one conflict.
type Result struct {
	Winner     *models.Record
	Loser      *models.Record
	Resolution Resolution
	Log        *models.ConflictLog
}

// LocalWins reports whether the local side won.
func (r *Result) LocalWins() bool {
	return r.Resolution == ResolutionLocalWins
}

// Detect reports whether local and remote copies of one id are in
// conflict: the local copy carries an unconfirmed edit and the timestamps
// disagree. Same-timestamp copies are treated as identical.
func (r *Resolver) Detect(local, remote *models.Record) bool {
	if local == nil || remote == nil || local.ID != remote.ID {
		return false
	}
	if local.SyncStatus != models.SyncStatusPending {
		return false
	}
	return local.UpdatedAt != remote.UpdatedAt
}

// Resolve applies last-write-wins. The side with the later updated_at
// wins; the local side wins ties so an unconfirmed edit is never dropped
// in favor of an equally-old remote copy.
func (r *Resolver) Resolve(storeName string, local, remote *models.Record) *Result {
	var winner, loser *models.Record
	resolution := ResolutionRemoteWins
	if local.UpdatedAt >= remote.UpdatedAt {
		winner, loser = local, remote
		resolution = ResolutionLocalWins
	} else {
		winner, loser = remote, local
	}

	entry := &models.ConflictLog{
		StoreName:       storeName,
		RecordID:        local.ID,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remote.UpdatedAt,
		Resolution:      string(resolution),
		DetectedAt:      r.now(),
	}

	logging.Info("Conflict resolved using last-write-wins", map[string]interface{}{
		"store":             storeName,
		"id":                local.ID,
		"local_updated_at":  local.UpdatedAt,
		"remote_updated_at": remote.UpdatedAt,
		"resolution":        string(resolution),
	})

	return &Result{Winner: winner, Loser: loser, Resolution: resolution, Log: entry}
}
