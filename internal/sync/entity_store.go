package sync

import (
	"context"
	"time"

	"github.com/notabene-app/notabene-core/internal/gateway"
	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
	"github.com/notabene-app/notabene-core/internal/store"
	"github.com/notabene-app/notabene-core/internal/sync/queue"
	"github.com/notabene-app/notabene-core/internal/uuid"
)

// EntityStore is the per-entity-kind read/write gateway. Reads merge the
// local cache with the remote backend when connectivity allows; writes
// land locally first and are queued whenever the remote cannot confirm
// them immediately. Transient backend errors degrade to local-only and
// are never surfaced to the caller.
type EntityStore struct {
	name     string
	local    *store.Store
	queue    *queue.Queue
	gateways *gateway.Registry
	tombs    *TombstoneSet
	online   func() bool
	now      func() int64
}

func newEntityStore(name string, local *store.Store, q *queue.Queue, gateways *gateway.Registry, tombs *TombstoneSet, online func() bool) *EntityStore {
	return &EntityStore{
		name:     name,
		local:    local,
		queue:    q,
		gateways: gateways,
		tombs:    tombs,
		online:   online,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Name returns the entity kind this wrapper serves.
func (s *EntityStore) Name() string {
	return s.name
}

func (s *EntityStore) gateway() gateway.Gateway {
	return s.gateways.Lookup(s.name)
}

// List returns the merged view of local and remote records. Remote results
// are cached as synced; where both sides hold an id, the local copy wins
// if its timestamp is at least as new. Recently deleted ids are filtered
// for the tombstone grace window.
func (s *EntityStore) List(ctx context.Context, sortSpec string) ([]*models.Record, error) {
	local, err := s.local.GetAll(s.name)
	if err != nil {
		return nil, err
	}

	gw := s.gateway()
	if !s.online() || gw == nil {
		return s.visible(local), nil
	}

	remote, err := gw.List(ctx, sortSpec)
	if err != nil {
		logging.Warn("Remote list failed, serving local snapshot", map[string]interface{}{
			"store": s.name,
			"error": err.Error(),
		})
		return s.visible(local), nil
	}

	localByID := make(map[string]*models.Record, len(local))
	for _, rec := range local {
		localByID[rec.ID] = rec
	}

	merged := make([]*models.Record, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote))

	for _, rec := range remote {
		seen[rec.ID] = true
		if s.suppressed(rec.ID, localByID[rec.ID]) {
			continue
		}

		// A local copy at least as new must not be clobbered by the
		// remote payload; the queued push will reconcile it.
		if prior, ok := localByID[rec.ID]; ok && prior.UpdatedAt >= rec.UpdatedAt {
			merged = append(merged, prior)
			continue
		}

		cached, err := s.local.Put(s.name, &models.Record{
			ID:         rec.ID,
			Fields:     rec.Fields,
			UpdatedAt:  rec.UpdatedAt,
			SyncStatus: models.SyncStatusSynced,
		})
		if err != nil {
			logging.Error("Failed to cache remote record", err, map[string]interface{}{
				"store": s.name,
				"id":    rec.ID,
			})
			cached = rec
		}
		merged = append(merged, cached)
	}

	for _, rec := range local {
		if seen[rec.ID] || s.suppressed(rec.ID, rec) {
			continue
		}
		merged = append(merged, rec)
	}

	return merged, nil
}

// Get returns the freshest copy of one record: the newer of local and
// remote when both exist, whichever one exists otherwise. A winning
// remote copy is cached; a local copy at least as new is left untouched.
func (s *EntityStore) Get(ctx context.Context, id string) (*models.Record, error) {
	local, err := s.local.Get(s.name, id)
	if err != nil {
		return nil, err
	}
	if s.suppressed(id, local) {
		return nil, nil
	}

	gw := s.gateway()
	if !s.online() || gw == nil {
		return local, nil
	}

	remote, err := gw.Get(ctx, id)
	if err != nil {
		if !gateway.IsNotFound(err) {
			logging.Warn("Remote get failed, serving local copy", map[string]interface{}{
				"store": s.name,
				"id":    id,
				"error": err.Error(),
			})
		}
		return local, nil
	}

	if local != nil && local.UpdatedAt >= remote.UpdatedAt {
		return local, nil
	}

	cached, err := s.local.Put(s.name, &models.Record{
		ID:         remote.ID,
		Fields:     remote.Fields,
		UpdatedAt:  remote.UpdatedAt,
		SyncStatus: models.SyncStatusSynced,
	})
	if err != nil {
		logging.Error("Failed to cache remote record", err, map[string]interface{}{
			"store": s.name,
			"id":    id,
		})
		cached = remote
	}
	return cached, nil
}

// Create writes a new record. The caller sees the record immediately from
// the local cache; if the remote create cannot be confirmed the mutation
// is queued and the pending local record is returned.
func (s *EntityStore) Create(ctx context.Context, fields map[string]interface{}) (*models.Record, error) {
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New()
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["id"] = id

	localRec, err := s.local.Put(s.name, &models.Record{
		ID:         id,
		Fields:     fields,
		UpdatedAt:  s.now(),
		SyncStatus: models.SyncStatusPending,
	})
	if err != nil {
		return nil, err
	}
	// A recreate under the same id must not be masked by an old tombstone.
	s.tombs.Remove(s.name, id)

	gw := s.gateway()
	if s.online() && gw != nil {
		remote, err := gw.Create(ctx, localRec)
		if err == nil {
			return s.confirmCreate(localRec, remote)
		}
		logging.Warn("Remote create failed, queueing", map[string]interface{}{
			"store": s.name,
			"id":    id,
			"error": err.Error(),
		})
	}

	if _, err := s.queue.Add(models.ActionCreate, s.name, id, localRec); err != nil {
		return nil, err
	}
	return localRec, nil
}

// confirmCreate replaces the pending local record with the
// server-confirmed copy. The server may assign a different id on first
// create; the pending row is then re-keyed.
func (s *EntityStore) confirmCreate(localRec, remote *models.Record) (*models.Record, error) {
	if remote.ID != localRec.ID {
		if err := s.local.Delete(s.name, localRec.ID); err != nil {
			return nil, err
		}
	}
	return s.local.Put(s.name, &models.Record{
		ID:         remote.ID,
		Fields:     remote.Fields,
		UpdatedAt:  remote.UpdatedAt,
		SyncStatus: models.SyncStatusSynced,
	})
}

// Update applies a partial edit with a fresh timestamp, local-first with
// the same confirm-or-queue pattern as Create.
func (s *EntityStore) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.Record, error) {
	merged, err := s.local.Put(s.name, &models.Record{
		ID:         id,
		Fields:     fields,
		UpdatedAt:  s.now(),
		SyncStatus: models.SyncStatusPending,
	})
	if err != nil {
		return nil, err
	}

	gw := s.gateway()
	if s.online() && gw != nil {
		remote, err := gw.Update(ctx, id, fields)
		if err == nil {
			return s.local.Put(s.name, &models.Record{
				ID:         remote.ID,
				Fields:     remote.Fields,
				UpdatedAt:  remote.UpdatedAt,
				SyncStatus: models.SyncStatusSynced,
			})
		}
		logging.Warn("Remote update failed, queueing", map[string]interface{}{
			"store": s.name,
			"id":    id,
			"error": err.Error(),
		})
	}

	if _, err := s.queue.Add(models.ActionUpdate, s.name, id, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes a record. The id is tombstoned immediately so in-flight
// pulls cannot resurrect it. A confirmed remote delete cascades through
// descendants locally; otherwise the record is marked pending_delete and
// the delete is queued.
func (s *EntityStore) Delete(ctx context.Context, id string) error {
	s.tombs.Add(s.name, id)

	gw := s.gateway()
	if s.online() && gw != nil {
		err := gw.Delete(ctx, id)
		if err == nil || gateway.IsNotFound(err) {
			return s.cascadeDelete(id)
		}
		logging.Warn("Remote delete failed, queueing", map[string]interface{}{
			"store": s.name,
			"id":    id,
			"error": err.Error(),
		})
	}

	if _, err := s.local.Put(s.name, &models.Record{
		ID:         id,
		UpdatedAt:  s.now(),
		SyncStatus: models.SyncStatusPendingDelete,
	}); err != nil {
		return err
	}
	_, err := s.queue.Add(models.ActionDelete, s.name, id, map[string]interface{}{"id": id})
	return err
}

// suppressed reports whether a record id must be hidden from reads:
// tombstoned within the grace window, or awaiting delete confirmation.
func (s *EntityStore) suppressed(id string, local *models.Record) bool {
	if s.tombs.Contains(s.name, id) {
		return true
	}
	return local != nil && local.SyncStatus == models.SyncStatusPendingDelete
}

func (s *EntityStore) visible(records []*models.Record) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		if s.suppressed(rec.ID, rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
