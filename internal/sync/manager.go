package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/gateway"
	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
	"github.com/notabene-app/notabene-core/internal/store"
	"github.com/notabene-app/notabene-core/internal/sync/conflict"
	"github.com/notabene-app/notabene-core/internal/sync/queue"
)

// Connectivity states.
const (
	ConnectivityOnline  = "online"
	ConnectivityOffline = "offline"
)

// Sync states. Only one reconciliation pass runs at a time; a request
// arriving while syncing is rejected, not queued.
const (
	SyncStateIdle    = "idle"
	SyncStateSyncing = "syncing"
)

// Config tunes a Manager.
type Config struct {
	// TombstoneGrace is how long deleted ids are suppressed from reads.
	TombstoneGrace time.Duration
}

// Manager orchestrates reconciliation: it tracks connectivity, runs the
// pull and push phases, resolves conflicts, and notifies observers. All
// dependencies are injected; there is no process-wide instance.
type Manager struct {
	mu       stdsync.Mutex
	local    *store.Store
	queue    *queue.Queue
	gateways *gateway.Registry
	resolver *conflict.Resolver
	tombs    *TombstoneSet
	wrappers map[string]*EntityStore

	online  bool
	syncing bool

	listeners  map[int]Listener
	nextListen int

	autoStop chan struct{}
	autoWG   stdsync.WaitGroup

	now func() int64
}

// NewManager creates a Manager over the injected local store, queue, and
// gateway registry. The manager starts offline; the platform connectivity
// signal drives SetOnline.
func NewManager(local *store.Store, q *queue.Queue, gateways *gateway.Registry, config *Config) *Manager {
	grace := DefaultTombstoneGrace
	if config != nil && config.TombstoneGrace > 0 {
		grace = config.TombstoneGrace
	}
	return &Manager{
		local:     local,
		queue:     q,
		gateways:  gateways,
		resolver:  conflict.NewResolver(),
		tombs:     NewTombstoneSet(grace),
		wrappers:  make(map[string]*EntityStore),
		listeners: make(map[int]Listener),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Store returns the entity wrapper for a kind, creating it on first use.
func (m *Manager) Store(name string) (*EntityStore, error) {
	if !models.IsKnownStore(name) {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown store %q", name))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wrappers[name]; ok {
		return w, nil
	}
	w := newEntityStore(name, m.local, m.queue, m.gateways, m.tombs, m.Online)
	m.wrappers[name] = w
	return w, nil
}

// Online reports the current connectivity state.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline delivers the platform connectivity signal. Regaining
// connectivity triggers an immediate background sync attempt; going
// offline only updates state.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		logging.Info("Connectivity regained", nil)
		m.emit(Event{Type: EventOnline, Timestamp: m.now()})
		go func() {
			if _, err := m.Sync(context.Background()); err != nil {
				logging.Debug("Reconnect sync skipped", map[string]interface{}{"reason": err.Error()})
			}
		}()
	} else {
		logging.Info("Connectivity lost", nil)
		m.emit(Event{Type: EventOffline, Timestamp: m.now()})
	}
}

// Result summarizes one reconciliation pass. Per-store and per-item
// errors are recorded, never fatal to the rest of the pass.
type Result struct {
	StartedAt  int64
	FinishedAt int64
	Pulled     int
	Pushed     int
	Conflicts  int
	Errors     []string
}

// Sync runs one reconciliation pass: pull remote state into the local
// cache, then drain the mutation queue. Preconditions are rejected with a
// coded error: SYNC_OFFLINE, SYNC_NO_GATEWAY, or SYNC_IN_PROGRESS.
func (m *Manager) Sync(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	switch {
	case !m.online:
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncOffline, "offline")
	case m.gateways.Len() == 0:
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncNoGateway, "no_gateway")
	case m.syncing:
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "already_syncing")
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	result := &Result{StartedAt: m.now()}

	m.pull(ctx, result)
	m.push(ctx, result)

	if err := m.local.SetLastSync(m.now()); err != nil {
		logging.Error("Failed to record last_sync", err, nil)
	}
	result.FinishedAt = m.now()

	logging.Info("Sync pass completed", map[string]interface{}{
		"pulled":    result.Pulled,
		"pushed":    result.Pushed,
		"conflicts": result.Conflicts,
		"errors":    len(result.Errors),
	})
	m.emit(Event{
		Type:      EventSynced,
		Timestamp: result.FinishedAt,
		Detail: map[string]interface{}{
			"pulled":    result.Pulled,
			"pushed":    result.Pushed,
			"conflicts": result.Conflicts,
		},
	})

	return result, nil
}

// pull reconciles remote state into the local cache, one store at a time.
// A failing store degrades to local-only for this pass without aborting
// the others.
func (m *Manager) pull(ctx context.Context, result *Result) {
	for _, storeName := range m.gateways.Stores() {
		gw := m.gateways.Lookup(storeName)
		remote, err := gw.List(ctx, "")
		if err != nil {
			logging.ErrorWithCode("Pull failed for store", string(apperrors.ErrSyncPullFailed), err,
				map[string]interface{}{"store": storeName})
			result.Errors = append(result.Errors, fmt.Sprintf("pull %s: %v", storeName, err))
			continue
		}

		for _, rec := range remote {
			if err := m.pullRecord(storeName, rec, result); err != nil {
				logging.Error("Failed to apply remote record", err, map[string]interface{}{
					"store": storeName,
					"id":    rec.ID,
				})
				result.Errors = append(result.Errors, fmt.Sprintf("pull %s/%s: %v", storeName, rec.ID, err))
			}
		}
	}
}

// pullRecord merges one remote record into the local cache.
func (m *Manager) pullRecord(storeName string, remote *models.Record, result *Result) error {
	local, err := m.local.Get(storeName, remote.ID)
	if err != nil {
		return err
	}

	// A freshly deleted or delete-pending id must not be resurrected.
	if m.tombs.Contains(storeName, remote.ID) {
		return nil
	}
	if local != nil && local.SyncStatus == models.SyncStatusPendingDelete {
		return nil
	}

	if local == nil {
		if _, err := m.local.Put(storeName, &models.Record{
			ID:         remote.ID,
			Fields:     remote.Fields,
			UpdatedAt:  remote.UpdatedAt,
			SyncStatus: models.SyncStatusSynced,
		}); err != nil {
			return err
		}
		result.Pulled++
		return nil
	}

	if m.resolver.Detect(local, remote) {
		return m.resolveConflict(storeName, local, remote, result)
	}

	if remote.UpdatedAt > local.UpdatedAt {
		if _, err := m.local.Put(storeName, &models.Record{
			ID:         remote.ID,
			Fields:     remote.Fields,
			UpdatedAt:  remote.UpdatedAt,
			SyncStatus: models.SyncStatusSynced,
		}); err != nil {
			return err
		}
		result.Pulled++
	}
	return nil
}

// resolveConflict applies last-write-wins between an unconfirmed local
// edit and the remote copy. A winning local record is re-enqueued for
// push; a winning remote record overwrites local, retaining the
// superseded payload as a conflict backup. Either way the outcome is
// logged and observers are notified.
func (m *Manager) resolveConflict(storeName string, local, remote *models.Record, result *Result) error {
	res := m.resolver.Resolve(storeName, local, remote)
	result.Conflicts++

	if err := m.local.AddConflictLog(res.Log); err != nil {
		logging.Error("Failed to persist conflict log", err, map[string]interface{}{
			"store": storeName,
			"id":    local.ID,
		})
	}

	if res.LocalWins() {
		if _, err := m.queue.Add(models.ActionUpdate, storeName, local.ID, local); err != nil {
			return err
		}
	} else {
		if _, err := m.local.Put(storeName, &models.Record{
			ID:             remote.ID,
			Fields:         remote.Fields,
			UpdatedAt:      remote.UpdatedAt,
			SyncStatus:     models.SyncStatusSynced,
			ConflictBackup: local.Fields,
		}); err != nil {
			return err
		}
		result.Pulled++
	}

	m.emit(Event{
		Type:      EventConflict,
		Store:     storeName,
		RecordID:  local.ID,
		Timestamp: m.now(),
		Detail: map[string]interface{}{
			"resolution":        string(res.Resolution),
			"local_updated_at":  local.UpdatedAt,
			"remote_updated_at": remote.UpdatedAt,
		},
	})
	return nil
}

// push drains pending queue items in FIFO order, one awaited at a time so
// dependent mutations on the same id are never reordered. Failures bump
// the retry count; the queue parks items after the retry cap.
func (m *Manager) push(ctx context.Context, result *Result) {
	items, err := m.queue.GetPending()
	if err != nil {
		logging.Error("Failed to read pending queue", err, nil)
		result.Errors = append(result.Errors, fmt.Sprintf("push: %v", err))
		return
	}

	for _, item := range items {
		if err := m.pushItem(ctx, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("push %s/%s: %v", item.StoreName, item.RecordID, err))
			terminal, failErr := m.queue.Fail(item.ID, err)
			if failErr != nil {
				logging.Error("Failed to record push failure", failErr, map[string]interface{}{
					"queue_id": item.ID,
				})
				continue
			}
			if terminal {
				m.markRecordFailed(item)
			}
			continue
		}

		if err := m.queue.Remove(item.ID); err != nil {
			logging.Error("Failed to remove confirmed queue item", err, map[string]interface{}{
				"queue_id": item.ID,
			})
			continue
		}
		result.Pushed++
	}
}

// pushItem dispatches one queued mutation to its gateway.
func (m *Manager) pushItem(ctx context.Context, item *models.SyncQueueItem) error {
	gw := m.gateways.Lookup(item.StoreName)
	if gw == nil {
		return apperrors.New(apperrors.ErrSyncNoGateway,
			fmt.Sprintf("no gateway bound for store %q", item.StoreName))
	}

	switch item.Action {
	case models.ActionCreate:
		rec, err := item.Record()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "corrupt create payload", err)
		}
		remote, err := gw.Create(ctx, rec)
		if err != nil {
			return err
		}
		w, werr := m.Store(item.StoreName)
		if werr != nil {
			return werr
		}
		_, err = w.confirmCreate(rec, remote)
		return err

	case models.ActionUpdate:
		rec, err := item.Record()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "corrupt update payload", err)
		}
		remote, err := gw.Update(ctx, item.RecordID, rec.Fields)
		if err != nil {
			return err
		}
		_, err = m.local.Put(item.StoreName, &models.Record{
			ID:         remote.ID,
			Fields:     remote.Fields,
			UpdatedAt:  remote.UpdatedAt,
			SyncStatus: models.SyncStatusSynced,
		})
		return err

	case models.ActionDelete:
		err := gw.Delete(ctx, item.RecordID)
		if err != nil && !gateway.IsNotFound(err) {
			return err
		}
		w, werr := m.Store(item.StoreName)
		if werr != nil {
			return werr
		}
		return w.cascadeDelete(item.RecordID)

	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown queue action %q", item.Action))
	}
}

// markRecordFailed flags the local record whose mutation exhausted its
// retries, so the UI can surface it for manual resolution.
func (m *Manager) markRecordFailed(item *models.SyncQueueItem) {
	if _, err := m.local.Put(item.StoreName, &models.Record{
		ID:         item.RecordID,
		SyncStatus: models.SyncStatusFailed,
	}); err != nil {
		logging.Error("Failed to mark record as failed", err, map[string]interface{}{
			"store": item.StoreName,
			"id":    item.RecordID,
		})
	}
}

// Status is the observer-facing snapshot.
type Status struct {
	Connectivity string `json:"connectivity"`
	SyncState    string `json:"sync_state"`
	PendingCount int    `json:"pending_count"`
	LastSync     int64  `json:"last_sync"`
}

// GetSyncStatus returns the current snapshot for UI observers.
func (m *Manager) GetSyncStatus() (*Status, error) {
	m.mu.Lock()
	status := &Status{
		Connectivity: ConnectivityOffline,
		SyncState:    SyncStateIdle,
	}
	if m.online {
		status.Connectivity = ConnectivityOnline
	}
	if m.syncing {
		status.SyncState = SyncStateSyncing
	}
	m.mu.Unlock()

	pending, err := m.queue.PendingCount()
	if err != nil {
		return nil, err
	}
	status.PendingCount = pending

	lastSync, err := m.local.LastSync()
	if err != nil {
		return nil, err
	}
	status.LastSync = lastSync

	return status, nil
}

// AddListener subscribes to sync events and returns a token for removal.
func (m *Manager) AddListener(fn Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListen++
	id := m.nextListen
	m.listeners[id] = fn
	return id
}

// RemoveListener unsubscribes a listener by token.
func (m *Manager) RemoveListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

func (m *Manager) emit(evt Event) {
	m.mu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// StartAutoSync schedules Sync on a repeating interval. Ticks are skipped
// while offline or while a pass is still running. Calling it twice
// replaces the previous schedule.
func (m *Manager) StartAutoSync(interval time.Duration) {
	m.StopAutoSync()

	m.mu.Lock()
	stop := make(chan struct{})
	m.autoStop = stop
	m.mu.Unlock()

	m.autoWG.Add(1)
	go func() {
		defer m.autoWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := m.Sync(context.Background()); err != nil {
					logging.Debug("Auto sync tick skipped", map[string]interface{}{
						"reason": err.Error(),
					})
				}
			}
		}
	}()

	logging.Info("Auto sync started", map[string]interface{}{
		"interval_seconds": interval.Seconds(),
	})
}

// StopAutoSync cancels the auto-sync schedule. An in-flight pass runs to
// completion.
func (m *Manager) StopAutoSync() {
	m.mu.Lock()
	stop := m.autoStop
	m.autoStop = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	m.autoWG.Wait()
	logging.Info("Auto sync stopped", nil)
}
