package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	appdb "github.com/notabene-app/notabene-core/internal/db"
	"github.com/notabene-app/notabene-core/internal/gateway"
	"github.com/notabene-app/notabene-core/internal/models"
	"github.com/notabene-app/notabene-core/internal/store"
	"github.com/notabene-app/notabene-core/internal/sync/queue"
)

// harness wires a Manager over an in-memory database with a fake gateway
// bound to every store and a controllable clock.
type harness struct {
	manager  *Manager
	local    *store.Store
	queue    *queue.Queue
	registry *gateway.Registry
	gws      map[string]*fakeGateway
	gw       *fakeGateway // the notes gateway, used by most tests
	clock    int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := appdb.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := appdb.Migrate(database.DB); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	h := &harness{
		local:    store.New(database),
		queue:    queue.New(database),
		registry: gateway.NewRegistry(),
		gws:      make(map[string]*fakeGateway),
		clock:    1700000000000,
	}
	for _, name := range models.StoreNames() {
		gw := newFakeGateway()
		gw.now = func() int64 { return h.clock }
		h.gws[name] = gw
		if err := h.registry.Register(name, gw); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	h.gw = h.gws[models.StoreNotes]

	h.manager = NewManager(h.local, h.queue, h.registry, &Config{TombstoneGrace: 5 * time.Second})
	h.manager.now = func() int64 { return h.clock }
	h.manager.tombs.now = func() int64 { return h.clock }
	return h
}

// wrapper returns the entity store for a kind with the harness clock.
func (h *harness) wrapper(t *testing.T, name string) *EntityStore {
	t.Helper()
	w, err := h.manager.Store(name)
	if err != nil {
		t.Fatalf("Store(%s) error = %v", name, err)
	}
	w.now = func() int64 { return h.clock }
	return w
}

func (h *harness) setOnline(online bool) {
	h.manager.mu.Lock()
	h.manager.online = online
	h.manager.mu.Unlock()
}

func (h *harness) pendingItems(t *testing.T) []*models.SyncQueueItem {
	t.Helper()
	items, err := h.queue.GetPending()
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	return items
}

func (h *harness) localGet(t *testing.T, storeName, id string) *models.Record {
	t.Helper()
	rec, err := h.local.Get(storeName, id)
	if err != nil {
		t.Fatalf("local Get(%s/%s) error = %v", storeName, id, err)
	}
	return rec
}

// TestManager_Store_unknown verifies unknown kinds are rejected and
// wrappers are cached per kind.
func TestManager_Store_unknown(t *testing.T) {
	h := newHarness(t)

	if _, err := h.manager.Store("bogus"); err == nil {
		t.Errorf("Store(bogus) error = nil, want invalid")
	}

	a, err := h.manager.Store(models.StoreNotes)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	b, err := h.manager.Store(models.StoreNotes)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if a != b {
		t.Errorf("Store() returned a new wrapper for the same kind")
	}
}

// TestEntityStore_Create_offline verifies local-first create with a queued
// mutation when there is no connectivity.
func TestEntityStore_Create_offline(t *testing.T) {
	h := newHarness(t)
	notes := h.wrapper(t, models.StoreNotes)

	rec, err := notes.Create(context.Background(), map[string]interface{}{"title": "Offline note"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("Create() did not assign an id")
	}
	if rec.SyncStatus != models.SyncStatusPending {
		t.Errorf("Create() status = %q, want pending", rec.SyncStatus)
	}

	local := h.localGet(t, models.StoreNotes, rec.ID)
	if local == nil || local.SyncStatus != models.SyncStatusPending {
		t.Errorf("local copy = %+v, want pending record", local)
	}

	items := h.pendingItems(t)
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if items[0].Action != models.ActionCreate || items[0].RecordID != rec.ID {
		t.Errorf("queued item = %+v", items[0])
	}
	if h.gw.createCalls != 0 {
		t.Errorf("gateway Create called while offline")
	}
}

// TestEntityStore_Create_online verifies a confirmed create lands synced
// with nothing queued.
func TestEntityStore_Create_online(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	rec, err := notes.Create(context.Background(), map[string]interface{}{"title": "Online note"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Create() status = %q, want synced", rec.SyncStatus)
	}
	if len(h.pendingItems(t)) != 0 {
		t.Errorf("queue not empty after confirmed create")
	}
	if h.gw.get(rec.ID) == nil {
		t.Errorf("record missing from remote after create")
	}
}

// TestEntityStore_Create_serverAssignedID verifies the pending row is
// re-keyed when the server picks a different id.
func TestEntityStore_Create_serverAssignedID(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	h.gw.assignID = "server-id"
	notes := h.wrapper(t, models.StoreNotes)

	rec, err := notes.Create(context.Background(), map[string]interface{}{"id": "client-id", "title": "x"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != "server-id" {
		t.Errorf("Create() id = %q, want server-id", rec.ID)
	}
	if h.localGet(t, models.StoreNotes, "client-id") != nil {
		t.Errorf("stale row under client id survived re-key")
	}
	if h.localGet(t, models.StoreNotes, "server-id") == nil {
		t.Errorf("no row under server id")
	}
}

// TestEntityStore_Create_remoteFailure verifies a failing backend degrades
// to pending-plus-queued without surfacing an error.
func TestEntityStore_Create_remoteFailure(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	h.gw.setError(errors.New("backend down"))
	notes := h.wrapper(t, models.StoreNotes)

	rec, err := notes.Create(context.Background(), map[string]interface{}{"title": "x"})
	if err != nil {
		t.Fatalf("Create() error = %v, want nil on remote failure", err)
	}
	if rec.SyncStatus != models.SyncStatusPending {
		t.Errorf("Create() status = %q, want pending", rec.SyncStatus)
	}
	if len(h.pendingItems(t)) != 1 {
		t.Errorf("queue has %d items, want 1", len(h.pendingItems(t)))
	}
}

// TestEntityStore_Update_offline verifies local-first partial update.
func TestEntityStore_Update_offline(t *testing.T) {
	h := newHarness(t)
	notes := h.wrapper(t, models.StoreNotes)

	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID:         "n1",
		Fields:     map[string]interface{}{"id": "n1", "title": "old", "content": "body"},
		UpdatedAt:  100,
		SyncStatus: models.SyncStatusSynced,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}

	rec, err := notes.Update(context.Background(), "n1", map[string]interface{}{"title": "new"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.SyncStatus != models.SyncStatusPending {
		t.Errorf("Update() status = %q, want pending", rec.SyncStatus)
	}
	if rec.StringField("title") != "new" || rec.StringField("content") != "body" {
		t.Errorf("Update() merged fields = %+v", rec.Fields)
	}
	if rec.UpdatedAt != h.clock {
		t.Errorf("Update() UpdatedAt = %d, want fresh stamp", rec.UpdatedAt)
	}

	items := h.pendingItems(t)
	if len(items) != 1 || items[0].Action != models.ActionUpdate {
		t.Fatalf("queue = %+v, want one update", items)
	}
	payload, err := items[0].Record()
	if err != nil {
		t.Fatalf("payload decode error = %v", err)
	}
	if payload.StringField("content") != "body" {
		t.Errorf("queued payload lost merged fields: %+v", payload.Fields)
	}
}

// TestEntityStore_Update_online verifies a confirmed update lands synced.
func TestEntityStore_Update_online(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	h.gw.seed(&models.Record{ID: "n1", Fields: map[string]interface{}{"id": "n1", "title": "old"}, UpdatedAt: 100})

	rec, err := notes.Update(context.Background(), "n1", map[string]interface{}{"title": "new"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.SyncStatus != models.SyncStatusSynced {
		t.Errorf("Update() status = %q, want synced", rec.SyncStatus)
	}
	if len(h.pendingItems(t)) != 0 {
		t.Errorf("queue not empty after confirmed update")
	}
	if h.gw.get("n1").Fields["title"] != "new" {
		t.Errorf("remote copy not updated")
	}
}

// TestEntityStore_Delete_online verifies a confirmed delete cascades
// through descendants locally.
func TestEntityStore_Delete_online(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	seed := func(storeName, id string, fields map[string]interface{}) {
		t.Helper()
		fields["id"] = id
		if _, err := h.local.Put(storeName, &models.Record{
			ID: id, Fields: fields, UpdatedAt: 100, SyncStatus: models.SyncStatusSynced,
		}); err != nil {
			t.Fatalf("seed %s/%s error = %v", storeName, id, err)
		}
	}
	seed(models.StoreNotes, "n1", map[string]interface{}{"title": "x"})
	seed(models.StoreNoteVersions, "v1", map[string]interface{}{"note_id": "n1"})
	seed(models.StoreNoteVersions, "v2", map[string]interface{}{"note_id": "n1"})
	seed(models.StoreNoteVersions, "v3", map[string]interface{}{"note_id": "other"})
	h.gw.seed(&models.Record{ID: "n1", UpdatedAt: 100})

	if err := notes.Delete(context.Background(), "n1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if h.localGet(t, models.StoreNotes, "n1") != nil {
		t.Errorf("note survived delete")
	}
	if h.localGet(t, models.StoreNoteVersions, "v1") != nil || h.localGet(t, models.StoreNoteVersions, "v2") != nil {
		t.Errorf("descendants survived cascade")
	}
	if h.localGet(t, models.StoreNoteVersions, "v3") == nil {
		t.Errorf("unrelated record removed by cascade")
	}
	if !h.manager.tombs.Contains(models.StoreNoteVersions, "v1") {
		t.Errorf("cascade did not tombstone descendants")
	}
	if h.gw.deleteCalls != 1 {
		t.Errorf("gateway Delete calls = %d, want 1", h.gw.deleteCalls)
	}
}

// TestEntityStore_Delete_cascadeDepth verifies the walk crosses nested
// folders down to notes.
func TestEntityStore_Delete_cascadeDepth(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	folders := h.wrapper(t, models.StoreFolders)

	seed := func(storeName, id string, fields map[string]interface{}) {
		t.Helper()
		fields["id"] = id
		if _, err := h.local.Put(storeName, &models.Record{
			ID: id, Fields: fields, UpdatedAt: 100, SyncStatus: models.SyncStatusSynced,
		}); err != nil {
			t.Fatalf("seed %s/%s error = %v", storeName, id, err)
		}
	}
	seed(models.StoreFolders, "f1", map[string]interface{}{"name": "top"})
	seed(models.StoreFolders, "f2", map[string]interface{}{"name": "nested", "parent_id": "f1"})
	seed(models.StoreNotes, "n1", map[string]interface{}{"folder_id": "f2"})
	seed(models.StoreNoteVersions, "v1", map[string]interface{}{"note_id": "n1"})
	h.gws[models.StoreFolders].seed(&models.Record{ID: "f1", UpdatedAt: 100})

	if err := folders.Delete(context.Background(), "f1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	for _, probe := range []struct{ storeName, id string }{
		{models.StoreFolders, "f1"},
		{models.StoreFolders, "f2"},
		{models.StoreNotes, "n1"},
		{models.StoreNoteVersions, "v1"},
	} {
		if h.localGet(t, probe.storeName, probe.id) != nil {
			t.Errorf("%s/%s survived nested cascade", probe.storeName, probe.id)
		}
	}
}

// TestEntityStore_Delete_offline verifies soft tombstoning plus a queued
// delete when the remote cannot confirm.
func TestEntityStore_Delete_offline(t *testing.T) {
	h := newHarness(t)
	notes := h.wrapper(t, models.StoreNotes)

	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "n1", Fields: map[string]interface{}{"id": "n1"}, UpdatedAt: 100, SyncStatus: models.SyncStatusSynced,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}

	if err := notes.Delete(context.Background(), "n1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	local := h.localGet(t, models.StoreNotes, "n1")
	if local == nil || local.SyncStatus != models.SyncStatusPendingDelete {
		t.Errorf("local copy = %+v, want pending_delete", local)
	}
	items := h.pendingItems(t)
	if len(items) != 1 || items[0].Action != models.ActionDelete {
		t.Fatalf("queue = %+v, want one delete", items)
	}

	// The deleted id is hidden from reads.
	got, err := notes.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() returned a deleted record")
	}
	list, err := notes.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() shows %d records, want deleted id hidden", len(list))
	}
}

// TestEntityStore_Get_newerWins verifies read merge: the newer side wins
// and a winning remote copy is cached.
func TestEntityStore_Get_newerWins(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "n1", Fields: map[string]interface{}{"id": "n1", "title": "local"}, UpdatedAt: 200, SyncStatus: models.SyncStatusPending,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}
	h.gw.seed(&models.Record{ID: "n1", Fields: map[string]interface{}{"id": "n1", "title": "remote"}, UpdatedAt: 100})

	got, err := notes.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StringField("title") != "local" {
		t.Errorf("Get() title = %q, want newer local copy", got.StringField("title"))
	}
	cached := h.localGet(t, models.StoreNotes, "n1")
	if cached.StringField("title") != "local" || cached.SyncStatus != models.SyncStatusPending {
		t.Errorf("older remote copy clobbered the pending local edit: %+v", cached)
	}

	// Remote newer: remote copy wins and lands in the cache.
	h.gw.seed(&models.Record{ID: "n1", Fields: map[string]interface{}{"id": "n1", "title": "fresher"}, UpdatedAt: 300})
	got, err = notes.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StringField("title") != "fresher" {
		t.Errorf("Get() title = %q, want newer remote copy", got.StringField("title"))
	}
	cached = h.localGet(t, models.StoreNotes, "n1")
	if cached.StringField("title") != "fresher" || cached.SyncStatus != models.SyncStatusSynced {
		t.Errorf("remote copy not cached: %+v", cached)
	}
}

// TestEntityStore_Get_offline verifies reads degrade to the local cache.
func TestEntityStore_Get_offline(t *testing.T) {
	h := newHarness(t)
	notes := h.wrapper(t, models.StoreNotes)

	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "n1", Fields: map[string]interface{}{"id": "n1", "title": "cached"}, UpdatedAt: 100, SyncStatus: models.SyncStatusSynced,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}

	got, err := notes.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.StringField("title") != "cached" {
		t.Errorf("Get() offline = %+v, want cached copy", got)
	}
	if h.gw.getCalls != 0 {
		t.Errorf("gateway Get called while offline")
	}
}

// TestEntityStore_List_merge verifies the merged view: remote records are
// cached as synced, local-only records appear, and the newer local copy of
// a shared id is preferred.
func TestEntityStore_List_merge(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	h.gw.seed(&models.Record{ID: "shared", Fields: map[string]interface{}{"id": "shared", "title": "remote"}, UpdatedAt: 100})
	h.gw.seed(&models.Record{ID: "remote-only", Fields: map[string]interface{}{"id": "remote-only"}, UpdatedAt: 50})
	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "shared", Fields: map[string]interface{}{"id": "shared", "title": "local edit"}, UpdatedAt: 200, SyncStatus: models.SyncStatusPending,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}
	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "local-only", Fields: map[string]interface{}{"id": "local-only"}, UpdatedAt: 80, SyncStatus: models.SyncStatusPending,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}

	list, err := notes.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	byID := make(map[string]*models.Record)
	for _, rec := range list {
		byID[rec.ID] = rec
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(list))
	}
	if byID["shared"].StringField("title") != "local edit" {
		t.Errorf("shared id title = %q, want newer local copy", byID["shared"].StringField("title"))
	}
	if byID["local-only"] == nil || byID["remote-only"] == nil {
		t.Errorf("one-sided records missing from merge: %v", byID)
	}

	cached := h.localGet(t, models.StoreNotes, "remote-only")
	if cached == nil || cached.SyncStatus != models.SyncStatusSynced {
		t.Errorf("remote-only record not cached as synced: %+v", cached)
	}
}

// TestEntityStore_List_tombstoneFilter verifies a freshly deleted id stays
// hidden even while the remote still lists it.
func TestEntityStore_List_tombstoneFilter(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	notes := h.wrapper(t, models.StoreNotes)

	h.gw.seed(&models.Record{ID: "stale", Fields: map[string]interface{}{"id": "stale"}, UpdatedAt: 100})
	h.manager.tombs.Add(models.StoreNotes, "stale")

	list, err := notes.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() shows tombstoned id: %+v", list)
	}
	if h.localGet(t, models.StoreNotes, "stale") != nil {
		t.Errorf("tombstoned id was cached from the remote listing")
	}

	// After the grace window the remote copy is readable again.
	h.clock += 6000
	list, err = notes.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() after grace shows %d records, want 1", len(list))
	}
}

// TestEntityStore_List_remoteFailure verifies listing degrades to the
// local snapshot when the backend fails.
func TestEntityStore_List_remoteFailure(t *testing.T) {
	h := newHarness(t)
	h.setOnline(true)
	h.gw.setError(errors.New("backend down"))
	notes := h.wrapper(t, models.StoreNotes)

	if _, err := h.local.Put(models.StoreNotes, &models.Record{
		ID: "n1", Fields: map[string]interface{}{"id": "n1"}, UpdatedAt: 100, SyncStatus: models.SyncStatusSynced,
	}); err != nil {
		t.Fatalf("seed Put() error = %v", err)
	}

	list, err := notes.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v, want local fallback", err)
	}
	if len(list) != 1 {
		t.Errorf("List() fallback returned %d records, want 1", len(list))
	}
}

// TestEntityStore_recreateClearsTombstone verifies creating under a
// recently deleted id makes it visible again.
func TestEntityStore_recreateClearsTombstone(t *testing.T) {
	h := newHarness(t)
	notes := h.wrapper(t, models.StoreNotes)

	h.manager.tombs.Add(models.StoreNotes, "n1")

	rec, err := notes.Create(context.Background(), map[string]interface{}{"id": "n1", "title": "back"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := notes.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Errorf("recreated record still suppressed by old tombstone")
	}
}
