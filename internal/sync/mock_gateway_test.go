package sync

import (
	"context"
	"sort"
	stdsync "sync"

	"github.com/notabene-app/notabene-core/internal/gateway"
	"github.com/notabene-app/notabene-core/internal/models"
)

// fakeGateway is an in-memory gateway.Gateway for tests. Set failWith to
// make every call fail; set assignID to have Create store under a
// server-chosen id.
type fakeGateway struct {
	mu      stdsync.Mutex
	records map[string]*models.Record
	now     func() int64

	failWith error
	assignID string

	listCalls   int
	getCalls    int
	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeGateway() *fakeGateway {
	clock := int64(1700000000000)
	return &fakeGateway{
		records: make(map[string]*models.Record),
		now:     func() int64 { return clock },
	}
}

// seed installs a remote record directly, bypassing call counters.
func (f *fakeGateway) seed(rec *models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec.Clone()
}

func (f *fakeGateway) get(id string) *models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id].Clone()
}

func (f *fakeGateway) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeGateway) List(ctx context.Context, sortSpec string) ([]*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]*models.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeGateway) Get(ctx context.Context, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeGateway) Create(ctx context.Context, rec *models.Record) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	stored := rec.Clone()
	stored.SyncStatus = ""
	stored.ConflictBackup = nil
	if f.assignID != "" {
		stored.ID = f.assignID
		if stored.Fields == nil {
			stored.Fields = make(map[string]interface{})
		}
		stored.Fields["id"] = f.assignID
	}
	f.records[stored.ID] = stored
	return stored.Clone(), nil
}

func (f *fakeGateway) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]interface{})
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = f.now()
	return rec.Clone(), nil
}

func (f *fakeGateway) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.records[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeGateway) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := f.Delete(context.Background(), id); err != nil && !gateway.IsNotFound(err) {
			return err
		}
	}
	return nil
}
