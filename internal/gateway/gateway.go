// Package gateway defines the remote backend contract the sync core talks
// to: per-entity-kind CRUD plus an auth capability. Implementations must
// not retry internally; retry policy belongs to the sync manager.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notabene-app/notabene-core/internal/models"
)

// ErrNotFound is returned by Get/Update/Delete when the remote backend has
// no record with the requested id.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether an error means the record does not exist
// remotely. A delete hitting this is treated as already satisfied.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Gateway is the per-entity-kind remote capability.
type Gateway interface {
	// List returns all remote records, ordered per sortSpec
	// (e.g. "updated_at desc"). Empty sortSpec means backend default.
	List(ctx context.Context, sortSpec string) ([]*models.Record, error)

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)

	// Create stores a new record and returns the server-confirmed copy.
	// The client-assigned id is sent so a replayed create upserts instead
	// of duplicating.
	Create(ctx context.Context, rec *models.Record) (*models.Record, error)

	// Update applies a partial field update and returns the stored record.
	Update(ctx context.Context, id string, fields map[string]interface{}) (*models.Record, error)

	// Delete removes one record.
	Delete(ctx context.Context, id string) error

	// DeleteMany removes a batch of records.
	DeleteMany(ctx context.Context, ids []string) error
}

// User is the authenticated principal the backend reports.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Auth is the session capability. Not used by the sync loop directly.
type Auth interface {
	CurrentUser(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
}

// Registry maps store names to their gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register binds a gateway to a store name.
func (r *Registry) Register(storeName string, gw Gateway) error {
	if !models.IsKnownStore(storeName) {
		return fmt.Errorf("unknown store %q", storeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[storeName] = gw
	return nil
}

// Lookup returns the gateway for a store name, nil if unbound.
func (r *Registry) Lookup(storeName string) Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gateways[storeName]
}

// Stores returns the bound store names in registry order of models.StoreNames.
func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range models.StoreNames() {
		if _, ok := r.gateways[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of bound gateways.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gateways)
}
