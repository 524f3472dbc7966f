// Package cache places an explicit identifier cache in front of an
// entity.Driver.
//
// The cache is an object the caller composes into its driver stack, never
// ambient state: entities found through a cached driver are still hydrated
// afresh, so two lookups of the same identifier yield two independent entities
// with their own dirty tracking.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"

	"github.com/go-digitaltwin/go-entity"
)

// ErrMiss is returned by a Store that holds no entry for a key.
var ErrMiss = errors.New("cache miss")

// A Key identifies a cached record.
type Key struct {
	Schema string
	ID     entity.ID
}

func (k Key) String() string { return k.Schema + "/" + string(k.ID) }

// A Store keeps records by key. Implementations must be safe for concurrent use
// and must not alias the records they are given or return.
type Store interface {
	// Get returns the record stored for the key, or ErrMiss.
	Get(ctx context.Context, key Key) (entity.Record, error)
	// Set stores the record for the key.
	Set(ctx context.Context, key Key, record entity.Record) error
	// Delete removes the key; deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
}

// Driver is an entity.Driver reading through and writing through a Store.
//
// Store failures never fail an operation: the driver logs them and falls back
// to the next driver. A Driver is safe for concurrent use.
type Driver struct {
	next  entity.Driver
	store Store
}

// New returns a Driver caching the records of next in store.
func New(next entity.Driver, store Store) *Driver {
	return &Driver{next: next, store: store}
}

// FindByID returns the cached record, or finds it through the next driver and
// caches it.
func (d *Driver) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	key := Key{Schema: schema, ID: id}
	logger := component.Logger(ctx).With("cache.key", key.String())

	r, err := d.store.Get(ctx, key)
	switch {
	case err == nil:
		return r, nil
	case !errors.Is(err, ErrMiss):
		logger.Warn("Failed to read from cache", "error", err)
	}

	r, err = d.next.FindByID(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	if err := d.store.Set(ctx, key, r); err != nil {
		logger.Warn("Failed to write to cache", "error", err)
	}
	return r, nil
}

// Persist persists through the next driver, then refreshes the cached record.
// The cache is left untouched when the next driver fails.
func (d *Driver) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) error {
	if err := d.next.Persist(ctx, schema, id, values); err != nil {
		return err
	}
	key := Key{Schema: schema, ID: id}
	r := values.Clone()
	if r == nil {
		r = make(entity.Record)
	}
	r[entity.IDField] = string(id)
	if err := d.store.Set(ctx, key, r); err != nil {
		// A stale entry is worse than none.
		component.Logger(ctx).Warn("Failed to refresh cache, evicting", "error", err, "cache.key", key.String())
		return d.Evict(ctx, schema, id)
	}
	return nil
}

// Evict removes the cached record of an entity, so that the next FindByID
// reaches the next driver.
func (d *Driver) Evict(ctx context.Context, schema string, id entity.ID) error {
	key := Key{Schema: schema, ID: id}
	if err := d.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("evict %v: %w", key, err)
	}
	return nil
}
