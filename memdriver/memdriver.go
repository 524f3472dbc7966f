// Package memdriver implements an in-memory entity.Driver.
//
// Records are deep-copied on their way in and out, so callers never alias the
// stored state. The driver counts the calls it receives and can be told to fail
// the next call, which makes it the driver of choice for tests asserting how
// often entities reach storage.
package memdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-digitaltwin/go-entity"
)

// Calls counts the operations a Driver has served, per schema.
type Calls struct {
	FindByID map[string]int
	Persist  map[string]int
}

// Driver stores records in memory. The zero Driver is not usable; use New.
//
// It is safe for concurrent use.
type Driver struct {
	mu          sync.Mutex
	data        map[string]map[entity.ID]entity.Record
	finds       map[string]int
	persists    map[string]int
	failFind    error
	failPersist error
}

// New returns an empty Driver.
func New() *Driver {
	return &Driver{
		data:     make(map[string]map[entity.ID]entity.Record),
		finds:    make(map[string]int),
		persists: make(map[string]int),
	}
}

// FindByID returns a copy of the stored record, or an error wrapping
// entity.ErrNotFound.
func (d *Driver) FindByID(_ context.Context, schema string, id entity.ID) (entity.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds[schema]++
	if err := d.failFind; err != nil {
		d.failFind = nil
		return nil, err
	}
	r, ok := d.data[schema][id]
	if !ok {
		return nil, fmt.Errorf("memdriver: %s(%s): %w", schema, id, entity.ErrNotFound)
	}
	return r.Clone(), nil
}

// Persist stores a copy of values under the given identifier, replacing any
// previous record.
func (d *Driver) Persist(_ context.Context, schema string, id entity.ID, values entity.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persists[schema]++
	if err := d.failPersist; err != nil {
		d.failPersist = nil
		return err
	}
	d.put(schema, id, values)
	return nil
}

// Put seeds the driver with a record, which must carry an identifier. Put does
// not count as a call.
func (d *Driver) Put(schema string, record entity.Record) {
	id, ok := record.ID()
	if !ok {
		panic("memdriver: record has no identifier")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(schema, id, record)
}

func (d *Driver) put(schema string, id entity.ID, values entity.Record) {
	r := values.Clone()
	if r == nil {
		r = make(entity.Record)
	}
	r[entity.IDField] = string(id)
	if d.data[schema] == nil {
		d.data[schema] = make(map[entity.ID]entity.Record)
	}
	d.data[schema][id] = r
}

// Record returns a copy of the stored record, without counting a call.
func (d *Driver) Record(schema string, id entity.ID) (entity.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.data[schema][id]
	return r.Clone(), ok
}

// Calls returns a snapshot of the call counters.
func (d *Driver) Calls() Calls {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Calls{
		FindByID: make(map[string]int, len(d.finds)),
		Persist:  make(map[string]int, len(d.persists)),
	}
	for k, v := range d.finds {
		c.FindByID[k] = v
	}
	for k, v := range d.persists {
		c.Persist[k] = v
	}
	return c
}

// FailFind makes the next FindByID call return err.
func (d *Driver) FailFind(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFind = err
}

// FailPersist makes the next Persist call return err without storing anything.
func (d *Driver) FailPersist(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPersist = err
}
