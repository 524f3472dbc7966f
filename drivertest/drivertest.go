/*
Package drivertest provides a suite of tests designed to assess entity storage
drivers (e.g. in-memory, neo4j, SQL).

The tests operate on the specific driver via the [entity.Driver] interface to
check functional correctness and compliance with the behaviours defined by that
interface, both directly and through entities saved and found with it.

Call drivertest.Run in its own test to invoke the test-suite:

	func TestDriver(t *testing.T) {
		d := memdriver.New()
		drivertest.Run(t, d)
	}

The test cases in this suite focus on the basic storage operations:

  - Persisting records, replacing them and finding them by identifier.
  - Saving entities and their resolved references through the driver.

So, specific drivers are encouraged to perform additional tests which are
specific to the underlying storage.
*/
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/go-digitaltwin/go-entity"
)

// The schemas below are named after the suite, so that a driver backed by
// shared storage does not collide with the records of other tests.
const (
	schemaWidget = "DriverTestWidget"
	schemaPart   = "DriverTestPart"
)

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// An operation executes a single modification or query on the tested driver.
	// Driver calls made by operate are counted, so operations may also assert how
	// often entities reached storage.
	operate func(ctx context.Context, d *countingDriver) error
	// The records expected to exist once operate has returned successfully. This
	// expectation takes into account the order and the successful execution of
	// previous test-cases. Records absent from the map are not checked.
	records map[key]entity.Record
	// Identifiers expected not to exist once operate has returned.
	missing []key
}

type key struct {
	schema string
	id     entity.ID
}

var cases = []testCase{
	{
		name:     "find-missing",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			_, err := d.FindByID(ctx, schemaWidget, "w1")
			if !errors.Is(err, entity.ErrNotFound) {
				return fmt.Errorf("FindByID() error = %v, want %v", err, entity.ErrNotFound)
			}
			return nil
		},
		missing: []key{{schemaWidget, "w1"}},
	},
	{
		name:     "persist-new",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			return d.Persist(ctx, schemaWidget, "w1", entity.Record{
				"name":   "alpha",
				"size":   3,
				"active": true,
			})
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": "alpha", "size": 3, "active": true},
		},
	},
	{
		name:     "persist-replaces",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			return d.Persist(ctx, schemaWidget, "w1", entity.Record{
				"name": "beta",
				"tags": []any{"x", "y"},
			})
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": "beta", "tags": []any{"x", "y"}},
		},
	},
	{
		name:     "persist-null",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			return d.Persist(ctx, schemaWidget, "w1", entity.Record{"name": nil})
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": nil},
		},
	},
	{
		name:     "schemas-are-isolated",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			return d.Persist(ctx, schemaPart, "p1", entity.Record{"label": "bolt"})
		},
		records: map[key]entity.Record{
			{schemaPart, "p1"}: {"id": "p1", "label": "bolt"},
		},
		missing: []key{{schemaPart, "w1"}, {schemaWidget, "p1"}},
	},
	{
		name:     "save-entity-once",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			_, widgets := schemas(d)
			w, err := widgets.Find(ctx, "w1")
			if err != nil {
				return err
			}
			if err := w.Set("name", "gamma"); err != nil {
				return err
			}
			if err := w.Set("part", "p1"); err != nil {
				return err
			}
			if err := w.Save(ctx); err != nil {
				return err
			}
			// Saving a clean entity must not reach the driver.
			if err := w.Save(ctx); err != nil {
				return err
			}
			if n := d.persists(schemaWidget); n != 1 {
				return fmt.Errorf("persisted %s %d times, want 1", schemaWidget, n)
			}
			return nil
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": "gamma", "part": "p1"},
		},
	},
	{
		name:     "save-dirty-reference",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			_, widgets := schemas(d)
			w, err := widgets.Find(ctx, "w1")
			if err != nil {
				return err
			}
			v, err := w.Get(ctx, "part")
			if err != nil {
				return err
			}
			if err := v.(*entity.Entity).Set("label", "nut"); err != nil {
				return err
			}
			if !w.IsDirty() {
				return errors.New("widget is clean after its part changed")
			}
			if err := w.Save(ctx); err != nil {
				return err
			}
			// Only the part changed, so only the part reaches storage.
			if n := d.persists(schemaWidget); n != 0 {
				return fmt.Errorf("persisted %s %d times, want 0", schemaWidget, n)
			}
			if n := d.persists(schemaPart); n != 1 {
				return fmt.Errorf("persisted %s %d times, want 1", schemaPart, n)
			}
			return nil
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": "gamma", "part": "p1"},
			{schemaPart, "p1"}:   {"id": "p1", "label": "nut"},
		},
	},
	{
		name:     "save-new-reference",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			parts, widgets := schemas(d)
			w, err := widgets.Find(ctx, "w1")
			if err != nil {
				return err
			}
			p := parts.New()
			if err := p.Set("label", "washer"); err != nil {
				return err
			}
			if err := w.Set("part", p); err != nil {
				return err
			}
			if err := w.Save(ctx); err != nil {
				return err
			}
			if p.ID().IsZero() {
				return errors.New("saved part has no identifier")
			}
			got, err := d.FindByID(ctx, schemaWidget, "w1")
			if err != nil {
				return err
			}
			if got["part"] != string(p.ID()) {
				return fmt.Errorf("widget part = %v, want %v", got["part"], p.ID())
			}
			return nil
		},
	},
	{
		name:     "save-partial-reference",
		location: locateSource(),
		operate: func(ctx context.Context, d *countingDriver) error {
			if err := d.Persist(ctx, schemaPart, "p2", entity.Record{"label": "rivet", "grade": "A"}); err != nil {
				return err
			}
			_, widgets := schemas(d)
			w, err := widgets.Find(ctx, "w1")
			if err != nil {
				return err
			}
			// The record omits the grade, and names a field parts do not declare.
			if err := w.Set("part", entity.Record{"id": "p2", "label": "stud", "colour": "red"}); err != nil {
				return err
			}
			if err := w.Save(ctx); err != nil {
				return err
			}
			if n := d.persists(schemaPart); n != 2 {
				return fmt.Errorf("persisted %s %d times, want 2", schemaPart, n)
			}
			return nil
		},
		records: map[key]entity.Record{
			{schemaWidget, "w1"}: {"id": "w1", "name": "gamma", "part": "p2"},
			{schemaPart, "p2"}:   {"id": "p2", "label": "stud", "grade": "A"},
		},
	},
}

// Run executes a sequence of test cases on an entity storage driver. It verifies
// that the driver stores, replaces and finds records, and that entities saved
// through it reach storage exactly when they are dirty.
//
// We deliberately avoid receiving a contextual argument for each test to ensure
// that the test suite runs under neutral conditions without any external
// influences or timeouts.
//
// The testing process requires all cases to execute in a strict sequence because
// the state of the storage at the end of one test is the starting point for the
// next. Hence, the driver must be empty of the suite's schemas when Run starts.
func Run(t *testing.T, d entity.Driver) {
	t.Helper()

	// We deliberately use the background context because this test-suite does not
	// check performance.
	ctx := context.Background()

	for _, c := range cases {
		// We encourage developers to read the source code directly, especially when
		// failures are not clear enough.
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)
		// Every case counts the calls of its own operation only.
		counter := &countingDriver{next: d}
		if err := c.operate(ctx, counter); err != nil {
			t.Fatalf("Operate(%v) failed: %v", c.name, err)
		}
		// Regardless of how the operation went, the storage must hold the expected
		// records.
		for k, want := range c.records {
			got, err := d.FindByID(ctx, k.schema, k.id)
			if err != nil {
				t.Errorf("Check records of %v: FindByID(%v, %v) failed: %v", c.name, k.schema, k.id, err)
				continue
			}
			if diff := diffRecords(want, got); diff != "" {
				t.Errorf("Check records of %v: %v(%v) mismatch (-want +got):\n%v", c.name, k.schema, k.id, diff)
			}
		}
		for _, k := range c.missing {
			if _, err := d.FindByID(ctx, k.schema, k.id); !errors.Is(err, entity.ErrNotFound) {
				t.Errorf("Check records of %v: FindByID(%v, %v) error = %v, want %v", c.name, k.schema, k.id, err, entity.ErrNotFound)
			}
		}
	}
}

// schemas declares the suite's entity schemas over the given driver.
func schemas(d entity.Driver) (parts, widgets *entity.Schema) {
	parts = entity.NewSchema(schemaPart, d, entity.Plain("label"), entity.Plain("grade"))
	widgets = entity.NewSchema(schemaWidget, d,
		entity.Plain("name"),
		entity.Plain("size"),
		entity.Plain("active"),
		entity.Plain("tags"),
		entity.Relation("part", func() *entity.Schema { return parts }),
	)
	return parts, widgets
}

// Call this function to set the location of every test-case in the source file.
// The returned string is used to guide developers of storage drivers to the
// appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
