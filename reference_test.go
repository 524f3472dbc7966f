package entity_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-entity"
	"github.com/go-digitaltwin/go-entity/memdriver"
)

// gatedDriver blocks every FindByID until the gate opens, and counts calls.
type gatedDriver struct {
	*memdriver.Driver
	gate  chan struct{}
	finds atomic.Int32
}

func (d *gatedDriver) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	d.finds.Add(1)
	<-d.gate
	return d.Driver.FindByID(ctx, schema, id)
}

func TestReference_Resolve_concurrent(t *testing.T) {
	ctx := context.Background()
	d := &gatedDriver{Driver: memdriver.New(), gate: make(chan struct{})}
	d.Put("Two", entity.Record{"id": "two", "name": "Two"})
	two := entity.NewSchema("Two", d, entity.Plain("name"))
	one := entity.NewSchema("One", d, entity.Relation("two", func() *entity.Schema { return two }))
	e, err := one.Hydrate(entity.Record{"id": "_x", "two": "two"})
	if err != nil {
		t.Fatalf("Hydrate() failed: %v", err)
	}
	r, _ := e.Ref("two")

	const readers = 8
	var wg sync.WaitGroup
	results := make([]*entity.Entity, readers)
	errs := make([]error, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(ctx)
		}()
	}
	// Let every reader reach the attribute before the fetch completes. Readers
	// arriving later find the attribute resolved, which is fine as well.
	for r.State() != entity.RefResolving {
		runtime.Gosched()
	}
	close(d.gate)
	wg.Wait()

	if n := d.finds.Load(); n != 1 {
		t.Errorf("FindByID called %d times, want 1", n)
	}
	for i := range readers {
		if errs[i] != nil {
			t.Errorf("reader %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("reader %d observed a different entity", i)
		}
	}
	if r.State() != entity.RefResolved {
		t.Errorf("State() = %v, want %v", r.State(), entity.RefResolved)
	}
}

func TestReference_Resolve_retry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.loadOne(t)
	r, _ := one.Ref("two")

	boom := errors.New("boom")
	f.driver.FailFind(boom)
	_, err := r.Resolve(ctx)
	var rerr *entity.ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("Resolve() error = %v, want *ResolutionError", err)
	}
	if rerr.Attribute != "two" || rerr.ID != "two" {
		t.Errorf("ResolutionError = {%v, %v}, want {two, two}", rerr.Attribute, rerr.ID)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Resolve() error does not wrap the driver error: %v", err)
	}
	if r.State() != entity.RefIdentifierOnly {
		t.Errorf("State() = %v after a failure, want %v", r.State(), entity.RefIdentifierOnly)
	}

	got, err := r.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() retry failed: %v", err)
	}
	if got.ID() != "two" {
		t.Errorf("Resolve() = %v, want Two(two)", got)
	}
	// Memoized: no further fetch.
	if _, err := r.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if n := f.driver.Calls().FindByID["Two"]; n != 2 {
		t.Errorf("FindByID called %d times, want 2", n)
	}
}

func TestReference_Resolve_missing(t *testing.T) {
	f := newFixture(t)
	one := f.loadOne(t)
	mustSet(t, one, "two", "nowhere")

	_, err := one.Get(context.Background(), "two")
	var rerr *entity.ResolutionError
	if !errors.As(err, &rerr) || !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get(two) error = %v, want *ResolutionError wrapping ErrNotFound", err)
	}
}

func TestReference_Peek(t *testing.T) {
	f := newFixture(t)
	one := f.loadOne(t)
	r, _ := one.Ref("two")

	if r.Peek() != nil {
		t.Errorf("Peek() != nil before resolution")
	}
	if n := f.driver.Calls().FindByID["Two"]; n != 0 {
		t.Errorf("Peek() fetched the target")
	}
	mustSet(t, one, "two", nil)
	v, err := one.Get(context.Background(), "two")
	if err != nil || v != nil {
		t.Errorf("Get() of an unset reference = (%v, %v), want (nil, nil)", v, err)
	}
}

func TestReference_Set_entity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.loadOne(t)

	two, err := f.two.Find(ctx, "two")
	if err != nil {
		t.Fatalf("Find(two) failed: %v", err)
	}
	mustSet(t, one, "two", two)
	r, _ := one.Ref("two")
	if r.IsDirty() {
		t.Errorf("assigning the entity the reference was loaded with made it dirty")
	}
	if r.Peek() != two {
		t.Errorf("Peek() did not memoize the assigned entity")
	}
	got, err := r.Resolve(ctx)
	if err != nil || got != two {
		t.Errorf("Resolve() = (%v, %v), want the assigned entity", got, err)
	}
	if n := f.driver.Calls().FindByID["Two"]; n != 1 {
		t.Errorf("FindByID called %d times, want 1", n)
	}
}

func TestReference_Set_partialRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.loadOne(t)

	mustSet(t, one, "two", entity.Record{"id": "two", "name": "Renamed"})
	r, _ := one.Ref("two")
	if !r.IsDirty() || !one.IsDirty() {
		t.Errorf("a record with extra fields left the reference clean")
	}
	target, err := r.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if target.ID() != "two" {
		t.Fatalf("Resolve() = %v, want Two(two)", target)
	}
	if name, _ := target.Get(ctx, "name"); name != "Renamed" {
		t.Errorf("target name = %v, want Renamed", name)
	}

	if err := one.Save(ctx); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	stored, _ := f.driver.Record("Two", "two")
	if stored["name"] != "Renamed" {
		t.Errorf("stored name = %v, want Renamed", stored["name"])
	}
	// The identifier did not change, so the owner had nothing to persist.
	if n := f.persists("One"); n != 0 {
		t.Errorf("Save() persisted One %d times, want 0", n)
	}
	if one.IsDirty() {
		t.Errorf("IsDirty() = true after Save()")
	}
}

// partsFixture declares a target with two attributes, so that a record naming
// only one of them shows whether the other survives.
func partsFixture(t *testing.T) (d *memdriver.Driver, one, two *entity.Schema) {
	t.Helper()
	d = memdriver.New()
	two = entity.NewSchema("Two", d, entity.Plain("name"), entity.Plain("code"))
	one = entity.NewSchema("One", d,
		entity.Plain("name"),
		entity.Relation("two", func() *entity.Schema { return two }),
	)
	d.Put("One", entity.Record{"id": "_x", "name": "One", "two": "two"})
	d.Put("Two", entity.Record{"id": "two", "name": "Two", "code": "KEEP"})
	return d, one, two
}

func TestReference_Set_partialRecordKeepsOmittedFields(t *testing.T) {
	tests := []struct {
		name    string
		resolve bool
	}{
		{name: "unresolved"},
		{name: "resolved", resolve: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d, schema, _ := partsFixture(t)
			one, err := schema.Find(ctx, "_x")
			if err != nil {
				t.Fatalf("Find(_x) failed: %v", err)
			}
			if tt.resolve {
				if _, err := one.Get(ctx, "two"); err != nil {
					t.Fatalf("Get(two) failed: %v", err)
				}
			}

			mustSet(t, one, "two", entity.Record{"id": "two", "name": "Renamed"})
			if err := one.Save(ctx); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}

			want := entity.Record{"id": "two", "name": "Renamed", "code": "KEEP"}
			got, _ := d.Record("Two", "two")
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("stored Two mismatch (-want +got):\n%s", diff)
			}
			calls := d.Calls()
			if calls.Persist["Two"] != 1 || calls.FindByID["Two"] != 1 {
				t.Errorf("Calls() = %+v, want one fetch and one persist of Two", calls)
			}
			if one.IsDirty() {
				t.Errorf("IsDirty() = true after Save()")
			}
		})
	}
}

func TestReference_Set_undeclaredFields(t *testing.T) {
	ctx := context.Background()

	t.Run("loaded", func(t *testing.T) {
		f := newFixture(t)
		one := f.loadOne(t)
		mustSet(t, one, "two", entity.Record{"id": "two", "someAttr": 1})
		if !one.IsDirty() {
			t.Errorf("IsDirty() = false after assigning a record with extra fields")
		}
		if err := one.Save(ctx); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		// Nothing the schemas declare changed.
		if n := f.persists("One") + f.persists("Two"); n != 0 {
			t.Errorf("Save() persisted %d times, want 0", n)
		}
		stored, _ := f.driver.Record("Two", "two")
		if _, ok := stored["someAttr"]; ok {
			t.Errorf("stored Two = %v, want no someAttr", stored)
		}
		if one.IsDirty() {
			t.Errorf("IsDirty() = true after Save()")
		}
	})

	t.Run("new", func(t *testing.T) {
		f := newFixture(t)
		one := f.one.New()
		mustSet(t, one, "two", map[string]any{"something": true})
		if !one.IsDirty() {
			t.Errorf("IsDirty() = false after assigning a record")
		}
		if err := one.Save(ctx); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		if f.persists("One") != 1 || f.persists("Two") != 1 {
			t.Errorf("Save() persisted One %d and Two %d times, want 1 and 1", f.persists("One"), f.persists("Two"))
		}
		r, _ := one.Ref("two")
		if id := r.Identifier(); id.IsZero() {
			t.Errorf("Identifier() is zero after Save()")
		}
	})
}

func TestReference_Set_invalidRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.loadOne(t)

	err := one.Set("two", entity.Record{"id": "three", "name": func() {}})
	var aerr *entity.InvalidAssignmentError
	if !errors.As(err, &aerr) {
		t.Fatalf("Set() error = %v, want *InvalidAssignmentError", err)
	}
	r, _ := one.Ref("two")
	if r.Identifier() != "two" || one.IsDirty() {
		t.Errorf("a rejected record changed the reference: %v, dirty %v", r.Identifier(), one.IsDirty())
	}
	if err := one.Save(ctx); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
}

func TestReference_Set_sameIdentifierKeepsTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.loadOne(t)

	v, err := one.Get(ctx, "two")
	if err != nil {
		t.Fatalf("Get(two) failed: %v", err)
	}
	two := v.(*entity.Entity)
	mustSet(t, two, "name", "Changed")

	mustSet(t, one, "two", "two")
	r, _ := one.Ref("two")
	if r.Peek() != two {
		t.Fatalf("assigning the identifier of the memoized target dropped it")
	}
	if err := one.Save(ctx); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	stored, _ := f.driver.Record("Two", "two")
	if stored["name"] != "Changed" {
		t.Errorf("stored name = %v, want Changed", stored["name"])
	}

	// Another identifier does drop it.
	mustSet(t, one, "two", "three")
	if r.Peek() != nil {
		t.Errorf("Peek() = %v after assigning another identifier, want nil", r.Peek())
	}
}

func TestReference_reassignWhileResolving(t *testing.T) {
	ctx := context.Background()
	d := &gatedDriver{Driver: memdriver.New(), gate: make(chan struct{})}
	d.Put("Two", entity.Record{"id": "two", "name": "Two"})
	two := entity.NewSchema("Two", d, entity.Plain("name"))
	one := entity.NewSchema("One", d, entity.Relation("two", func() *entity.Schema { return two }))
	e, err := one.Hydrate(entity.Record{"id": "_x", "two": "two"})
	if err != nil {
		t.Fatalf("Hydrate() failed: %v", err)
	}
	r, _ := e.Ref("two")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Resolve(ctx)
	}()
	for r.State() != entity.RefResolving {
		runtime.Gosched()
	}
	mustSet(t, e, "two", "three")
	close(d.gate)
	<-done

	if r.Peek() != nil {
		t.Errorf("a resolution started before the assignment was memoized")
	}
	if r.State() != entity.RefIdentifierOnly || r.Identifier() != "three" {
		t.Errorf("State() = %v (%v), want %v (three)", r.State(), r.Identifier(), entity.RefIdentifierOnly)
	}
}

func TestSchema_Hydrate_embedded(t *testing.T) {
	f := newFixture(t)
	one, err := f.one.Hydrate(entity.Record{
		"id":   "_x",
		"name": "One",
		"two":  map[string]any{"id": "two", "name": "Two"},
	})
	if err != nil {
		t.Fatalf("Hydrate() failed: %v", err)
	}
	r, _ := one.Ref("two")
	if r.State() != entity.RefResolved {
		t.Fatalf("State() = %v, want %v", r.State(), entity.RefResolved)
	}
	if one.IsDirty() {
		t.Errorf("IsDirty() = true right after hydration")
	}
	if _, err := f.one.Hydrate(entity.Record{"two": map[string]any{"name": "Two"}}); err == nil {
		t.Errorf("Hydrate() accepted an embedded record without an identifier")
	}
}
