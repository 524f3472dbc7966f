package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/danielorbach/go-component"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var errNoDriver = errors.New("schema has no driver")

// An Entity is a single record of a Schema: an identifier plus the ordered
// attributes the schema declares.
//
// An Entity follows a single-writer discipline: callers must not assign its
// attributes or save it concurrently. Reading its reference attributes
// concurrently is safe.
type Entity struct {
	schema *Schema
	id     ID
	attrs  []Attribute
}

// Schema returns the schema declaring the entity.
func (e *Entity) Schema() *Schema { return e.schema }

// ID returns the entity's identifier, which is zero until the entity is
// persisted for the first time.
func (e *Entity) ID() ID { return e.id }

// Attributes returns the entity's attributes in declaration order.
func (e *Entity) Attributes() []Attribute {
	return append([]Attribute(nil), e.attrs...)
}

// Attribute returns the named attribute.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	i, ok := e.schema.index[name]
	if !ok {
		return nil, false
	}
	return e.attrs[i], true
}

// Ref returns the named attribute if it is a reference attribute.
func (e *Entity) Ref(name string) (*ReferenceAttribute, bool) {
	a, ok := e.Attribute(name)
	if !ok {
		return nil, false
	}
	r, ok := a.(*ReferenceAttribute)
	return r, ok
}

// Get returns the value of the named attribute (see Attribute.Get).
func (e *Entity) Get(ctx context.Context, name string) (any, error) {
	a, ok := e.Attribute(name)
	if !ok {
		return nil, fmt.Errorf("get %s.%s: %w", e.schema.name, name, ErrUnknownAttribute)
	}
	return a.Get(ctx)
}

// Set assigns v to the named attribute (see Attribute.Set).
func (e *Entity) Set(name string, v any) error {
	a, ok := e.Attribute(name)
	if !ok {
		return &InvalidAssignmentError{Attribute: name, Value: v, Reason: "schema " + e.schema.name, Err: ErrUnknownAttribute}
	}
	return a.Set(v)
}

// merge assigns the given fields in a stable order, so that the reported error
// does not depend on map iteration.
func (e *Entity) merge(fields Record) error {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := e.Set(k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

// Preload resolves the named reference attributes concurrently, or all of them
// when no name is given. It returns the first error encountered.
func (e *Entity) Preload(ctx context.Context, names ...string) error {
	var refs []*ReferenceAttribute
	if len(names) == 0 {
		for _, a := range e.attrs {
			if r, ok := a.(*ReferenceAttribute); ok {
				refs = append(refs, r)
			}
		}
	}
	for _, name := range names {
		r, ok := e.Ref(name)
		if !ok {
			return fmt.Errorf("preload %s.%s: %w", e.schema.name, name, ErrUnknownAttribute)
		}
		refs = append(refs, r)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range refs {
		g.Go(func() error {
			_, err := r.Resolve(ctx)
			return err
		})
	}
	return g.Wait()
}

// IsDirty reports whether any attribute of the entity, or of any entity
// reachable through resolved reference attributes, diverged from its clean
// snapshot. Unresolved references are never dirty because of their target.
func (e *Entity) IsDirty() bool {
	dirty := false
	Inspect(e, func(x *Entity) bool {
		if x == nil || dirty {
			return false
		}
		if x.ownDirty() {
			dirty = true
			return false
		}
		return true
	})
	return dirty
}

// IsClean is the negation of IsDirty.
func (e *Entity) IsClean() bool { return !e.IsDirty() }

// ownDirty reports whether the entity's own attributes need persisting,
// regardless of its targets.
func (e *Entity) ownDirty() bool {
	for _, a := range e.attrs {
		if a.ownDirty() {
			return true
		}
	}
	return false
}

// DirtyAttributes returns the names of the dirty attributes, in declaration
// order.
func (e *Entity) DirtyAttributes() []string {
	var names []string
	for _, a := range e.attrs {
		if a.IsDirty() {
			names = append(names, a.Name())
		}
	}
	return names
}

// Save persists the entity if, and only if, it is dirty. Saving a clean entity
// returns nil without calling the driver.
//
// Resolved targets are saved first, in declaration order, so that the entity
// persists the identifiers they are stored by. Each dirty entity of the graph is
// persisted exactly once, and an entity whose own attributes are clean is not
// persisted at all (its dirtiness came from its targets). Entities that were
// never persisted receive a new random identifier.
//
// A reference assigned a partial record by identifier fetches its target first,
// so that the assigned fields merge into the stored values. Save returns the
// *ResolutionError when that fetch fails.
//
// A successful persist marks all the entity's attributes clean. If the driver
// fails, Save returns a *PersistError and leaves the failing entity dirty;
// targets that were persisted before the failure remain clean.
func (e *Entity) Save(ctx context.Context) error {
	if !e.IsDirty() {
		return nil
	}
	return e.save(ctx, make(map[*Entity]bool), false)
}

// save persists the dirty part of the graph rooted at e. Entities in seen are
// already handled by the current Save call. When force is set, e is persisted
// even with clean attributes, because an owner needs its identifier.
func (e *Entity) save(ctx context.Context, seen map[*Entity]bool, force bool) error {
	if seen[e] {
		return nil
	}
	seen[e] = true

	// Allocate the identifier upfront so that targets referring back to e (in
	// cyclic graphs) persist it.
	persist := force || e.ownDirty()
	var allocated bool
	if persist && e.id.IsZero() {
		e.id, allocated = ID(uuid.NewString()), true
	}

	for _, a := range e.attrs {
		r, ok := a.(*ReferenceAttribute)
		if !ok {
			continue
		}
		t := r.Peek()
		if t == nil && r.hasPending() {
			// Fields assigned by identifier merge into the stored target.
			var err error
			if t, err = r.Resolve(ctx); err != nil {
				if allocated {
					e.id = ""
				}
				return err
			}
		}
		if t != nil && (t.id.IsZero() || t.IsDirty()) {
			if err := t.save(ctx, seen, t.id.IsZero()); err != nil {
				if allocated {
					e.id = ""
				}
				return err
			}
		}
		r.sync()
	}

	// Syncing may leave the own attributes clean, e.g. when a partial record
	// named the identifier the entity was loaded with.
	if !force && !allocated && !e.ownDirty() {
		return nil
	}
	if e.id.IsZero() {
		e.id, allocated = ID(uuid.NewString()), true
	}
	if err := e.persist(ctx); err != nil {
		if allocated {
			e.id = ""
		}
		return err
	}
	return nil
}

func (e *Entity) persist(ctx context.Context) (err error) {
	schema := e.schema.name
	ctx, span := tracer.Start(ctx, "Entity.Save", trace.WithAttributes(
		attribute.String(schemaNameKey, schema),
		attribute.String("entity.id", string(e.id)),
	))
	defer span.End()

	logger := component.Logger(ctx).With("schema", schema, "id", string(e.id))
	logger.Debug("Persisting entity...", "dirty", e.DirtyAttributes())

	if e.schema.driver == nil {
		err = errNoDriver
	} else {
		err = e.schema.driver.Persist(ctx, schema, e.id, e.Values())
	}
	measurePersist(ctx, schema, err == nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("Failed to persist entity", "error", err)
		return &PersistError{Schema: schema, ID: e.id, Err: err}
	}

	for _, a := range e.attrs {
		a.markClean()
	}
	logger.Debug("Entity persisted")
	return nil
}

// Values returns the record the entity persists: its identifier (when it has
// one) and each attribute's value. Reference attributes contribute the
// identifier of their target, or nil.
func (e *Entity) Values() Record {
	r := make(Record, len(e.attrs)+1)
	if !e.id.IsZero() {
		r[IDField] = string(e.id)
	}
	for _, a := range e.attrs {
		r[a.Name()] = a.persisted()
	}
	return r
}

// cleanValues is the counterpart of Values for the clean snapshots.
func (e *Entity) cleanValues() Record {
	r := make(Record, len(e.attrs)+1)
	if !e.id.IsZero() {
		r[IDField] = string(e.id)
	}
	for _, a := range e.attrs {
		r[a.Name()] = a.cleanValue()
	}
	return r
}

// Changes returns a JSON merge patch (RFC 7396) which, applied to the clean
// snapshot of the entity, yields its current values. A clean entity yields the
// empty patch "{}". Changes covers the entity's own attributes only.
func (e *Entity) Changes() ([]byte, error) {
	original, err := json.Marshal(e.cleanValues())
	if err != nil {
		return nil, fmt.Errorf("marshal clean values: %w", err)
	}
	modified, err := json.Marshal(e.Values())
	if err != nil {
		return nil, fmt.Errorf("marshal values: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, fmt.Errorf("create merge patch: %w", err)
	}
	return patch, nil
}

// MarshalJSON encodes the entity as a JSON object holding the identifier
// followed by the attributes in declaration order, as returned by Values.
func (e *Entity) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		buf.Write(b)
		return nil
	}
	if !e.id.IsZero() {
		if err := write(IDField, string(e.id)); err != nil {
			return nil, err
		}
	}
	for _, a := range e.attrs {
		if err := write(a.Name(), a.persisted()); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Entity) String() string {
	if e.id.IsZero() {
		return e.schema.name + "(new)"
	}
	return e.schema.name + "(" + string(e.id) + ")"
}
