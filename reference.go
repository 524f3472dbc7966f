package entity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// RefState is the resolution state of a ReferenceAttribute.
type RefState int

const (
	// RefUnset means the attribute points at nothing.
	RefUnset RefState = iota
	// RefIdentifierOnly means the attribute holds the identifier of its target,
	// which has not been fetched yet.
	RefIdentifierOnly
	// RefResolving means a fetch of the target is in flight.
	RefResolving
	// RefResolved means the attribute memoizes its target entity.
	RefResolved
)

func (s RefState) String() string {
	switch s {
	case RefUnset:
		return "unset"
	case RefIdentifierOnly:
		return "identifier-only"
	case RefResolving:
		return "resolving"
	case RefResolved:
		return "resolved"
	default:
		return "RefState(" + strconv.Itoa(int(s)) + ")"
	}
}

// A ReferenceAttribute points at another persisted entity, and resolves that
// entity lazily through the target schema's Driver.
//
// Its Holder tracks the identifier of the target, so re-assigning the same
// identifier (or an entity or record bearing it) leaves the attribute clean.
// Once resolved, the attribute is also dirty whenever its target is.
//
// Reads may happen concurrently: while a fetch is in flight, every other read
// of the same attribute waits for that fetch rather than issuing its own.
// Assignments follow the single-writer discipline of the owning Entity.
type ReferenceAttribute struct {
	name   string
	owner  *Entity
	target func() *Schema
	holder Holder

	mu       sync.Mutex
	state    RefState
	id       ID
	resolved *Entity
	// pending holds fields assigned by identifier, merged into the target once
	// it is fetched.
	pending Record
	// gen is bumped by every assignment so that a fetch started before the
	// assignment does not memoize a stale target.
	gen   uint64
	group singleflight.Group
}

func (a *ReferenceAttribute) Name() string    { return a.name }
func (a *ReferenceAttribute) Entity() *Entity { return a.owner }
func (a *ReferenceAttribute) Value() *Holder  { return &a.holder }

// Target returns the schema of the entities this attribute points at.
func (a *ReferenceAttribute) Target() *Schema { return a.target() }

// State returns the current resolution state.
func (a *ReferenceAttribute) State() RefState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Identifier returns the identifier of the target, or the zero ID when the
// attribute is unset or points at an entity that was never persisted.
func (a *ReferenceAttribute) Identifier() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == RefResolved && a.resolved != nil {
		return a.resolved.id
	}
	return a.id
}

// Peek returns the memoized target without any I/O. It returns nil unless the
// attribute is resolved.
func (a *ReferenceAttribute) Peek() *Entity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != RefResolved {
		return nil
	}
	return a.resolved
}

// Get resolves the attribute (see Resolve) and returns the target as an
// *Entity, or nil when the attribute is unset.
func (a *ReferenceAttribute) Get(ctx context.Context) (any, error) {
	e, err := a.Resolve(ctx)
	if err != nil || e == nil {
		return nil, err
	}
	return e, nil
}

// Resolve returns the target entity. A resolved attribute returns its memoized
// target without I/O, and an unset one returns nil. Otherwise, Resolve fetches
// the target by identifier and memoizes it.
//
// Concurrent calls collapse onto a single fetch per attribute. When the fetch
// fails, Resolve returns a *ResolutionError and the attribute keeps its
// identifier, so a later call retries.
func (a *ReferenceAttribute) Resolve(ctx context.Context) (*Entity, error) {
	a.mu.Lock()
	switch a.state {
	case RefUnset:
		a.mu.Unlock()
		return nil, nil
	case RefResolved:
		e := a.resolved
		a.mu.Unlock()
		return e, nil
	}
	id, gen := a.id, a.gen
	a.state = RefResolving
	a.mu.Unlock()

	// The flight memoizes its result before it completes; a reader arriving right
	// after completion finds the attribute resolved instead of fetching again.
	key := strconv.FormatUint(gen, 10) + "/" + string(id)
	v, err, _ := a.group.Do(key, func() (any, error) {
		a.mu.Lock()
		if a.gen == gen && a.state == RefResolved {
			e := a.resolved
			a.mu.Unlock()
			return e, nil
		}
		a.mu.Unlock()

		e, err := a.fetch(ctx, id)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen {
			// Reassigned while fetching: answer the reads that asked, memoize nothing.
			return e, err
		}
		if err != nil {
			a.state = RefIdentifierOnly
			return nil, err
		}
		if a.pending != nil {
			if err := e.merge(a.pending); err != nil {
				a.state = RefIdentifierOnly
				return nil, &ResolutionError{Attribute: a.name, ID: id, Err: err}
			}
			a.pending = nil
		}
		a.state, a.resolved = RefResolved, e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e, _ := v.(*Entity)
	return e, nil
}

func (a *ReferenceAttribute) fetch(ctx context.Context, id ID) (e *Entity, err error) {
	target := a.target()
	ctx, span := tracer.Start(ctx, "ReferenceAttribute.Resolve", trace.WithAttributes(
		attribute.String("entity.attribute", a.name),
		attribute.String(schemaNameKey, target.Name()),
		attribute.String("entity.id", string(id)),
	))
	defer span.End()

	defer func(start time.Time) {
		measureResolution(ctx, target.Name(), err == nil, time.Since(start))
	}(time.Now())

	logger := component.Logger(ctx).With("attribute", a.name, "schema", target.Name(), "id", string(id))
	logger.Debug("Resolving reference...")
	e, err = target.Find(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("Failed to resolve reference", "error", err)
		return nil, &ResolutionError{Attribute: a.name, ID: id, Err: err}
	}
	logger.Debug("Reference resolved")
	return e, nil
}

// Set assigns the target of the attribute. It accepts:
//
//   - nil (or an empty identifier), which unsets the attribute;
//   - an identifier (string, ID or any integer), which the attribute resolves
//     on the next read;
//   - an *Entity of the target schema, which becomes the memoized target;
//   - a Record (or map[string]any). A record holding only an identifier is
//     treated as that identifier. Otherwise the record is a modification to
//     save and the attribute is dirty. The fields the target schema declares
//     merge into the target: the memoized one when it bears the record's
//     identifier, the stored one (fetched by Resolve or Save) for any other
//     identifier, or a new entity when the record has no identifier. Other
//     fields are ignored.
//
// The Holder compares the assigned identifier with the clean one, so assigning
// the identifier the attribute was loaded with leaves it clean. Assigning the
// identifier of the memoized target keeps that target.
func (a *ReferenceAttribute) Set(v any) error {
	switch x := v.(type) {
	case nil:
		a.unset()
		return nil
	case *Entity:
		if x == nil {
			a.unset()
			return nil
		}
		if x.schema != a.target() {
			return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: "entity of schema " + x.schema.name + " is not a " + a.target().name}
		}
		a.assign(RefResolved, x.id, x)
		a.holder.Set(refKey(x))
		return nil
	case string:
		if x == "" {
			a.unset()
			return nil
		}
	case ID:
		if x.IsZero() {
			a.unset()
			return nil
		}
	}
	if rec, ok := asKeyed(v); ok {
		return a.setRecord(rec)
	}
	if id, ok := IdentifierOf(v); ok {
		a.setID(id)
		return nil
	}
	return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: "expected an identifier, an entity or a record"}
}

// setID points the attribute at the identified target. A memoized target with
// the same identifier is kept, along with its unsaved changes.
func (a *ReferenceAttribute) setID(id ID) {
	if t := a.Peek(); t == nil || t.id != id {
		a.assign(RefIdentifierOnly, id, nil)
	}
	a.holder.Set(id)
}

// setRecord assigns a record holding fields of the target. Fields the target
// schema does not declare are ignored; the attribute is dirty regardless.
func (a *ReferenceAttribute) setRecord(rec Record) error {
	id, hasID := rec.ID()
	hasID = hasID && !id.IsZero()
	if hasID && len(rec) == 1 {
		a.setID(id)
		return nil
	}

	target := a.target()
	fields := target.declared(rec)
	// A fresh entity validates the fields, so a rejected record changes nothing.
	x := target.New()
	if err := x.merge(fields); err != nil {
		return &InvalidAssignmentError{Attribute: a.name, Value: rec, Reason: "partial record", Err: err}
	}

	switch t := a.Peek(); {
	case !hasID:
		a.assign(RefResolved, "", x)
	case t != nil && t.id == id:
		if err := t.merge(fields); err != nil {
			return &InvalidAssignmentError{Attribute: a.name, Value: rec, Reason: "partial record", Err: err}
		}
	default:
		// The stored target is fetched before the fields apply, so that the
		// attributes the record omits keep their stored values.
		a.assign(RefIdentifierOnly, id, nil)
		if len(fields) > 0 {
			a.mu.Lock()
			a.pending = fields
			a.mu.Unlock()
		}
	}
	a.holder.Set(rec)
	return nil
}

func (a *ReferenceAttribute) unset() {
	a.assign(RefUnset, "", nil)
	a.holder.Set(nil)
}

func (a *ReferenceAttribute) assign(state RefState, id ID, target *Entity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.state, a.id, a.resolved = state, id, target
	a.pending = nil
}

// hasPending reports whether fields await the fetch of the target.
func (a *ReferenceAttribute) hasPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// refKey returns the value the Holder tracks for an assigned entity: its
// identifier, or the entity itself while it was never persisted (which always
// differs from the clean snapshot).
func refKey(e *Entity) any {
	if e.id.IsZero() {
		return e
	}
	return e.id
}

// IsDirty reports whether the identifier changed, or whether the resolved
// target is dirty. An attribute that was never resolved is never dirty because
// of its target.
func (a *ReferenceAttribute) IsDirty() bool {
	if a.holder.IsDirty() {
		return true
	}
	t := a.Peek()
	return t != nil && t.IsDirty()
}

func (a *ReferenceAttribute) IsClean() bool { return !a.IsDirty() }

func (a *ReferenceAttribute) hydrate(v any) error {
	if v == nil {
		a.assign(RefUnset, "", nil)
		a.holder.Reset(nil)
		return nil
	}
	if rec, ok := asKeyed(v); ok {
		id, hasID := rec.ID()
		if !hasID {
			return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: "embedded record has no identifier"}
		}
		if len(rec) == 1 {
			a.assign(RefIdentifierOnly, id, nil)
			a.holder.Reset(id)
			return nil
		}
		// An embedded record is a target loaded together with its owner.
		x, err := a.target().Hydrate(rec)
		if err != nil {
			return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: "embedded record", Err: err}
		}
		a.assign(RefResolved, id, x)
		a.holder.Reset(id)
		return nil
	}
	id, ok := IdentifierOf(v)
	if !ok {
		return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: "expected an identifier or an embedded record"}
	}
	a.assign(RefIdentifierOnly, id, nil)
	a.holder.Reset(id)
	return nil
}

func (a *ReferenceAttribute) ownDirty() bool { return a.holder.IsDirty() }

func (a *ReferenceAttribute) persisted() any {
	if id := a.Identifier(); !id.IsZero() {
		return string(id)
	}
	return nil
}

func (a *ReferenceAttribute) cleanValue() any {
	switch c := a.holder.Clean().(type) {
	case ID:
		return string(c)
	default:
		return cloneValue(c)
	}
}

// sync points the Holder at the identifier of the target: the one a resolved
// target acquires when it is first persisted, or the one a record was assigned
// with.
func (a *ReferenceAttribute) sync() {
	a.mu.Lock()
	var id ID
	switch a.state {
	case RefResolved:
		if a.resolved != nil && !a.resolved.id.IsZero() {
			a.id = a.resolved.id
			id = a.id
		}
	case RefIdentifierOnly:
		if a.pending == nil {
			id = a.id
		}
	}
	a.mu.Unlock()
	if !id.IsZero() {
		a.holder.Set(id)
	}
}

func (a *ReferenceAttribute) markClean() {
	a.sync()
	a.holder.MarkClean()
}
