package entity

import (
	"context"
	"reflect"
)

// An Attribute is a named field of an Entity. It mediates reads and writes
// between the entity and the attribute's Holder, applying the coercions its kind
// defines. Attributes only track their own dirtiness; they never persist.
//
// The concrete types are *PlainAttribute and *ReferenceAttribute.
type Attribute interface {
	// Name returns the attribute name as declared by the schema.
	Name() string
	// Entity returns the entity owning the attribute.
	Entity() *Entity
	// Value returns the attribute's Holder.
	Value() *Holder

	// Get returns the attribute value. Plain attributes return their current
	// value; reference attributes resolve their target (see ReferenceAttribute.Get).
	Get(ctx context.Context) (any, error)
	// Set assigns v to the attribute. It returns an *InvalidAssignmentError for
	// values the attribute does not support, in which case the attribute is left
	// unchanged.
	Set(v any) error

	// IsDirty reports whether the attribute diverged from its clean snapshot.
	IsDirty() bool
	// IsClean is the negation of IsDirty.
	IsClean() bool

	hydrate(v any) error
	ownDirty() bool
	persisted() any
	cleanValue() any
	markClean()
}

// A PlainAttribute holds a plain value: a primitive, a keyed structure, a
// slice, or nil.
type PlainAttribute struct {
	name   string
	owner  *Entity
	holder Holder
}

func (a *PlainAttribute) Name() string    { return a.name }
func (a *PlainAttribute) Entity() *Entity { return a.owner }
func (a *PlainAttribute) Value() *Holder  { return &a.holder }

// Get returns the current value. It never fails.
func (a *PlainAttribute) Get(context.Context) (any, error) { return a.holder.Get(), nil }

// Set assigns v after checking its shape; entities, functions and channels
// cannot be stored in plain attributes.
func (a *PlainAttribute) Set(v any) error {
	if reason, ok := plainShape(v); !ok {
		return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: reason}
	}
	a.holder.Set(v)
	return nil
}

func (a *PlainAttribute) IsDirty() bool { return a.holder.IsDirty() }
func (a *PlainAttribute) IsClean() bool { return a.holder.IsClean() }

func (a *PlainAttribute) hydrate(v any) error {
	if reason, ok := plainShape(v); !ok {
		return &InvalidAssignmentError{Attribute: a.name, Value: v, Reason: reason}
	}
	a.holder.Reset(v)
	return nil
}

func (a *PlainAttribute) ownDirty() bool  { return a.holder.IsDirty() }
func (a *PlainAttribute) persisted() any  { return cloneValue(a.holder.Get()) }
func (a *PlainAttribute) cleanValue() any { return cloneValue(a.holder.Clean()) }
func (a *PlainAttribute) markClean()      { a.holder.MarkClean() }

func plainShape(v any) (reason string, ok bool) {
	if v == nil {
		return "", true
	}
	if _, isEntity := v.(*Entity); isEntity {
		return "entities can only be assigned to relations", false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "unsupported value kind", false
	}
	return "", true
}
