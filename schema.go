package entity

import (
	"context"
	"fmt"
)

// A Field declares one attribute of a Schema. Use Plain and Relation to create
// fields.
type Field struct {
	name   string
	def    any
	target func() *Schema // non-nil for relations
}

// Plain declares an attribute holding a plain value: a primitive, a keyed
// structure (Record), a slice, or nil.
func Plain(name string) Field {
	return Field{name: name}
}

// Relation declares a reference attribute pointing at an entity of the target
// schema. The target is a function so that schemas may reference each other
// (or themselves) regardless of declaration order.
func Relation(name string, target func() *Schema) Field {
	if target == nil {
		panic("entity: relation " + name + " has no target schema")
	}
	return Field{name: name, target: target}
}

// Default returns a copy of the field using v as the value of the attribute in
// entities created by Schema.New. Relations ignore defaults.
func (f Field) Default(v any) Field {
	f.def = v
	return f
}

// Name returns the attribute name declared by the field.
func (f Field) Name() string { return f.name }

// IsRelation reports whether the field declares a reference attribute.
func (f Field) IsRelation() bool { return f.target != nil }

// A Schema declares a kind of entity: its name (the collection used with the
// Driver), its ordered attributes and the Driver that stores it.
//
// A Schema is immutable once created and safe for concurrent use.
type Schema struct {
	name   string
	driver Driver
	fields []Field
	index  map[string]int
}

// NewSchema returns a schema with the given name and attributes, stored by the
// given driver. Attribute order is significant: it drives serialisation.
//
// NewSchema panics if the name is empty, if an attribute name is empty or
// repeated, or if an attribute is named like the identifier field.
func NewSchema(name string, driver Driver, fields ...Field) *Schema {
	if name == "" {
		panic("entity: schema name must not be empty")
	}
	s := &Schema{
		name:   name,
		driver: driver,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		switch {
		case f.name == "":
			panic(fmt.Sprintf("entity: schema %s: attribute #%d has no name", name, i))
		case f.name == IDField:
			panic(fmt.Sprintf("entity: schema %s: attribute name %q is reserved for the identifier", name, IDField))
		}
		if _, dup := s.index[f.name]; dup {
			panic(fmt.Sprintf("entity: schema %s: duplicate attribute %q", name, f.name))
		}
		s.fields[i] = f
		s.index[f.name] = i
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Driver returns the driver storing entities of this schema.
func (s *Schema) Driver() Driver { return s.driver }

// Fields returns the attribute names in declaration order.
func (s *Schema) Fields() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

// New returns a blank entity that was never persisted. Every attribute is clean
// and holds its declared default (nil unless set with Field.Default).
func (s *Schema) New() *Entity {
	e := s.alloc()
	for i, f := range s.fields {
		if !f.IsRelation() {
			e.attrs[i].(*PlainAttribute).holder.Reset(cloneValue(f.def))
		}
	}
	return e
}

// Hydrate returns an entity whose attributes are seeded from a record loaded
// from storage: for every attribute, the current value and the clean snapshot
// equal record[name] and the attribute is clean. The identifier is taken from
// record["id"].
//
// Hydrate fails with an *InvalidAssignmentError if a value in the record has a
// shape the respective attribute does not support.
func (s *Schema) Hydrate(record Record) (*Entity, error) {
	e := s.alloc()
	if id, ok := record.ID(); ok {
		e.id = id
	}
	for _, a := range e.attrs {
		if err := a.hydrate(record[a.Name()]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Find fetches the record identified by id through the schema's driver and
// hydrates an entity from it. Driver errors are returned wrapped; use
// errors.Is(err, ErrNotFound) to detect a missing record.
func (s *Schema) Find(ctx context.Context, id ID) (*Entity, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("find %s(%s): schema has no driver", s.name, id)
	}
	r, err := s.driver.FindByID(ctx, s.name, id)
	if err != nil {
		return nil, fmt.Errorf("find %s(%s): %w", s.name, id, err)
	}
	// Drivers may omit the identifier from the payload; the entity is identified
	// by the id it was found by regardless.
	if _, ok := r.ID(); !ok {
		r = r.Clone()
		if r == nil {
			r = make(Record)
		}
		r[IDField] = string(id)
	}
	e, err := s.Hydrate(r)
	if err != nil {
		return nil, fmt.Errorf("hydrate %s(%s): %w", s.name, id, err)
	}
	return e, nil
}

// declared returns a copy of the fields of r that name attributes of s.
func (s *Schema) declared(r Record) Record {
	fields := make(Record, len(r))
	for k, v := range r {
		if _, ok := s.index[k]; ok {
			fields[k] = cloneValue(v)
		}
	}
	return fields
}

func (s *Schema) alloc() *Entity {
	e := &Entity{schema: s, attrs: make([]Attribute, len(s.fields))}
	for i, f := range s.fields {
		if f.IsRelation() {
			e.attrs[i] = &ReferenceAttribute{name: f.name, owner: e, target: f.target}
		} else {
			e.attrs[i] = &PlainAttribute{name: f.name, owner: e}
		}
	}
	return e
}
