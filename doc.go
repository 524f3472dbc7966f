// Package entity provides the attribute/entity core of an object-relational
// mapping layer; it tracks, per attribute, whether the in-memory representation
// of a persisted record has diverged from its last known-durable state, and it
// lazily resolves attributes that reference other persisted entities.
//
// An Entity is an ordered collection of attributes declared by a Schema. Each
// attribute owns a Holder that keeps the attribute's current value next to a
// clean snapshot (the value known to match durable storage) and a cached dirty
// flag. Assigning a value recomputes the flag using the equality rules of
// Holder.Set.
//
// A ReferenceAttribute denotes another persisted entity. It accepts a bare
// identifier, a full *Entity, or a partial Record, and resolves the related
// entity through the schema's Driver on first read. Resolved targets take part
// in their owner's dirty state; unresolved ones never do, so asking an entity
// whether it is dirty never triggers I/O.
//
// Entity.Save is a gate: it calls the Driver only when something in the
// resolved entity graph is dirty, saves dirty related entities before the owner,
// and resets the clean snapshots after each successful persist.
//
// Storage is pluggable through the Driver interface. See the memdriver,
// sqldriver, docstoredriver and neo4jdriver packages for implementations, and
// the cache and notify packages for decorators.
package entity
