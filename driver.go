package entity

import "context"

// Driver is the storage collaborator of the entity core. Implementations
// execute the two operations the core needs against a backing store, and must
// be safe for concurrent use.
//
// The schema argument names the collection (table, label, ...) the entity
// belongs to; the core does not interpret it further.
type Driver interface {
	// FindByID returns the record stored for the given identifier. It returns an
	// error wrapping ErrNotFound when no such record exists.
	//
	// The returned record is owned by the caller.
	FindByID(ctx context.Context, schema string, id ID) (Record, error)

	// Persist durably writes the given values as the record identified by id,
	// replacing any previous record with the same identifier.
	//
	// Persist must not retain values after returning.
	Persist(ctx context.Context, schema string, id ID, values Record) error
}
