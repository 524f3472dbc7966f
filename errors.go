package entity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (possibly wrapped) by drivers when no record exists
// for the requested identifier. Check for it with errors.Is.
var ErrNotFound = errors.New("entity: not found")

// ErrUnknownAttribute indicates an attribute name the entity's schema does not
// declare.
var ErrUnknownAttribute = errors.New("unknown attribute")

// A ResolutionError occurs when a reference attribute fails to fetch the
// entity it points to, either because the driver found no such record or
// because the driver failed.
//
// The attribute keeps its identifier, so reading it again retries the fetch.
type ResolutionError struct {
	Attribute string // Name of the reference attribute.
	ID        ID     // Identifier the attribute failed to resolve.
	Err       error  // Underlying driver error.
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s(%s): %v", e.Attribute, e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// A PersistError occurs when the storage driver rejects a save. None of the
// entity's attributes are marked clean when it is returned.
type PersistError struct {
	Schema string
	ID     ID
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s(%s): %v", e.Schema, e.ID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// An InvalidAssignmentError occurs when a value of an unsupported shape is
// assigned to an attribute, or when the assigned attribute does not exist. The
// attribute is left unchanged.
type InvalidAssignmentError struct {
	Attribute string
	Value     any
	Reason    string
	Err       error // Optional cause, e.g. ErrUnknownAttribute.
}

func (e *InvalidAssignmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assign %s = %T: %s: %v", e.Attribute, e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("assign %s = %T: %s", e.Attribute, e.Value, e.Reason)
}

func (e *InvalidAssignmentError) Unwrap() error { return e.Err }
