package entity

// A Holder keeps the value of a single attribute: its current (live) value, the
// clean snapshot last known to match durable storage, and a cached dirty flag.
//
// The dirty flag always reflects whether the current value differs from the
// clean snapshot under the rules documented on Set; it is recomputed on every
// mutation so that reading it is cheap.
//
// The zero Holder is clean and holds nil.
type Holder struct {
	current any
	clean   any
	dirty   bool
}

// Set replaces the current value and recomputes the dirty flag against the
// clean snapshot:
//
//   - nil against a nil snapshot is clean; nil against a non-nil snapshot is
//     dirty (clearing a value is a change).
//   - Two keyed structures (Record or map[string]any) that both carry an "id"
//     compare by identifier: the same identifier alone is clean, the same
//     identifier with additional fields is dirty (a modification to merge and
//     save), and a different identifier is dirty.
//   - Anything else compares by structural deep equality, where keyed
//     structures are order-insensitive and numbers compare by value.
//
// The current value is updated unconditionally. Keyed structures and slices are
// copied, so later changes to v do not reach the Holder unnoticed.
func (h *Holder) Set(v any) {
	h.current = cloneValue(v)
	h.dirty = !equal(h.current, h.clean)
}

// Get returns the current value.
func (h *Holder) Get() any { return h.current }

// Clean returns the clean snapshot.
func (h *Holder) Clean() any { return h.clean }

// IsDirty reports whether the current value differs from the clean snapshot.
func (h *Holder) IsDirty() bool { return h.dirty }

// IsClean is the negation of IsDirty.
func (h *Holder) IsClean() bool { return !h.dirty }

// MarkClean records the current value as the clean snapshot. Only the commit
// path of a successful persist should call it.
func (h *Holder) MarkClean() {
	h.clean = cloneValue(h.current)
	h.dirty = false
}

// Reset seeds both the current value and the clean snapshot with v, as when an
// attribute is hydrated from storage.
func (h *Holder) Reset(v any) {
	h.current = v
	h.clean = cloneValue(v)
	h.dirty = false
}
