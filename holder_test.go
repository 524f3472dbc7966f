package entity

import "testing"

func TestHolder_Set(t *testing.T) {
	tests := []struct {
		name  string
		clean any
		set   any
		dirty bool
	}{
		{name: "nil-nil", clean: nil, set: nil, dirty: false},
		{name: "nil-cleared", clean: "Jane", set: nil, dirty: true},
		{name: "nil-assigned", clean: nil, set: "Jane", dirty: true},
		{name: "same-string", clean: "Jane", set: "Jane", dirty: false},
		{name: "other-string", clean: "Jane", set: "John", dirty: true},
		{name: "numbers-across-kinds", clean: float64(3), set: 3, dirty: false},
		{name: "numbers-differ", clean: float64(3), set: 3.5, dirty: true},
		{name: "typed-nil-record", clean: nil, set: Record(nil), dirty: false},
		{name: "same-identifier", clean: Record{"id": "two", "name": "Two"}, set: Record{"id": "two"}, dirty: false},
		{name: "same-identifier-numeric", clean: Record{"id": 2}, set: map[string]any{"id": float64(2)}, dirty: false},
		{name: "same-identifier-extra-fields", clean: Record{"id": "two"}, set: Record{"id": "two", "name": "Two"}, dirty: true},
		{name: "same-identifier-same-fields", clean: Record{"id": "two", "name": "Two"}, set: Record{"id": "two", "name": "Two"}, dirty: true},
		{name: "other-identifier", clean: Record{"id": "two"}, set: Record{"id": "three"}, dirty: true},
		{name: "keyed-without-identifier", clean: Record{"a": 1, "b": "x"}, set: Record{"b": "x", "a": 1}, dirty: false},
		{name: "keyed-without-identifier-differs", clean: Record{"a": 1}, set: Record{"a": 2}, dirty: true},
		{name: "slices", clean: []any{"x", 1}, set: []any{"x", 1}, dirty: false},
		{name: "slices-differ", clean: []any{"x"}, set: []any{"x", "y"}, dirty: true},
		{name: "bool", clean: false, set: false, dirty: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Holder
			h.Reset(tt.clean)
			if h.IsDirty() {
				t.Fatalf("IsDirty() = true after Reset(%v)", tt.clean)
			}
			h.Set(tt.set)
			if got := h.IsDirty(); got != tt.dirty {
				t.Errorf("Set(%#v) against %#v: IsDirty() = %v, want %v", tt.set, tt.clean, got, tt.dirty)
			}
			if got := h.IsClean(); got == tt.dirty {
				t.Errorf("IsClean() = %v, want %v", got, !tt.dirty)
			}
		})
	}
}

func TestHolder_MarkClean(t *testing.T) {
	var h Holder
	h.Set(Record{"a": 1})
	if !h.IsDirty() {
		t.Fatalf("IsDirty() = false after the first assignment")
	}
	h.MarkClean()
	if h.IsDirty() {
		t.Fatalf("IsDirty() = true after MarkClean()")
	}
	// The snapshot is a copy, so mutating the live value in place and assigning
	// it again is still a change.
	h.Get().(Record)["a"] = 2
	h.Set(h.Get())
	if !h.IsDirty() {
		t.Errorf("IsDirty() = false after an in-place modification")
	}
}

func TestHolder_revert(t *testing.T) {
	var h Holder
	h.Reset("Jane")
	h.Set("John")
	h.Set("Jane")
	if h.IsDirty() {
		t.Errorf("IsDirty() = true after restoring the clean value")
	}
}

func TestHolder_Set_copies(t *testing.T) {
	var h Holder
	h.Reset(Record{"k": "v"})
	m := Record{"k": "v"}
	h.Set(m)
	m["k"] = "changed"
	if h.IsDirty() {
		t.Errorf("IsDirty() = true, want the assigned value unchanged")
	}
	if got := h.Get().(Record)["k"]; got != "v" {
		t.Errorf("Get() reflects a change made after Set: k = %v", got)
	}
	// Assigning the changed map is what makes the holder dirty.
	h.Set(m)
	if !h.IsDirty() {
		t.Errorf("IsDirty() = false after assigning the changed map")
	}
}
