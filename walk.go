package entity

// A Visitor defines a Visit method invoked for each Entity encountered by Walk.
// If the result visitor w is not nil, Walk visits each resolved target of the
// entity with the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(e *Entity) (w Visitor)
}

// Walk traverses the graph of resolved references in depth-first order: It
// starts by calling v.Visit(root); root must not be nil. If the visitor w
// returned by v.Visit(root) is not nil, Walk is invoked recursively with visitor
// w for the target of each resolved reference attribute of root (in declaration
// order), followed by a call of w.Visit(nil).
//
// Walk never resolves a reference, so it performs no I/O. Every entity is
// visited at most once, which makes Walk safe on cyclic graphs.
func Walk(v Visitor, root *Entity) {
	walk(v, root, make(map[*Entity]bool))
}

func walk(v Visitor, e *Entity, seen map[*Entity]bool) {
	if seen[e] {
		return
	}
	seen[e] = true
	// Start by calling v.Visit(e).
	if v = v.Visit(e); v == nil {
		return
	}
	// Then traverse the resolved targets, depth-first.
	for _, a := range e.attrs {
		r, ok := a.(*ReferenceAttribute)
		if !ok {
			continue
		}
		if t := r.Peek(); t != nil {
			walk(v, t, seen)
		}
	}
	// Finally, call v.Visit(nil).
	v.Visit(nil)
}

type inspector func(e *Entity) bool

func (f inspector) Visit(e *Entity) Visitor {
	if f(e) {
		return f
	}
	return nil
}

// Inspect traverses the graph of resolved references in depth-first order: It
// starts by calling f(root); root must not be nil. If f returns true, Inspect
// invokes f recursively for each resolved target of root, followed by a call of
// f(nil).
func Inspect(root *Entity, f func(e *Entity) bool) {
	Walk(inspector(f), root)
}
