package entity

import (
	"fmt"
	"slices"
	"testing"
)

// chain hydrates a chain of Node entities, each embedding the next.
func chain(names ...string) *Entity {
	var node *Schema
	node = NewSchema("Node", nil,
		Plain("name"),
		Relation("next", func() *Schema { return node }),
	)
	var rec Record
	for i := len(names) - 1; i >= 0; i-- {
		r := Record{"id": names[i], "name": names[i]}
		if rec != nil {
			r["next"] = rec
		}
		rec = r
	}
	e, err := node.Hydrate(rec)
	if err != nil {
		panic(err)
	}
	return e
}

func TestInspect(t *testing.T) {
	root := chain("a", "b", "c")

	var order []ID
	Inspect(root, func(e *Entity) bool {
		// Must check if e is nil; Inspect reports the end of a subtree with nil.
		if e == nil {
			return false
		}
		order = append(order, e.ID())
		return true
	})
	if !slices.Equal(order, []ID{"a", "b", "c"}) {
		t.Errorf("Inspect visited %v, want [a b c]", order)
	}
}

func TestInspect_prune(t *testing.T) {
	root := chain("a", "b", "c")

	var order []ID
	Inspect(root, func(e *Entity) bool {
		if e == nil {
			return false
		}
		order = append(order, e.ID())
		return e.ID() != "b"
	})
	if !slices.Equal(order, []ID{"a", "b"}) {
		t.Errorf("Inspect visited %v, want [a b]", order)
	}
}

func TestInspect_cycle(t *testing.T) {
	var node *Schema
	node = NewSchema("Node", nil, Relation("next", func() *Schema { return node }))
	a, b := node.New(), node.New()
	if err := a.Set("next", b); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("next", a); err != nil {
		t.Fatal(err)
	}

	visits := 0
	Inspect(a, func(e *Entity) bool {
		if e != nil {
			visits++
		}
		return true
	})
	if visits != 2 {
		t.Errorf("Inspect visited %d entities, want 2", visits)
	}
}

func ExampleInspect() {
	root := chain("a", "b", "c")

	printFunc := func(e *Entity) bool {
		fmt.Println(e)
		return true
	}

	Inspect(root, printFunc)
	// Output:
	// Node(a)
	// Node(b)
	// Node(c)
	// <nil>
	// <nil>
	// <nil>
}
