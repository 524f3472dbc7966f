package docstoredriver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gocloud.dev/docstore"
	"gocloud.dev/docstore/memdocstore"

	"github.com/go-digitaltwin/go-entity"
	"github.com/go-digitaltwin/go-entity/docstoredriver"
	"github.com/go-digitaltwin/go-entity/drivertest"
)

func TestDriver(t *testing.T) {
	d := docstoredriver.OpenURL("mem://%s/id")
	t.Cleanup(func() {
		if err := d.Close(context.Background()); err != nil {
			t.Error("Failed to close driver:", err)
		}
	})
	drivertest.Run(t, d)
}

func TestDriver_nested(t *testing.T) {
	ctx := context.Background()
	d := docstoredriver.New(func(ctx context.Context, schema string) (*docstore.Collection, error) {
		return memdocstore.OpenCollection(entity.IDField, nil)
	})
	defer d.Close(ctx)

	err := d.Persist(ctx, "Thing", "t1", entity.Record{
		"owner": entity.Record{"id": "o1", "name": "Baz"},
		"ref":   entity.ID("o1"),
	})
	if err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	got, err := d.FindByID(ctx, "Thing", "t1")
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	want := entity.Record{
		"id":    "t1",
		"owner": map[string]any{"id": "o1", "name": "Baz"},
		"ref":   "o1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindByID() mismatch (-want +got):\n%s", diff)
	}
}

func TestDriver_openFailure(t *testing.T) {
	boom := errors.New("boom")
	d := docstoredriver.New(func(context.Context, string) (*docstore.Collection, error) {
		return nil, boom
	})
	if _, err := d.FindByID(context.Background(), "Thing", "t1"); !errors.Is(err, boom) {
		t.Errorf("FindByID() error = %v, want %v", err, boom)
	}
}
