package neo4jdriver

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-entity/internal/dbtest"
)

// nodeKeys lists the labels constrained by a node key in the database.
func nodeKeys(ctx context.Context, t *testing.T, d neo4j.DriverWithContext, database string) map[string]bool {
	t.Helper()
	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})
	defer func() { _ = s.Close(ctx) }()

	// Databases carry other implicit constraints, so only node keys are listed.
	// See <https://neo4j.com/docs/cypher-manual/current/constraints/managing-constraints/#list-constraints>
	result, err := s.Run(ctx, "SHOW CONSTRAINTS YIELD type, labelsOrTypes WHERE type = 'NODE_KEY' RETURN labelsOrTypes", nil)
	if err != nil {
		t.Fatal("Failed to list constraints:", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		t.Fatal("Failed to list constraints:", err)
	}
	keys := make(map[string]bool)
	for _, r := range records {
		labels, _, err := neo4j.GetRecordValue[[]any](r, "labelsOrTypes")
		if err != nil {
			t.Fatal("Failed to read constrained labels:", err)
		}
		for _, l := range labels {
			keys[l.(string)] = true
		}
	}
	return keys
}

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)

	databases := []string{"Aa1", "a-1", "a.1", "a1b2c3d4-e5f6-4a1b-9c2d-3e4f5a6b7c8d"}
	for _, database := range databases {
		t.Run(database, func(t *testing.T) {
			ctx := context.Background()
			for range 2 {
				if err := BootstrapDatabase(ctx, d, database, "Owner", "Pet"); err != nil {
					t.Fatalf("BootstrapDatabase() failed: %v", err)
				}
			}

			want := map[string]bool{"Owner": true, "Pet": true}
			if diff := cmp.Diff(want, nodeKeys(ctx, t, d, database)); diff != "" {
				t.Errorf("node keys mismatch (-want +got):\n%s", diff)
			}

			driver := New(d, database)
			if err := driver.Persist(ctx, "Owner", "baz", map[string]any{"name": "Baz"}); err != nil {
				t.Fatalf("Persist() failed: %v", err)
			}
			got, err := driver.FindByID(ctx, "Owner", "baz")
			if err != nil {
				t.Fatalf("FindByID() failed: %v", err)
			}
			if got["name"] != "Baz" {
				t.Errorf("FindByID() = %v, want name Baz", got)
			}
		})
	}

	t.Run("rejected", func(t *testing.T) {
		tests := []struct {
			name      string
			database  string
			labels    []string
			wantPanic bool
		}{
			{name: "empty", wantPanic: true},
			{name: "default", database: "neo4j", wantPanic: true},
			{name: "system", database: "systemReserved", wantPanic: true},
			{name: "underscore", database: "_internal", wantPanic: true},
			{name: "label", database: "labels", labels: []string{"not a label"}, wantPanic: true},
			{name: "short", database: "aa"},
			{name: "long", database: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa64"},
			{name: "innerUnderscore", database: "a_1"},
			{name: "slash", database: "a/1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				defer func() {
					if r := recover(); (r != nil) != tt.wantPanic {
						t.Errorf("BootstrapDatabase() panic = %v, wantPanic %v", r, tt.wantPanic)
					}
				}()
				if err := BootstrapDatabase(context.Background(), d, tt.database, tt.labels...); err == nil {
					t.Errorf("BootstrapDatabase() succeeded, want error")
				}
			})
		}
	})
}
