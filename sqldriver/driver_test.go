package sqldriver_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-digitaltwin/go-entity"
	"github.com/go-digitaltwin/go-entity/drivertest"
	"github.com/go-digitaltwin/go-entity/internal/dbtest"
	"github.com/go-digitaltwin/go-entity/sqldriver"
)

// openSQLite opens a fresh SQLite database in the test's temporary directory.
func openSQLite(t *testing.T) *sqldriver.Driver {
	t.Helper()
	d, err := sqldriver.Open("sqlite", filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatal("Failed to open sqlite database:", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Error("Failed to close sqlite database:", err)
		}
	})
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatal("Failed to migrate sqlite database:", err)
	}
	return d
}

func TestDriver_SQLite(t *testing.T) {
	drivertest.Run(t, openSQLite(t))
}

func TestDriver_Postgres(t *testing.T) {
	db := dbtest.SetupPostgres(t)
	d := sqldriver.New(db, sqldriver.Postgres)
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatal("Failed to migrate postgres database:", err)
	}
	drivertest.Run(t, d)
}

func TestDriver_Migrate_idempotent(t *testing.T) {
	d := openSQLite(t)
	if err := d.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() on a migrated database failed: %v", err)
	}
}

func TestDriver_corruptPayload(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t)
	_, err := d.DB().ExecContext(ctx, `INSERT INTO entities (schema_name, id, payload) VALUES ('Thing', 't1', 'not json')`)
	if err != nil {
		t.Fatal("Failed to seed database:", err)
	}
	_, err = d.FindByID(ctx, "Thing", "t1")
	if err == nil || errors.Is(err, entity.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		t.Errorf("FindByID() error = %v, want a decoding error", err)
	}
}

func TestOpen_unknownDriver(t *testing.T) {
	if _, err := sqldriver.Open("mysql", ""); err == nil {
		t.Errorf("Open(mysql) succeeded, want error")
	}
}
