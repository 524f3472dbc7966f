// Package sqldriver implements an entity.Driver on top of database/sql. Entities
// are stored as JSON documents in a single table, keyed by schema name and
// identifier.
//
// Importing this package registers the "sqlite" (modernc.org/sqlite) and "pgx"
// (github.com/jackc/pgx/v5/stdlib) database/sql drivers.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" database/sql driver.
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite" // Registers the "sqlite" database/sql driver.

	"github.com/go-digitaltwin/go-entity"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-entity/sqldriver")

// Driver stores entities in a SQL database.
//
// A Driver is safe for concurrent use.
type Driver struct {
	db      *sql.DB
	dialect Dialect
}

// New returns a Driver using db with the given dialect. Call Migrate before the
// first use of a fresh database.
func New(db *sql.DB, dialect Dialect) *Driver {
	return &Driver{db: db, dialect: dialect}
}

// Open opens a database with database/sql and returns a Driver using the
// dialect matching the driver name ("sqlite" or "pgx").
func Open(driverName, dsn string) (*Driver, error) {
	dialect, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("sqldriver: no dialect for driver %q", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, dialect), nil
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB { return d.db }

// Close closes the underlying database handle.
func (d *Driver) Close() error { return d.db.Close() }

// Migrate creates the entities table unless it exists.
func (d *Driver) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, d.dialect.Migrate); err != nil {
		return fmt.Errorf("migrate %s: %w", d.dialect.Name, err)
	}
	component.Logger(ctx).Debug("Migrated entities table", "sql.dialect", d.dialect.Name)
	return nil
}

// FindByID decodes the stored document. It returns an error wrapping
// entity.ErrNotFound when no such document exists.
//
// Numbers decode as float64, as with encoding/json.
func (d *Driver) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	ctx, span := d.startSpan(ctx, "FindByID", schema, id)
	defer span.End()

	var payload []byte
	err := d.db.QueryRowContext(ctx, d.dialect.Find, schema, string(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqldriver: %s(%s): %w", schema, id, entity.ErrNotFound)
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query payload: %w", err)
	}

	var r entity.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if r == nil {
		r = make(entity.Record)
	}
	r[entity.IDField] = string(id)
	return r, nil
}

// Persist encodes values as JSON and upserts the document.
func (d *Driver) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) error {
	ctx, span := d.startSpan(ctx, "Persist", schema, id)
	defer span.End()

	payload, err := json.Marshal(values)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encode payload: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, d.dialect.Upsert, schema, string(id), string(payload)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert payload: %w", err)
	}
	return nil
}

func (d *Driver) startSpan(ctx context.Context, name, schema string, id entity.ID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", d.dialect.Name),
		attribute.String("entity.schema", schema),
		attribute.String("entity.id", string(id)),
	))
}
