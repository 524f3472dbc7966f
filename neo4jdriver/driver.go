// Package neo4jdriver implements an entity.Driver on top of a Neo4j graph
// database.
//
// Every entity is stored as a single node labelled with the name of its schema,
// keyed by its "id" property. The driver maintains two metadata properties on
// every node, _created_at and _last_modified; properties whose names begin with
// an underscore are reserved for such metadata and never reach entities.
//
// Neo4j properties hold scalars and lists only, so the driver rejects records
// holding keyed structures.
package neo4jdriver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/go-entity"
)

// Driver stores entities on Neo4j.
//
// Each operation opens its own session and executes in its own managed
// transaction, which the neo4j SDK retries on transient failures.
//
// A Driver is safe for concurrent use.
type Driver struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.
}

// New returns a Driver storing entities in the given database. Use
// BootstrapDatabase beforehand to create the database and its constraints.
func New(driver neo4j.DriverWithContext, database string) *Driver {
	return &Driver{driver: driver, database: database}
}

// FindByID returns the properties of the node labelled schema whose id is the
// given one, without metadata properties. It returns an error wrapping
// entity.ErrNotFound when no such node exists.
func (d *Driver) FindByID(ctx context.Context, schema string, id entity.ID) (_ entity.Record, err error) {
	label := mustLabel(schema)
	ctx, span := tracer.Start(ctx, "FindByID", trace.WithAttributes(
		attribute.String("neo4j.database", d.database),
		attribute.String("neo4j.label", label),
		attribute.String("entity.id", string(id)),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", d.database)

	// We open a new session for every operation to ensure transactional isolation
	// and to prevent any state carryover between different query executions.
	s := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", "read")
		}
	}()

	found, err := s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (n:`+label+` {id: $id})
			RETURN n
		`, map[string]any{
			"id": string(id),
		})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect results: %w", err)
		}
		switch len(records) {
		case 0:
			return nil, nil
		case 1:
		default:
			panicWithCorruptedGraph(ctx, label, fmt.Sprintf("find-by-id matched %v nodes instead of 0/1", len(records)))
		}
		node, err := getRecordProperty[neo4j.Node](records[0], "n")
		if err != nil {
			return nil, fmt.Errorf("get node: %w", err)
		}
		return parseProps(node.Props), nil
	})
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("neo4jdriver: %s(%s): %w", label, id, entity.ErrNotFound)
	}
	return found.(entity.Record), nil
}

// Persist merges the node labelled schema whose id is the given one, replacing
// all its properties with values. Nil values remove the respective property.
//
// Persist fails without contacting the database if values holds keyed
// structures or other values Neo4j cannot store as properties.
func (d *Driver) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) (err error) {
	label := mustLabel(schema)
	ctx, span := tracer.Start(ctx, "Persist", trace.WithAttributes(
		attribute.String("neo4j.database", d.database),
		attribute.String("neo4j.label", label),
		attribute.String("entity.id", string(id)),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", d.database)

	props, err := formatProps(values)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("format properties: %w", err)
	}

	s := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", "write")
		}
	}()

	// We use write transactions because the neo4j SDK can provide transaction
	// management features such as retries, error handling, and deadlock resolution.
	_, err = s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Replacing the properties wholesale drops the metadata too, so we carry the
		// creation time over.
		result, err := tx.Run(ctx, `
			MERGE (n:`+label+` {id: $id})
			ON CREATE SET n._created_at = datetime()
			WITH n, n._created_at AS created
			SET n = $props
			SET n.id = $id, n._created_at = created, n._last_modified = datetime()
			RETURN count(n) AS nodes
		`, map[string]any{
			"id":    string(id),
			"props": props,
		})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		nodes, err := getRecordProperty[int64](record, "nodes")
		if err != nil {
			return nil, fmt.Errorf("get nodes: %w", err)
		}
		// A single entity is represented by a single node in the underlying graph.
		// Merging it should touch exactly one node. Otherwise, the graph has lost its
		// integrity, so we cannot continue to operate on it.
		if nodes != 1 {
			panicWithCorruptedGraph(ctx, label, fmt.Sprintf("persist modified %v nodes instead of 1", nodes))
		}
		return nil, nil
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	} else if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("neo4j execute: %w", err)
	}
	return nil
}

// Labels are spliced into Cypher queries, so they are restricted to plain
// identifiers.
var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// mustLabel returns the schema name as a node label. Schema names are chosen by
// developers, so an invalid one is a programming error.
func mustLabel(schema string) string {
	if !labelPattern.MatchString(schema) {
		panic(fmt.Sprintf("neo4jdriver: schema name %q is not a valid node label", schema))
	}
	return schema
}

// We modify the underlying neo4j graph database in a way that prompts us when
// the graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer operate on
// it. In which case, we must immediately stop all operations. This is achieved
// with a panic preceded by telemetry signals (traces, metrics, and logs) to
// bring the situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, label, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that holds duplicate entities", "error", reason, "neo4j.label", label)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	duplicateNodes.Add(ctx, 1, metric.WithAttributes(attribute.String("neo4j.label", label)))
	panic(fmt.Errorf("neo4j graph holds duplicate entities: %v", reason))
}

// A errPropertyNotFound occurs when a property of a record is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a property of a record has a
// runtime type that is different from the expected type. The error message
// contains the effective type of the property at runtime.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface defines generic constraints for supported values
// by getRecordProperty.
type recordProperty interface {
	int64 | string | neo4j.Node | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
