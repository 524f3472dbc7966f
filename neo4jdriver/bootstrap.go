package neo4jdriver

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BootstrapDatabase prepares the named database to store entities of the given
// schemas. It creates the database unless it exists, then declares a node key
// on the id property of every label. The key indexes the lookups of FindByID
// and rejects the duplicate nodes that concurrent MERGEs could otherwise
// create. Node keys require the enterprise edition.
//
// BootstrapDatabase is idempotent, so services may call it on every start.
// It panics if the database name is reserved or if a label is not a valid
// identifier.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string, labels ...string) (err error) {
	mustDatabaseName(name)
	for _, l := range labels {
		mustLabel(l)
	}

	ctx, span := tracer.Start(ctx, "BootstrapDatabase", trace.WithAttributes(
		attribute.String("db.name", name),
		attribute.StringSlice("entity.schemas", labels),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	logger := component.Logger(ctx).With("db.name", name)

	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	logger.Debug("Database exists")

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err)
		}
	}()
	for _, l := range labels {
		_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, "CREATE CONSTRAINT IF NOT EXISTS FOR (n:"+l+") REQUIRE n.id IS NODE KEY", nil)
		})
		if err != nil {
			return fmt.Errorf("node key on %s: %w", l, err)
		}
		logger.Debug("Node key declared", "label", l)
	}
	return nil
}

// mustDatabaseName panics with names Neo4j reserves. Other invalid names are
// rejected by the server.
func mustDatabaseName(name string) {
	switch {
	case name == "":
		panic("neo4jdriver: database name must not be empty")
	case name == "neo4j":
		panic("neo4jdriver: database name must not be neo4j: reserved for the default database")
	case strings.HasPrefix(name, "system"), strings.HasPrefix(name, "_"):
		panic(fmt.Sprintf("neo4jdriver: database name %q is reserved for internal use", name))
	}
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system", AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	result, err := s.Run(ctx, "CREATE DATABASE $name IF NOT EXISTS", map[string]any{"name": name})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
