// Package docstoredriver implements an entity.Driver on top of Go CDK document
// stores (gocloud.dev/docstore), such as MongoDB, DynamoDB, Firestore or the
// in-memory memdocstore.
//
// Every schema maps to its own collection, keyed by the "id" field. The driver
// opens collections lazily and keeps them open until Close.
package docstoredriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"

	"github.com/go-digitaltwin/go-entity"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-entity/docstoredriver")

// An OpenFunc opens the collection storing the entities of a schema.
type OpenFunc func(ctx context.Context, schema string) (*docstore.Collection, error)

// Driver stores entities in docstore collections.
//
// A Driver is safe for concurrent use.
type Driver struct {
	open OpenFunc

	mu          sync.Mutex
	collections map[string]*docstore.Collection
}

// New returns a Driver opening collections with open. The collections must be
// keyed by the "id" field.
func New(open OpenFunc) *Driver {
	return &Driver{
		open:        open,
		collections: make(map[string]*docstore.Collection),
	}
}

// OpenURL returns a Driver opening collections by URL. The template holds a
// single %s verb, replaced by the schema name, e.g. "mem://%s/id" or
// "mongo://db/%s?id_field=id". The schemes available are those registered by
// the docstore drivers the program imports.
func OpenURL(template string) *Driver {
	return New(func(ctx context.Context, schema string) (*docstore.Collection, error) {
		return docstore.OpenCollection(ctx, fmt.Sprintf(template, schema))
	})
}

func (d *Driver) collection(ctx context.Context, schema string) (*docstore.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.collections[schema]; ok {
		return c, nil
	}
	c, err := d.open(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", schema, err)
	}
	d.collections[schema] = c
	return c, nil
}

// FindByID gets the document identified by id from the schema's collection. It
// returns an error wrapping entity.ErrNotFound when no such document exists.
func (d *Driver) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	ctx, span := tracer.Start(ctx, "FindByID", trace.WithAttributes(
		attribute.String("docstore.collection", schema),
		attribute.String("entity.id", string(id)),
	))
	defer span.End()

	c, err := d.collection(ctx, schema)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	doc := map[string]any{entity.IDField: string(id)}
	if err := c.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("docstoredriver: %s(%s): %w", schema, id, entity.ErrNotFound)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get document: %w", err)
	}
	// Revisions are the store's concern; entities track their own changes.
	delete(doc, docstore.DefaultRevisionField)
	return entity.Record(doc), nil
}

// Persist replaces the document identified by id in the schema's collection.
func (d *Driver) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) error {
	ctx, span := tracer.Start(ctx, "Persist", trace.WithAttributes(
		attribute.String("docstore.collection", schema),
		attribute.String("entity.id", string(id)),
	))
	defer span.End()

	c, err := d.collection(ctx, schema)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	doc := make(map[string]any, len(values)+1)
	for k, v := range values {
		doc[k] = plain(v)
	}
	doc[entity.IDField] = string(id)
	if err := c.Put(ctx, doc); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// Close closes every collection the driver has opened.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for schema, c := range d.collections {
		if err := c.Close(); err != nil {
			component.Logger(ctx).Error("Failed to close collection", "error", err, "docstore.collection", schema)
			errs = append(errs, fmt.Errorf("close collection %s: %w", schema, err))
		}
		delete(d.collections, schema)
	}
	return errors.Join(errs...)
}

// plain converts the named types of the entity package to the plain types
// docstore encoders handle.
func plain(v any) any {
	switch x := v.(type) {
	case entity.ID:
		return string(x)
	case entity.Record:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = plain(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = plain(e)
		}
		return m
	case []any:
		l := make([]any, len(x))
		for i, e := range x {
			l[i] = plain(e)
		}
		return l
	default:
		return v
	}
}
