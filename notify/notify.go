// Package notify announces saved entities over a pubsub topic, so that other
// processes can react to them, e.g. by evicting their cached copies.
//
// Notifications are gob-encoded Saved values. Each message carries the schema
// name and the identifier as metadata too, which brokers may use as a
// partitioning key to preserve the order of notifications per entity.
package notify

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"

	"github.com/go-digitaltwin/go-entity"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-entity/notify")

// Metadata keys set on every notification message.
const (
	MetadataSchema = "schema"
	MetadataID     = "id"
)

// Saved notifies that an entity was persisted.
type Saved struct {
	Schema    string
	ID        entity.ID
	Timestamp time.Time
}

// Encode returns the gob encoding of s.
func (s Saved) Encode() ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(s); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decode decodes a notification message body.
func Decode(p []byte) (Saved, error) {
	var s Saved
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&s); err != nil {
		return Saved{}, err
	}
	return s, nil
}

// Publisher is an entity.Driver that sends a Saved notification to Topic after
// every successful Persist of Driver.
type Publisher struct {
	Driver entity.Driver
	Topic  *pubsub.Topic
}

// FindByID delegates to the underlying driver.
func (p Publisher) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	return p.Driver.FindByID(ctx, schema, id)
}

// Persist delegates to the underlying driver, then notifies. If the
// notification fails, the record is persisted nonetheless but Persist returns
// an error, so that the entity stays dirty and a later save notifies again.
func (p Publisher) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) error {
	if err := p.Driver.Persist(ctx, schema, id, values); err != nil {
		return err
	}
	saved := Saved{Schema: schema, ID: id, Timestamp: time.Now().UTC()}
	if err := p.notify(ctx, saved); err != nil {
		return fmt.Errorf("notify saved: %w", err)
	}
	return nil
}

func (p Publisher) notify(ctx context.Context, saved Saved) error {
	ctx, span := tracer.Start(ctx, "Publisher.notify", trace.WithAttributes(
		attribute.String("entity.schema", saved.Schema),
		attribute.String("entity.id", string(saved.ID)),
	))
	defer span.End()
	logger := component.Logger(ctx).With("schema", saved.Schema, "id", string(saved.ID))

	logger.Debug("Encoding Saved message using gob...")
	body, err := saved.Encode()
	if err != nil {
		err := fmt.Errorf("encode gob: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.Debug("Sending Saved message...")
	msg := &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			MetadataSchema: saved.Schema,
			MetadataID:     string(saved.ID),
		},
	}
	if err := p.Topic.Send(ctx, msg); err != nil {
		err := fmt.Errorf("send: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Debug("Saved message sent successfully")
	return nil
}
