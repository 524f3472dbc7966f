package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/gcerrors"
	"gocloud.dev/pubsub"

	"github.com/go-digitaltwin/go-entity/cache"
)

// Evict returns a component.Proc that consumes Saved notifications from source
// and evicts the respective records from the cache, so that entities saved by
// other processes are found afresh.
//
// The procedure acknowledges a message once its record was evicted. Messages
// that cannot be decoded are acknowledged as well, otherwise we might get stuck
// processing the same failed message. It returns once the subscription is shut
// down or the procedure is stopped.
func Evict(c *cache.Driver, source *pubsub.Subscription) component.Proc {
	return func(l *component.L) {
		for l.Continue() {
			msg, err := source.Receive(l.GraceContext())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				if gcerrors.Code(err) == gcerrors.FailedPrecondition {
					// the subscription was shut down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}

			if err := evict(l.GraceContext(), c, msg); err != nil {
				l.Errorf("Failed to evict cached record: %v", err)
				if msg.Nackable() {
					msg.Nack()
				}
				continue
			}
			msg.Ack()
		}
	}
}

func evict(ctx context.Context, c *cache.Driver, msg *pubsub.Message) error {
	saved, err := Decode(msg.Body)
	if err != nil {
		component.Logger(ctx).Error("Skipping undecodable Saved message", "error", err, "msg.id", msg.LoggableID)
		return nil
	}
	if err := c.Evict(ctx, saved.Schema, saved.ID); err != nil {
		return err
	}
	component.Logger(ctx).Debug("Evicted cached record", "schema", saved.Schema, "id", string(saved.ID))
	return nil
}
