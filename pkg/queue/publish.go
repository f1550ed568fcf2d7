package queue

import (
	"context"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Publish inserts one pending message. The insert trigger notifies blocked
// claimers. The payload must be a JSON document, which is stored as-is.
func (queue *Queue) Publish(ctx context.Context, payload []byte) (err error) {
	ctx, endspan := queue.start(ctx, "publish", attribute.Int("payload_size", len(payload)))
	defer func() { endspan(err) }()

	if len(payload) == 0 {
		return ErrPublish.With(pg.ErrBadParameter.With("empty payload"))
	} else if err := queue.check(); err != nil {
		return ErrPublish.With(err)
	}

	// Insert exactly one row
	if err := queue.with("publish").Insert(ctx, nil, schema.MessageMeta{Payload: payload}); err != nil {
		queue.log.Print(ctx, "publish failed: ", err)
		return ErrPublish.With(err)
	}

	// Return success
	return nil
}

// PublishAll inserts pending messages in one round trip. Either all the
// messages are inserted, or none are.
func (queue *Queue) PublishAll(ctx context.Context, payloads ...[]byte) (err error) {
	ctx, endspan := queue.start(ctx, "publish", attribute.Int("messages", len(payloads)))
	defer func() { endspan(err) }()

	for i, payload := range payloads {
		if len(payload) == 0 {
			return ErrPublish.With(pg.ErrBadParameter.Withf("empty payload at index %d", i))
		}
	}
	if err := queue.check(); err != nil {
		return ErrPublish.With(err)
	}

	// Queue an insert for each message
	if err := queue.with("publish").Bulk(ctx, func(conn pg.Conn) error {
		for _, payload := range payloads {
			if err := conn.Insert(ctx, nil, schema.MessageMeta{Payload: payload}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		queue.log.With("messages", len(payloads)).Print(ctx, "publish failed: ", err)
		return ErrPublish.With(err)
	}

	// Return success
	return nil
}
