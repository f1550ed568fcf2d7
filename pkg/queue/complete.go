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

// Complete moves a processing message to completed. Completing does not
// notify claimers. An unknown id, or a message which is not processing,
// returns ErrComplete wrapping pg.ErrNotFound.
//
// Complete does not check which claim it is completing. If the message was
// requeued and claimed again, the second claim is completed. Subscribe
// completes only the claim it made.
func (queue *Queue) Complete(ctx context.Context, id uint64) error {
	return queue.complete(ctx, schema.MessageComplete{Id: id})
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// complete locks the message, checks it can move to completed and that it
// is still the same claim, then updates it
func (queue *Queue) complete(ctx context.Context, req schema.MessageComplete) (err error) {
	ctx, endspan := queue.start(ctx, "complete", attribute.Int64("message.id", int64(req.Id)))
	defer func() { endspan(err) }()

	if err := queue.check(); err != nil {
		return ErrComplete.With(err)
	}
	if err := queue.with("complete").Tx(ctx, func(conn pg.Conn) error {
		var message schema.Message
		if err := conn.Get(ctx, &message, req); err != nil {
			return err
		}
		if !message.Status.Precedes(schema.StatusCompleted) {
			return pg.ErrNotFound.Withf("message %d is %s", req.Id, message.Status)
		}
		if req.ClaimedAt != nil && !message.UpdatedAt.Equal(*req.ClaimedAt) {
			return pg.ErrNotFound.Withf("message %d was claimed again", req.Id)
		}
		return conn.Update(ctx, nil, req, nil)
	}); err != nil {
		queue.log.With("id", req.Id).Print(ctx, "complete failed: ", err)
		return ErrComplete.With(err)
	}

	// Return success
	return nil
}
