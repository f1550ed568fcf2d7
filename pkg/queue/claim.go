package queue

import (
	"context"
	"errors"
	"fmt"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Handler processes a claimed message. Return nil on success, or an error
// to leave the message processing.
type Handler func(context.Context, *schema.Message) error

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Claim returns the pending message with the lowest id, which is moved to
// processing. Messages locked by other claimers are skipped. When there is
// no message to claim, Claim blocks until a notification arrives and then
// tries again, or until the context is done.
func (queue *Queue) Claim(ctx context.Context) (msg *schema.Message, err error) {
	ctx, endspan := queue.start(ctx, "claim")
	defer func() { endspan(err) }()

	if err := queue.check(); err != nil {
		return nil, ErrClaim.With(err)
	}

	// Listen before the first claim, so a publish between an empty claim
	// and the wait is not missed
	if !queue.listening {
		if err := queue.conn.Listen(ctx, schema.ChannelName); err != nil {
			queue.log.With("channel", schema.ChannelName).Print(ctx, "listen failed: ", err)
			return nil, ErrClaim.With(err)
		}
		queue.listening = true
	}

	conn := queue.with("claim")
	for {
		var message schema.Message
		if err := conn.Update(ctx, &message, schema.MessageClaim{}, nil); err == nil {
			return &message, nil
		} else if !errors.Is(err, pg.ErrNotFound) {
			queue.log.Print(ctx, "claim failed: ", err)
			return nil, ErrClaim.With(err)
		}

		// Wait for a notification. Any notification on the channel is
		// a signal to claim again.
		if _, err := queue.conn.WaitForNotification(ctx); err != nil {
			if ctx.Err() == nil {
				queue.log.Print(ctx, "wait failed: ", err)
			}
			return nil, ErrClaim.With(err)
		}
	}
}

// Subscribe claims a message, blocking until there is one, then calls fn
// with it and marks it completed. If fn returns an error or panics, the
// message is left processing and ErrProcess is returned. A failure to mark
// the message completed is logged, and the message is returned with no error.
// A message which was requeued and claimed again while fn ran is left to the
// second claim.
func (queue *Queue) Subscribe(ctx context.Context, fn Handler) (msg *schema.Message, err error) {
	if fn == nil {
		return nil, pg.ErrBadParameter.With("handler is nil")
	}

	ctx, endspan := queue.start(ctx, "subscribe")
	defer func() { endspan(err) }()

	// Claim
	msg, err = queue.Claim(ctx)
	if err != nil {
		return nil, err
	}

	// Process
	claimed := msg.UpdatedAt
	if err := process(ctx, fn, msg); err != nil {
		queue.log.With("id", msg.Id).Print(ctx, "process failed: ", err)
		return msg, ErrProcess.Withf(err, "message %d", msg.Id)
	}

	// Complete, even if the context was cancelled while processing
	if err := queue.complete(context.WithoutCancel(ctx), schema.MessageComplete{Id: msg.Id, ClaimedAt: &claimed}); err != nil {
		queue.log.With("id", msg.Id).Print(ctx, "not completed: ", err)
	} else {
		msg.Status = schema.StatusCompleted
	}

	// Return success
	return msg, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// process calls fn, returning a panic as an error
func process(ctx context.Context, fn Handler, msg *schema.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}
