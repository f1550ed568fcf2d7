package queue

import (
	"context"
	"errors"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Get returns a message by id, or pg.ErrNotFound
func (queue *Queue) Get(ctx context.Context, id uint64) (*schema.Message, error) {
	if err := queue.check(); err != nil {
		return nil, err
	}
	var message schema.Message
	if err := queue.with("get").Get(ctx, &message, schema.MessageId(id)); err != nil {
		return nil, err
	}
	return &message, nil
}

// Stats returns the number of messages in each status
func (queue *Queue) Stats(ctx context.Context) (*schema.QueueStats, error) {
	if err := queue.check(); err != nil {
		return nil, err
	}
	stats := schema.QueueStats{
		Queue:  queue.name,
		Counts: make(map[schema.Status]uint64, len(schema.Statuses)),
	}
	for _, status := range schema.Statuses {
		stats.Counts[status] = 0
	}
	if err := queue.with("stats").List(ctx, &stats, schema.QueueStatsRequest{}); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Requeue returns messages which have been processing for longer than
// olderThan to pending, and notifies claimers. It returns the ids of the
// requeued messages. Messages are never requeued unless this is called.
//
// A message whose handler is still running when it is requeued can be
// claimed again. The claim which completes first wins; the other claim's
// Subscribe fails to complete and logs it. Choose olderThan longer than the
// slowest handler.
func (queue *Queue) Requeue(ctx context.Context, olderThan time.Duration) (ids []uint64, err error) {
	ctx, endspan := queue.start(ctx, "requeue", attribute.String("older_than", olderThan.String()))
	defer func() { endspan(err) }()

	if err := queue.check(); err != nil {
		return nil, err
	}
	var list schema.MessageIdList
	if err := queue.with("requeue").Update(ctx, &list, schema.MessageRequeue{OlderThan: olderThan}, nil); errors.Is(err, pg.ErrNotFound) {
		return []uint64{}, nil
	} else if err != nil {
		queue.log.Print(ctx, "requeue failed: ", err)
		return nil, err
	}
	if len(list.Body) > 0 {
		queue.log.With("count", len(list.Body)).Print(ctx, "requeued messages")
	}
	return list.Body, nil
}

// Purge deletes messages which were completed longer ago than olderThan,
// and returns the number of messages deleted
func (queue *Queue) Purge(ctx context.Context, olderThan time.Duration) (n uint64, err error) {
	ctx, endspan := queue.start(ctx, "purge", attribute.String("older_than", olderThan.String()))
	defer func() { endspan(err) }()

	if err := queue.check(); err != nil {
		return 0, err
	}
	var list schema.MessageIdList
	if err := queue.with("purge").Delete(ctx, &list, schema.MessagePurge{OlderThan: olderThan}); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		queue.log.Print(ctx, "purge failed: ", err)
		return 0, err
	}
	return uint64(len(list.Body)), nil
}
