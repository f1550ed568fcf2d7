/*
Package queue provides a minimal PostgreSQL-backed message queue. Producers
publish JSON payloads, and consumers claim them one at a time. No message is
claimed by more than one consumer, and a consumer with nothing to claim waits
on a notification rather than polling.

# Handles

A handle owns one exclusive connection, bound to one named queue. The queue
table, its indexes and its triggers are created when the handle is created:

	q, err := queue.Connect(ctx, "localhost", "postgres", "postgres", "password", "emails", 5432)
	if err != nil {
		panic(err)
	}
	defer q.Close(ctx)

A handle is not safe for concurrent use. Run one handle per consumer.

# Publish

	err := q.Publish(ctx, []byte(`{"to":"user@example.com"}`))

# Claim and process

Subscribe blocks until a message is claimed, calls the handler and then marks
the message completed. Call it in a loop to process messages one at a time:

	for {
		msg, err := q.Subscribe(ctx, func(ctx context.Context, msg *schema.Message) error {
			// Process msg.Payload
			return nil
		})
		if errors.Is(err, queue.ErrProcess) {
			// msg is left processing
			continue
		} else if err != nil {
			return err
		}
	}

Claim and Complete can also be called separately.

# Stuck messages

A message whose consumer fails before completing it stays processing. Requeue
returns such messages to pending:

	ids, err := q.Requeue(ctx, 5*time.Minute)

If a handler is still running when its message is requeued and claimed again,
Subscribe completes only its own claim, so the slower of the two fails to
complete and logs it.

# WorkerPool

A worker pool runs a number of consumers, each with its own handle:

	pool, err := queue.NewWorkerPool(func(ctx context.Context) (*queue.Queue, error) {
		return queue.Connect(ctx, host, database, user, password, "emails", 5432)
	}, handler, queue.WithWorkers(4), queue.WithRequeue(5*time.Minute, time.Minute))

	// Run blocks until context is cancelled
	err = pool.Run(ctx)

# Subpackages

  - schema: Message and status types, and the statement selectors
  - sql: Provisioning and queue statements
  - metrics: Prometheus collector for message counts
*/
package queue
