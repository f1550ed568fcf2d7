package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Dialer opens a new handle on a queue. Each worker in a pool calls it once,
// so that each worker has its own connection.
type Dialer func(context.Context) (*Queue, error)

// WorkerPool runs a number of consumers on the same queue, each of which
// claims and processes one message at a time on its own handle.
type WorkerPool struct {
	dial    Dialer
	handler Handler
	opts    opts
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewWorkerPool creates a new worker pool which opens handles with dial
// and processes messages with handler.
func NewWorkerPool(dial Dialer, handler Handler, opt ...Opt) (*WorkerPool, error) {
	if dial == nil {
		return nil, pg.ErrBadParameter.With("dialer is nil")
	} else if handler == nil {
		return nil, pg.ErrBadParameter.With("handler is nil")
	}
	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}
	return &WorkerPool{
		dial:    dial,
		handler: handler,
		opts:    o,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Workers returns the number of consumers the pool runs
func (wp *WorkerPool) Workers() int {
	return wp.opts.workers
}

// Run opens the handles and runs the consumers, blocking until the context
// is cancelled or a handle fails. A handler error does not stop the pool.
// The handles are closed on return.
func (wp *WorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, wp.opts.workers+1)

	// Cancel all workers when one fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Open all the handles before starting, one more for requeue
	n := wp.opts.workers
	if wp.opts.requeueAfter > 0 {
		n++
	}
	queues := make([]*Queue, 0, n)
	defer func() {
		for _, queue := range queues {
			queue.Close(context.Background())
		}
	}()
	for i := 0; i < n; i++ {
		queue, err := wp.dial(ctx)
		if err != nil {
			return err
		}
		queues = append(queues, queue)
	}

	// Start the consumers
	for i := 0; i < wp.opts.workers; i++ {
		wg.Add(1)
		go func(queue *Queue) {
			defer wg.Done()
			if err := wp.runConsumer(ctx, queue); err != nil {
				errCh <- err
				cancel()
			}
		}(queues[i])
	}

	// Start the requeue loop on its own handle
	if wp.opts.requeueAfter > 0 {
		wg.Add(1)
		go func(queue *Queue) {
			defer wg.Done()
			if err := wp.runRequeue(ctx, queue); err != nil {
				errCh <- err
				cancel()
			}
		}(queues[wp.opts.workers])
	}

	// Wait for the workers to end
	wg.Wait()
	close(errCh)

	var result error
	for err := range errCh {
		result = errors.Join(result, err)
	}
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (wp *WorkerPool) runConsumer(ctx context.Context, queue *Queue) error {
	handler := wp.handler
	if wp.opts.timeout > 0 {
		handler = func(ctx context.Context, msg *schema.Message) error {
			return runWork(ctx, wp.opts.timeout, func(ctx context.Context) error {
				return wp.handler(ctx, msg)
			})
		}
	}
	for {
		_, err := queue.Subscribe(ctx, handler)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrProcess):
			// Message is left processing, continue with the next
			continue
		case err != nil:
			return err
		}
	}
}

func (wp *WorkerPool) runRequeue(ctx context.Context, queue *Queue) error {
	ticker := time.NewTicker(wp.opts.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := queue.Requeue(ctx, wp.opts.requeueAfter); err != nil && ctx.Err() == nil {
				queue.log.Print(ctx, "requeue failed: ", err)
			}
		}
	}
}

// runWork executes work with a deadline, returning the context error if
// the deadline was exceeded.
func runWork(parent context.Context, deadline time.Duration, fn func(context.Context) error) (errs error) {
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	// Run the work function
	if err := fn(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	// Include context error if not already present
	if ctx.Err() != nil && !errors.Is(errs, ctx.Err()) {
		errs = errors.Join(errs, ctx.Err())
	}

	return errs
}
