package queue_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	queue "github.com/mutablelogic/go-pgqmini/pkg/queue"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	test "github.com/mutablelogic/go-pgqmini/pkg/test"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracetest "go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Global connection options
var conn test.Conn

// Start up a container and test the queue
func TestMain(m *testing.M) {
	test.Main(m, &conn)
}

// open returns a new handle on the named queue, closed when the test ends
func open(t *testing.T, name string, opt ...queue.Opt) *queue.Queue {
	t.Helper()
	q, err := queue.New(context.Background(), conn.Open(t), name, opt...)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.Close(context.Background())
	})
	return q
}

// conflict creates a table for the queue without a status column, so that
// creating the status index fails and the other objects can still be created
func conflict(t *testing.T, name string) {
	t.Helper()
	c := conn.Open(t).With("table", name)
	require.NoError(t, c.Exec(context.Background(), `CREATE TABLE ${"table"} ("id" BIGSERIAL PRIMARY KEY, "updated_at" TIMESTAMPTZ NOT NULL DEFAULT NOW())`))
}

// count scans a single count
type count int

func (c *count) Scan(row pg.Row) error {
	return row.Scan((*int)(c))
}

// query is a selector which returns the statement as-is
type query string

func (q query) Select(*pg.Bind, pg.Op) (string, error) {
	return string(q), nil
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE TESTS

func Test_Queue_New(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	t.Run("ValidConnection", func(t *testing.T) {
		q, err := queue.New(ctx, conn.Open(t), test.QueueName("new"))
		assert.NoError(err)
		assert.NotNil(q)
		assert.NoError(q.Close(ctx))
	})

	t.Run("NilConnection", func(t *testing.T) {
		_, err := queue.New(ctx, nil, "emails")
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("InvalidName", func(t *testing.T) {
		_, err := queue.New(ctx, nil, `emails"; DROP TABLE x; --`)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("ClosedConnection", func(t *testing.T) {
		c := conn.Open(t)
		assert.NoError(c.Close(ctx))
		_, err := queue.New(ctx, c, "emails")
		assert.ErrorIs(err, queue.ErrConnection)
	})

	t.Run("NormalizedName", func(t *testing.T) {
		name := test.QueueName("Upper")
		q := open(t, name)
		assert.NotNil(q.Conn())
		n, _ := schema.QueueName(name).Normalize()
		assert.Equal(n, q.Name())
	})

	t.Run("CloseAfterClaim", func(t *testing.T) {
		q := open(t, test.QueueName("listen"))
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := q.Claim(ctx)
		assert.ErrorIs(err, context.DeadlineExceeded)
		assert.NoError(q.Close(context.Background()))
	})

	t.Run("CloseTwice", func(t *testing.T) {
		q := open(t, test.QueueName("close"))
		assert.NoError(q.Close(ctx))
		assert.NoError(q.Close(ctx))
		assert.ErrorIs(q.Publish(ctx, []byte(`{}`)), queue.ErrPublish)
		assert.ErrorIs(q.Publish(ctx, []byte(`{}`)), pg.ErrNotAvailable)
	})
}

func Test_Queue_Connect(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Unreachable", func(t *testing.T) {
		_, err := queue.Connect(ctx, "127.0.0.1", "postgres", "postgres", "password", "emails", 1,
			queue.WithConnOpts(pg.WithConnectTimeout(time.Second)),
		)
		assert.ErrorIs(err, queue.ErrConnection)
	})

	t.Run("InvalidName", func(t *testing.T) {
		_, err := queue.Connect(ctx, "127.0.0.1", "postgres", "postgres", "password", "1emails", 1)
		assert.ErrorIs(err, pg.ErrBadParameter)
		assert.NotErrorIs(err, queue.ErrConnection)
	})
}

////////////////////////////////////////////////////////////////////////////////
// PROVISIONING TESTS

func Test_Queue_Provision(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	name := test.QueueName("provision")

	t.Run("Idempotent", func(t *testing.T) {
		q1 := open(t, name, queue.WithStrictProvisioning(true))
		q2 := open(t, name, queue.WithStrictProvisioning(true))
		assert.Equal(q1.Name(), q2.Name())

		// One table, two indexes, two triggers
		var tables, indexes, triggers count
		c := conn.Open(t).With("name", q1.Name())
		assert.NoError(c.Get(ctx, &tables, query(`SELECT COUNT(*) FROM pg_tables WHERE tablename = @name`)))
		assert.NoError(c.Get(ctx, &indexes, query(`SELECT COUNT(*) FROM pg_indexes WHERE tablename = @name AND indexname LIKE 'idx_%'`)))
		assert.NoError(c.Get(ctx, &triggers, query(`SELECT COUNT(*) FROM pg_trigger t JOIN pg_class c ON t.tgrelid = c.oid WHERE c.relname = @name AND NOT t.tgisinternal`)))
		assert.Equal(count(1), tables)
		assert.Equal(count(2), indexes)
		assert.Equal(count(2), triggers)
	})

	t.Run("Concurrent", func(t *testing.T) {
		name := test.QueueName("concurrent")
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			c := conn.Open(t)
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q, err := queue.New(ctx, c, name, queue.WithStrictProvisioning(true))
				if err == nil {
					q.Close(ctx)
				}
				errs[i] = err
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(err)
		}
	})

	t.Run("BestEffort", func(t *testing.T) {
		name := test.QueueName("besteffort")
		conflict(t, name)

		// The failed step is logged
		var buf bytes.Buffer
		q := open(t, name, queue.WithLogger(logger.New(&buf, logger.Text, false)))
		assert.Contains(buf.String(), "provisioning step failed")
		assert.Contains(buf.String(), "pgqmini.status_index")

		// The steps after it ran
		var indexes, triggers count
		c := conn.Open(t).With("name", q.Name())
		assert.NoError(c.Get(ctx, &indexes, query(`SELECT COUNT(*) FROM pg_indexes WHERE tablename = @name AND indexname LIKE 'idx_%'`)))
		assert.NoError(c.Get(ctx, &triggers, query(`SELECT COUNT(*) FROM pg_trigger t JOIN pg_class c ON t.tgrelid = c.oid WHERE c.relname = @name AND NOT t.tgisinternal`)))
		assert.Equal(count(1), indexes)
		assert.Equal(count(2), triggers)
	})

	t.Run("Strict", func(t *testing.T) {
		name := test.QueueName("strict")
		conflict(t, name)

		// The first failed step is returned
		_, err := queue.New(ctx, conn.Open(t), name, queue.WithStrictProvisioning(true))
		assert.ErrorIs(err, queue.ErrProvisioning)
		assert.Contains(err.Error(), "pgqmini.status_index")

		// The steps after it did not run
		var indexes count
		c := conn.Open(t).With("name", name)
		assert.NoError(c.Get(ctx, &indexes, query(`SELECT COUNT(*) FROM pg_indexes WHERE tablename = @name AND indexname LIKE 'idx_%'`)))
		assert.Equal(count(0), indexes)

		// The provisioning lock was released
		timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		q, err := queue.New(timeout, conn.Open(t), test.QueueName("unlocked"), queue.WithStrictProvisioning(true))
		if assert.NoError(err) {
			assert.NoError(q.Close(ctx))
		}
	})

	t.Run("WithoutProvisioning", func(t *testing.T) {
		q := open(t, test.QueueName("none"), queue.WithProvisioning(false))
		err := q.Publish(ctx, []byte(`{}`))
		assert.ErrorIs(err, queue.ErrPublish)
		assert.Contains(err.Error(), "does not exist")
	})
}

////////////////////////////////////////////////////////////////////////////////
// PUBLISH TESTS

func Test_Queue_Publish(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	q := open(t, test.QueueName("publish"))

	t.Run("Publish", func(t *testing.T) {
		assert.NoError(q.Publish(ctx, []byte(`{"test":"v1"}`)))
		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(1), stats.Counts[schema.StatusPending])
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		err := q.Publish(ctx, nil)
		assert.ErrorIs(err, queue.ErrPublish)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		err := q.Publish(ctx, []byte(`not json`))
		assert.ErrorIs(err, queue.ErrPublish)
		assert.Contains(err.Error(), "json")
	})

	t.Run("PublishAll", func(t *testing.T) {
		q := open(t, test.QueueName("batch"))
		assert.NoError(q.PublishAll(ctx, []byte(`{"n":1}`), []byte(`{"n":2}`), []byte(`{"n":3}`)))
		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(3), stats.Counts[schema.StatusPending])
	})

	t.Run("PublishAllRollback", func(t *testing.T) {
		q := open(t, test.QueueName("batch"))
		err := q.PublishAll(ctx, []byte(`{"n":1}`), []byte(`not json`))
		assert.ErrorIs(err, queue.ErrPublish)
		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(0), stats.Counts[schema.StatusPending])
	})

	t.Run("PublishAllEmpty", func(t *testing.T) {
		err := q.PublishAll(ctx, []byte(`{}`), nil)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})
}

////////////////////////////////////////////////////////////////////////////////
// CLAIM TESTS

func Test_Queue_Subscribe(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Scenario", func(t *testing.T) {
		q := open(t, test.QueueName("scenario"))
		assert.NoError(q.Publish(ctx, []byte(`{"test":"v1"}`)))

		var payload string
		msg, err := q.Subscribe(ctx, func(_ context.Context, msg *schema.Message) error {
			assert.Equal(schema.StatusProcessing, msg.Status)
			payload = string(msg.Payload)
			return nil
		})
		assert.NoError(err)
		assert.JSONEq(`{"test":"v1"}`, payload)

		// Status is completed
		stored, err := q.Get(ctx, msg.Id)
		assert.NoError(err)
		assert.Equal(schema.StatusCompleted, stored.Status)
		assert.Equal(schema.StatusCompleted, msg.Status)
		assert.False(stored.UpdatedAt.Before(stored.CreatedAt))
	})

	t.Run("HandlerError", func(t *testing.T) {
		q := open(t, test.QueueName("error"))
		assert.NoError(q.Publish(ctx, []byte(`{}`)))
		msg, err := q.Subscribe(ctx, func(context.Context, *schema.Message) error {
			return errors.New("failed")
		})
		assert.ErrorIs(err, queue.ErrProcess)
		assert.NotNil(msg)

		stored, err := q.Get(ctx, msg.Id)
		assert.NoError(err)
		assert.Equal(schema.StatusProcessing, stored.Status)
	})

	t.Run("HandlerPanic", func(t *testing.T) {
		q := open(t, test.QueueName("panic"))
		assert.NoError(q.Publish(ctx, []byte(`{}`)))
		_, err := q.Subscribe(ctx, func(context.Context, *schema.Message) error {
			panic("oops")
		})
		assert.ErrorIs(err, queue.ErrProcess)
		assert.Contains(err.Error(), "oops")
	})

	t.Run("Reclaimed", func(t *testing.T) {
		name := test.QueueName("reclaim")
		first, second := open(t, name), open(t, name)
		assert.NoError(first.Publish(ctx, []byte(`{}`)))

		// While the first handler runs, the message is requeued and claimed again
		var reclaimed *schema.Message
		msg, err := first.Subscribe(ctx, func(ctx context.Context, msg *schema.Message) error {
			time.Sleep(20 * time.Millisecond)
			ids, err := second.Requeue(ctx, time.Millisecond)
			if err != nil {
				return err
			}
			assert.Equal([]uint64{msg.Id}, ids)
			reclaimed, err = second.Claim(ctx)
			return err
		})
		assert.NoError(err)
		if !assert.NotNil(reclaimed) {
			return
		}
		assert.Equal(msg.Id, reclaimed.Id)

		// The first claim did not complete the message
		assert.Equal(schema.StatusProcessing, msg.Status)
		stored, err := first.Get(ctx, msg.Id)
		assert.NoError(err)
		assert.Equal(schema.StatusProcessing, stored.Status)

		// The second claim completes it
		assert.NoError(second.Complete(ctx, reclaimed.Id))
		stored, err = first.Get(ctx, msg.Id)
		assert.NoError(err)
		assert.Equal(schema.StatusCompleted, stored.Status)
	})

	t.Run("NilHandler", func(t *testing.T) {
		q := open(t, test.QueueName("nil"))
		_, err := q.Subscribe(ctx, nil)
		assert.ErrorIs(err, pg.ErrBadParameter)
	})
}

func Test_Queue_Claim(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Order", func(t *testing.T) {
		q := open(t, test.QueueName("order"))
		for i := 0; i < 3; i++ {
			assert.NoError(q.Publish(ctx, fmt.Appendf(nil, `{"n":%d}`, i)))
		}
		var last uint64
		for i := 0; i < 3; i++ {
			msg, err := q.Claim(ctx)
			if !assert.NoError(err) {
				return
			}
			assert.Greater(msg.Id, last)
			assert.JSONEq(fmt.Sprintf(`{"n":%d}`, i), string(msg.Payload))
			assert.Equal(schema.StatusProcessing, msg.Status)
			last = msg.Id
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		q := open(t, test.QueueName("cancel"))
		ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		_, err := q.Claim(ctx)
		assert.ErrorIs(err, queue.ErrClaim)
		assert.ErrorIs(err, context.DeadlineExceeded)

		// The handle can be used after the wait is cancelled
		assert.NoError(q.Publish(context.Background(), []byte(`{}`)))
		msg, err := q.Claim(context.Background())
		assert.NoError(err)
		assert.NotNil(msg)
	})

	t.Run("Blocking", func(t *testing.T) {
		name := test.QueueName("blocking")
		consumer := open(t, name)
		producer := open(t, name)

		result := make(chan *schema.Message, 1)
		go func() {
			msg, err := consumer.Claim(ctx)
			if err == nil {
				result <- msg
			}
			close(result)
		}()

		// The claimer does not return while the queue is empty
		select {
		case <-result:
			assert.Fail("claim returned on an empty queue")
		case <-time.After(500 * time.Millisecond):
		}

		// After a publish it returns
		assert.NoError(producer.Publish(ctx, []byte(`{"wake":true}`)))
		select {
		case msg := <-result:
			if assert.NotNil(msg) {
				assert.JSONEq(`{"wake":true}`, string(msg.Payload))
			}
		case <-time.After(10 * time.Second):
			assert.Fail("claim did not return after publish")
		}
	})

	t.Run("Race", func(t *testing.T) {
		name := test.QueueName("race")
		a, b := open(t, name), open(t, name)
		producer := open(t, name)
		assert.NoError(producer.Publish(ctx, []byte(`{"n":1}`)))

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		results := make(chan error, 2)
		for _, q := range []*queue.Queue{a, b} {
			go func(q *queue.Queue) {
				_, err := q.Claim(ctx)
				results <- err
			}(q)
		}

		// Exactly one claims the message, the other waits until cancelled
		var claimed, waited int
		for i := 0; i < 2; i++ {
			if err := <-results; err == nil {
				claimed++
			} else if errors.Is(err, context.DeadlineExceeded) {
				waited++
			}
		}
		assert.Equal(1, claimed)
		assert.Equal(1, waited)
	})

	t.Run("Partition", func(t *testing.T) {
		const messages, claimers = 40, 4
		name := test.QueueName("partition")
		producer := open(t, name)
		for i := 0; i < messages; i++ {
			assert.NoError(producer.Publish(ctx, fmt.Appendf(nil, `{"n":%d}`, i)))
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		seen := make(map[uint64]int)
		for i := 0; i < claimers; i++ {
			q := open(t, name)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < messages/claimers; j++ {
					msg, err := q.Subscribe(ctx, func(context.Context, *schema.Message) error {
						return nil
					})
					if err != nil {
						return
					}
					mu.Lock()
					seen[msg.Id]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// Each message was returned exactly once
		assert.Len(seen, messages)
		for id, n := range seen {
			assert.Equal(1, n, "message %d", id)
		}
		stats, err := producer.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(messages), stats.Counts[schema.StatusCompleted])
		assert.Equal(uint64(0), stats.Counts[schema.StatusPending])
		assert.Equal(uint64(0), stats.Counts[schema.StatusProcessing])
	})
}

////////////////////////////////////////////////////////////////////////////////
// COMPLETE TESTS

func Test_Queue_Complete(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q := open(t, test.QueueName("complete"))

	t.Run("Finality", func(t *testing.T) {
		assert.NoError(q.Publish(ctx, []byte(`{"n":1}`)))
		msg, err := q.Claim(ctx)
		assert.NoError(err)
		assert.NoError(q.Complete(ctx, msg.Id))

		// Completed message is not claimed again
		assert.NoError(q.Publish(ctx, []byte(`{"n":2}`)))
		next, err := q.Claim(ctx)
		assert.NoError(err)
		assert.NotEqual(msg.Id, next.Id)
		assert.NoError(q.Complete(ctx, next.Id))
	})

	t.Run("Twice", func(t *testing.T) {
		assert.NoError(q.Publish(ctx, []byte(`{}`)))
		msg, err := q.Claim(ctx)
		assert.NoError(err)
		assert.NoError(q.Complete(ctx, msg.Id))
		err = q.Complete(ctx, msg.Id)
		assert.ErrorIs(err, queue.ErrComplete)
		assert.ErrorIs(err, pg.ErrNotFound)

		stored, err := q.Get(ctx, msg.Id)
		assert.NoError(err)
		assert.Equal(schema.StatusCompleted, stored.Status)
	})

	t.Run("Pending", func(t *testing.T) {
		other := open(t, test.QueueName("pending"))
		assert.NoError(other.Publish(ctx, []byte(`{}`)))
		stats, err := other.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(1), stats.Counts[schema.StatusPending])

		// A pending message cannot skip processing
		err = other.Complete(ctx, 1)
		assert.ErrorIs(err, pg.ErrNotFound)
	})

	t.Run("NotFound", func(t *testing.T) {
		err := q.Complete(ctx, 999999)
		assert.ErrorIs(err, queue.ErrComplete)
		assert.ErrorIs(err, pg.ErrNotFound)
	})
}

////////////////////////////////////////////////////////////////////////////////
// MAINTENANCE TESTS

func Test_Queue_Maintenance(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q := open(t, test.QueueName("maintenance"))

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := q.Get(ctx, 999999)
		assert.ErrorIs(err, pg.ErrNotFound)
	})

	t.Run("RequeueNone", func(t *testing.T) {
		ids, err := q.Requeue(ctx, time.Hour)
		assert.NoError(err)
		assert.Empty(ids)
	})

	t.Run("Requeue", func(t *testing.T) {
		assert.NoError(q.Publish(ctx, []byte(`{"n":1}`)))
		msg, err := q.Claim(ctx)
		assert.NoError(err)

		// Not yet stuck
		ids, err := q.Requeue(ctx, time.Hour)
		assert.NoError(err)
		assert.Empty(ids)

		// Stuck
		time.Sleep(50 * time.Millisecond)
		ids, err = q.Requeue(ctx, time.Millisecond)
		assert.NoError(err)
		assert.Equal([]uint64{msg.Id}, ids)

		// The requeued message can be claimed again
		again, err := q.Claim(ctx)
		assert.NoError(err)
		assert.Equal(msg.Id, again.Id)
		assert.NoError(q.Complete(ctx, again.Id))
	})

	t.Run("Purge", func(t *testing.T) {
		n, err := q.Purge(ctx, time.Hour)
		assert.NoError(err)
		assert.Equal(uint64(0), n)

		time.Sleep(50 * time.Millisecond)
		n, err = q.Purge(ctx, time.Millisecond)
		assert.NoError(err)
		assert.Equal(uint64(1), n)

		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(uint64(0), stats.Counts[schema.StatusCompleted])
	})

	t.Run("Stats", func(t *testing.T) {
		q := open(t, test.QueueName("stats"))
		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(q.Name(), stats.Queue)
		keys := make([]string, 0, len(stats.Counts))
		for status, n := range stats.Counts {
			keys = append(keys, status.String())
			assert.Zero(n)
		}
		sort.Strings(keys)
		assert.Equal([]string{"COMPLETED", "PENDING", "PROCESSING"}, keys)
	})
}

////////////////////////////////////////////////////////////////////////////////
// TRACING TESTS

func Test_Queue_Tracer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	q := open(t, test.QueueName("tracer"), queue.WithTracer(provider.Tracer("pgqmini")))

	assert.NoError(q.Publish(ctx, []byte(`{}`)))
	assert.Error(q.Complete(ctx, 999999))

	// One span for each operation, tagged with the queue name
	spans := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range recorder.Ended() {
		spans[span.Name()] = span
	}
	if publish, ok := spans["pgqmini.queue.publish"]; assert.True(ok) {
		assert.Contains(publish.Attributes(), attribute.String("queue", q.Name()))
		assert.NotEqual(codes.Error, publish.Status().Code)
	}
	if complete, ok := spans["pgqmini.queue.complete"]; assert.True(ok) {
		assert.True(complete.Status().Code == codes.Error || len(complete.Events()) > 0)
	}
}
