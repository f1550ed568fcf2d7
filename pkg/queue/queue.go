package queue

import (
	"context"
	"errors"
	"strings"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	pg "github.com/mutablelogic/go-pgqmini"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	sql "github.com/mutablelogic/go-pgqmini/pkg/queue/sql"
	server "github.com/mutablelogic/go-server"
	attribute "go.opentelemetry.io/otel/attribute"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is a handle on one named queue, which owns one exclusive
// connection. A handle models a single producer or consumer and is not
// safe for concurrent use.
type Queue struct {
	conn      pg.SingleConn
	name      string
	log       server.Logger
	tracer    trace.Tracer
	listening bool
	closed    bool
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Connect opens a connection to the server and returns a handle on the
// named queue, provisioning the queue objects unless disabled. A failure to
// connect returns ErrConnection.
func Connect(ctx context.Context, host, database, user, password, name string, port uint16, opt ...Opt) (*Queue, error) {
	// Check the queue name before connecting
	if _, err := schema.QueueName(name).Normalize(); err != nil {
		return nil, err
	}
	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}

	// Connect
	conn, err := pg.Connect(ctx, append([]pg.Opt{
		pg.WithHostPort(host, port),
		pg.WithCredentials(user, password),
		pg.WithDatabase(database),
	}, o.conn...)...)
	if err != nil {
		o.logger(ctx).With("host", host, "database", database).Print(ctx, "connect failed: ", err)
		return nil, ErrConnection.With(err)
	}

	// Create the handle, closing the connection on error
	queue, err := New(ctx, conn, name, opt...)
	if err != nil {
		return nil, errors.Join(err, conn.Close(ctx))
	}

	// Return success
	return queue, nil
}

// New returns a handle on the named queue which takes ownership of an
// existing connection, provisioning the queue objects unless disabled.
func New(ctx context.Context, conn pg.SingleConn, name string, opt ...Opt) (*Queue, error) {
	self := new(Queue)

	// Check the queue name and connection
	pairs, err := schema.QueueName(name).Bind()
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, pg.ErrBadParameter.With("connection is nil")
	}
	if conn.IsClosed() {
		return nil, ErrConnection.With(pg.ErrNotAvailable.With("connection is closed"))
	}

	// Apply options
	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}

	// Parse query SQL
	queries, err := pg.NewQueries(strings.NewReader(sql.Queries))
	if err != nil {
		return nil, err
	}

	// Parse object SQL
	objects, err := pg.NewQueries(strings.NewReader(sql.Objects))
	if err != nil {
		return nil, err
	}

	// Bind the queries and the queue names to the connection
	self.conn = conn.WithQueries(queries).With(pairs...).(pg.SingleConn)
	self.name, _ = schema.QueueName(name).Normalize()
	self.log = o.logger(ctx).With("queue", self.name)
	self.tracer = o.tracer

	// Provision the queue objects
	if o.provision {
		if err := self.provision(ctx, objects, o.strict); err != nil {
			return nil, err
		}
	}

	// Return success
	return self, nil
}

// Close stops listening for notifications and releases the connection.
// Calling Close more than once is a no-op.
func (queue *Queue) Close(ctx context.Context) error {
	if queue.closed {
		return nil
	}
	queue.closed = true

	var result error
	if queue.listening && !queue.conn.IsClosed() {
		if err := queue.conn.Unlisten(ctx, schema.ChannelName); err != nil {
			result = errors.Join(result, err)
		}
	}
	queue.listening = false
	return errors.Join(result, queue.conn.Close(ctx))
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the normalized queue name, which is also the table name
func (queue *Queue) Name() string {
	return queue.name
}

// Conn returns the connection, with the queue statements bound
func (queue *Queue) Conn() pg.SingleConn {
	return queue.conn
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// check returns an error if the handle has been closed
func (queue *Queue) check() error {
	if queue.closed || queue.conn.IsClosed() {
		return pg.ErrNotAvailable.With("connection is closed")
	}
	return nil
}

// with returns the connection with the span name set for statement tracing
func (queue *Queue) with(op string) pg.Conn {
	return queue.conn.With(pg.TraceSpanNameArg, spanName(op))
}

// start a span for a queue operation, and return a function which ends it
func (queue *Queue) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if queue.tracer == nil {
		return ctx, func(error) {}
	}
	return otel.StartSpan(queue.tracer, ctx, spanName(op), append(attrs, attribute.String("queue", queue.name))...)
}

func spanName(op string) string {
	return schema.SchemaName + ".queue." + op
}
