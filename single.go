package pg

import (
	"context"
	"errors"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// SingleConn is one exclusive connection to the server. It is not safe for
// concurrent use: a session which LISTENs must also be the one which waits,
// so the connection is never shared with other goroutines.
type SingleConn interface {
	Conn

	// Check the connection is alive
	Ping(context.Context) error

	// Close the connection. Calling Close more than once is a no-op.
	Close(context.Context) error

	// Return true if the connection has been closed
	IsClosed() bool

	// Subscribe the session to a notification channel
	Listen(context.Context, string) error

	// Unsubscribe the session from a notification channel
	Unlisten(context.Context, string) error

	// Block until a notification arrives on a subscribed channel, or the
	// context is done
	WaitForNotification(context.Context) (*Notification, error)
}

// single wraps a connection so that it can be used as if it were a
// transaction, which lets the same statement helpers run on either
type single struct {
	conn *pgx.Conn
}

type singleconn struct {
	conn *single
	bind *Bind
}

// Ensure interfaces are satisfied
var _ pgx.Tx = (*single)(nil)
var _ SingleConn = (*singleconn)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Connect opens an exclusive connection to a PostgreSQL server.
func Connect(ctx context.Context, opts ...Opt) (SingleConn, error) {
	o, err := apply(opts...)
	if err != nil {
		return nil, err
	}
	config, err := pgx.ParseConfig(o.Encode())
	if err != nil {
		return nil, ErrBadParameter.With(err)
	}

	// Set the tracer, and trace the connection parameters
	if o.tracer != nil {
		config.Tracer = o.tracer
		if o.tracer.TraceFn != nil {
			o.tracer.TraceFn(ctx, "CONNECT", o.fields(), nil)
		}
	}

	// Connect
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	// Return success
	return &singleconn{&single{conn}, o.bind}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - SINGLE (pgx.Tx)

func (s *single) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.conn.Begin(ctx)
}

func (s *single) Commit(context.Context) error {
	return errors.New("cannot commit outside a transaction")
}

func (s *single) Rollback(context.Context) error {
	return errors.New("cannot rollback outside a transaction")
}

func (s *single) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	return s.conn.CopyFrom(ctx, table, columns, src)
}

func (s *single) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return s.conn.SendBatch(ctx, b)
}

func (s *single) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (s *single) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return s.conn.Prepare(ctx, name, sql)
}

func (s *single) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s *single) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *single) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

func (s *single) Conn() *pgx.Conn {
	return s.conn
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - SINGLECONN

func (p *singleconn) Ping(ctx context.Context) error {
	return pgerror(p.conn.conn.Ping(ctx))
}

func (p *singleconn) Close(ctx context.Context) error {
	return p.conn.conn.Close(ctx)
}

func (p *singleconn) IsClosed() bool {
	return p.conn.conn.IsClosed()
}

func (p *singleconn) Listen(ctx context.Context, channel string) error {
	if channel == "" {
		return ErrBadParameter.With("missing channel")
	}
	_, err := p.conn.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return pgerror(err)
}

func (p *singleconn) Unlisten(ctx context.Context, channel string) error {
	if channel == "" {
		return ErrBadParameter.With("missing channel")
	}
	_, err := p.conn.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize())
	return pgerror(err)
}

func (p *singleconn) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := p.conn.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return newNotification(n), nil
}

// Return a new connection with new bound parameters
func (p *singleconn) With(params ...any) Conn {
	return &singleconn{p.conn, p.bind.Copy(params...)}
}

// Return a new connection with bound queries
func (p *singleconn) WithQueries(queries ...*Queries) Conn {
	return &singleconn{p.conn, p.bind.withQueries(queries...)}
}

// Perform a transaction, then commit or rollback
func (p *singleconn) Tx(ctx context.Context, fn func(conn Conn) error) error {
	return tx(ctx, p.conn, p.bind, fn)
}

// Perform a bulk operation
func (p *singleconn) Bulk(ctx context.Context, fn func(conn Conn) error) error {
	return bulk(ctx, p.conn, p.bind, fn)
}

// Execute a statement
func (p *singleconn) Exec(ctx context.Context, query string) error {
	_, err := p.bind.Exec(ctx, p.conn, query)
	return pgerror(err)
}

// Perform an insert
func (p *singleconn) Insert(ctx context.Context, reader Reader, writer Writer) error {
	return insert(ctx, p.conn, p.bind, reader, writer)
}

// Perform an update
func (p *singleconn) Update(ctx context.Context, reader Reader, sel Selector, writer Writer) error {
	return update(ctx, p.conn, p.bind, reader, sel, writer)
}

// Perform a delete
func (p *singleconn) Delete(ctx context.Context, reader Reader, sel Selector) error {
	return del(ctx, p.conn, p.bind, reader, sel)
}

// Perform a get
func (p *singleconn) Get(ctx context.Context, reader Reader, sel Selector) error {
	return get(ctx, p.conn, p.bind, reader, sel)
}

// Perform a list
func (p *singleconn) List(ctx context.Context, reader Reader, sel Selector) error {
	return list(ctx, p.conn, p.bind, reader, sel)
}
