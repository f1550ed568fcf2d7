package pg

import (
	"context"

	// Packages
	pgx "github.com/jackc/pgx/v5"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// bulkconn queues inserts into a batch, which is sent when the bulk
// function returns
type bulkconn struct {
	conn  pgx.Tx
	batch *pgx.Batch
	bind  *Bind
}

var _ Conn = (*bulkconn)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Return a new connection with bound parameters, sharing the batch
func (conn *bulkconn) With(params ...any) Conn {
	return &bulkconn{conn.conn, conn.batch, conn.bind.Copy(params...)}
}

// Return a new connection with bound queries, sharing the batch
func (conn *bulkconn) WithQueries(queries ...*Queries) Conn {
	return &bulkconn{conn.conn, conn.batch, conn.bind.withQueries(queries...)}
}

func (conn *bulkconn) Tx(context.Context, func(Conn) error) error {
	return ErrNotImplemented
}

func (conn *bulkconn) Bulk(context.Context, func(Conn) error) error {
	return ErrNotImplemented
}

func (conn *bulkconn) Exec(context.Context, string) error {
	return ErrNotImplemented
}

// Queue an insert. The bind vars are copied so the writer for the next
// insert does not overwrite them.
func (conn *bulkconn) Insert(ctx context.Context, reader Reader, writer Writer) error {
	bind := conn.bind.Copy()
	query, err := writer.Insert(bind)
	if err != nil {
		return err
	}
	bind.queue(conn.batch, query, reader)
	return nil
}

func (conn *bulkconn) Update(context.Context, Reader, Selector, Writer) error {
	return ErrNotImplemented
}

func (conn *bulkconn) Delete(context.Context, Reader, Selector) error {
	return ErrNotImplemented
}

func (conn *bulkconn) Get(context.Context, Reader, Selector) error {
	return ErrNotImplemented
}

func (conn *bulkconn) List(context.Context, Reader, Selector) error {
	return ErrNotImplemented
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func bulk(ctx context.Context, tx pgx.Tx, bind *Bind, fn func(Conn) error) error {
	conn := &bulkconn{tx, new(pgx.Batch), bind}
	if err := fn(conn); err != nil {
		return pgerror(err)
	}
	if conn.batch.Len() == 0 {
		return nil
	}

	// Send the batch, and return the first error
	return pgerror(tx.SendBatch(ctx, conn.batch).Close())
}
