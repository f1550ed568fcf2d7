package pg

import (
	"context"
	"errors"

	// Packages
	pgx "github.com/jackc/pgx/v5"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type Conn interface {
	// Return a new connection with bound parameters
	With(...any) Conn

	// Return a new connection with bound queries
	WithQueries(...*Queries) Conn

	// Perform a transaction within a function
	Tx(context.Context, func(Conn) error) error

	// Perform a bulk operation within a function. The statements are
	// sent in one round trip and succeed or fail together
	Bulk(context.Context, func(Conn) error) error

	// Execute a statement
	Exec(context.Context, string) error

	// Perform an insert
	Insert(context.Context, Reader, Writer) error

	// Perform an update
	Update(context.Context, Reader, Selector, Writer) error

	// Perform a delete
	Delete(context.Context, Reader, Selector) error

	// Perform a get
	Get(context.Context, Reader, Selector) error

	// Perform a list. No rows is not an error for a list
	List(context.Context, Reader, Selector) error
}

// Op represents a database operation type.
type Op uint

// Row is a pgx.Row for scanning query results.
type Row pgx.Row

// Reader scans a database row into an object.
type Reader interface {
	// Scan row into a result
	Scan(Row) error
}

// Writer binds object fields for insert or update operations.
type Writer interface {
	// Set bind parameters for an insert
	Insert(*Bind) (string, error)

	// Set bind parameters for an update
	Update(*Bind) error
}

// Selector binds parameters for get, update, delete or list operations.
type Selector interface {
	// Set bind parameters and return the statement for the operation
	Select(*Bind, Op) (string, error)
}

// Concrete connection within a transaction
type conn struct {
	conn pgx.Tx
	bind *Bind
}

// Ensure interfaces are satisfied
var _ Conn = (*conn)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Operations
const (
	None Op = iota
	Get
	Insert
	Update
	Delete
	List
)

func (o Op) String() string {
	switch o {
	case Get:
		return "GET"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case List:
		return "LIST"
	}
	return "UNKNOWN"
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - CONN

// Return a new connection with new bound parameters
func (p *conn) With(params ...any) Conn {
	return &conn{p.conn, p.bind.Copy(params...)}
}

// Return a new connection with bound queries
func (p *conn) WithQueries(queries ...*Queries) Conn {
	return &conn{p.conn, p.bind.withQueries(queries...)}
}

// Perform a nested transaction, then commit or rollback
func (p *conn) Tx(ctx context.Context, fn func(Conn) error) error {
	return tx(ctx, p.conn, p.bind, fn)
}

// Perform a bulk operation
func (p *conn) Bulk(ctx context.Context, fn func(Conn) error) error {
	return bulk(ctx, p.conn, p.bind, fn)
}

// Execute a statement
func (p *conn) Exec(ctx context.Context, query string) error {
	_, err := p.bind.Exec(ctx, p.conn, query)
	return pgerror(err)
}

// Perform an insert, binding parameters from the writer, and scanning the
// result into the reader
func (p *conn) Insert(ctx context.Context, reader Reader, writer Writer) error {
	return insert(ctx, p.conn, p.bind, reader, writer)
}

// Perform an update, selecting using the selector, binding parameters from
// the writer, and scanning the result into the reader
func (p *conn) Update(ctx context.Context, reader Reader, sel Selector, writer Writer) error {
	return update(ctx, p.conn, p.bind, reader, sel, writer)
}

// Perform a delete, binding parameters with the selector and scanning the
// deleted rows into the reader
func (p *conn) Delete(ctx context.Context, reader Reader, sel Selector) error {
	return del(ctx, p.conn, p.bind, reader, sel)
}

// Perform a get, binding parameters with the selector and scanning a single
// row into the reader
func (p *conn) Get(ctx context.Context, reader Reader, sel Selector) error {
	return get(ctx, p.conn, p.bind, reader, sel)
}

// Perform a list, binding parameters with the selector and scanning rows
// into the reader
func (p *conn) List(ctx context.Context, reader Reader, sel Selector) error {
	return list(ctx, p.conn, p.bind, reader, sel)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func tx(ctx context.Context, parent pgx.Tx, bind *Bind, fn func(Conn) error) error {
	tx, err := parent.Begin(ctx)
	if err != nil {
		return pgerror(err)
	}
	if err := fn(&conn{tx, bind.Copy()}); err != nil {
		return errors.Join(pgerror(err), tx.Rollback(ctx))
	}
	return pgerror(tx.Commit(ctx))
}

func insert(ctx context.Context, conn pgx.Tx, bind *Bind, reader Reader, writer Writer) error {
	query, err := writer.Insert(bind)
	if err != nil {
		return err
	}
	return exec(ctx, conn, bind, query, reader)
}

func update(ctx context.Context, conn pgx.Tx, bind *Bind, reader Reader, sel Selector, writer Writer) error {
	query, err := sel.Select(bind, Update)
	if err != nil {
		return err
	}
	if writer != nil {
		if err := writer.Update(bind); err != nil {
			return err
		}
	}
	return exec(ctx, conn, bind, query, reader)
}

func del(ctx context.Context, conn pgx.Tx, bind *Bind, reader Reader, sel Selector) error {
	query, err := sel.Select(bind, Delete)
	if err != nil {
		return err
	}
	return exec(ctx, conn, bind, query, reader)
}

func get(ctx context.Context, conn pgx.Tx, bind *Bind, reader Reader, sel Selector) error {
	query, err := sel.Select(bind, Get)
	if err != nil {
		return err
	}
	return exec(ctx, conn, bind, query, reader)
}

func list(ctx context.Context, conn pgx.Tx, bind *Bind, reader Reader, sel Selector) error {
	query, err := sel.Select(bind, List)
	if err != nil {
		return err
	}
	if err := exec(ctx, conn, bind, query, reader); errors.Is(err, ErrNotFound) {
		return nil
	} else {
		return err
	}
}

// exec runs the statement. Without a reader the statement must affect at
// least one row; with a reader it must return at least one row. Otherwise
// ErrNotFound is returned.
func exec(ctx context.Context, conn pgx.Tx, bind *Bind, query string, reader Reader) error {
	if reader == nil {
		tag, err := bind.Exec(ctx, conn, query)
		if err != nil {
			return pgerror(err)
		} else if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	rows, err := bind.Query(ctx, conn, query)
	if err != nil {
		return pgerror(err)
	}
	defer rows.Close()

	var scanned bool
	for rows.Next() {
		if err := reader.Scan(rows); err != nil {
			return pgerror(err)
		}
		scanned = true
	}
	if err := rows.Err(); err != nil {
		return pgerror(err)
	} else if !scanned {
		return ErrNotFound
	}

	// Return success
	return nil
}
