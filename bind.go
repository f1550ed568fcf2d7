package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	types "github.com/mutablelogic/go-pgqmini/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Bind holds the variables for a statement. Vars are substituted into the
// statement text with ${key}, and are also passed to the store as named
// arguments (@key), so identifiers go through substitution and values go
// through parameter binding.
type Bind struct {
	sync.RWMutex
	vars pgx.NamedArgs
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewBind creates a new Bind object with the given name/value pairs.
// Returns nil if the number of arguments is not even, or a key is not a
// non-empty string.
func NewBind(pairs ...any) *Bind {
	vars, ok := pairsToArgs(make(pgx.NamedArgs, len(pairs)>>1), pairs)
	if !ok {
		return nil
	}
	return &Bind{vars: vars}
}

// Copy creates a copy of the bind object with additional name/value pairs.
func (bind *Bind) Copy(pairs ...any) *Bind {
	bind.RLock()
	vars := make(pgx.NamedArgs, len(bind.vars)+(len(pairs)>>1))
	maps.Copy(vars, bind.vars)
	bind.RUnlock()

	if vars, ok := pairsToArgs(vars, pairs); !ok {
		return nil
	} else {
		return &Bind{vars: vars}
	}
}

// Return a new bind object with one or more sets of queries set as vars
func (bind *Bind) withQueries(queries ...*Queries) *Bind {
	if len(queries) == 0 {
		return bind
	}
	result := bind.Copy()
	for _, q := range queries {
		for _, key := range q.Keys() {
			result.vars[key] = q.Get(key)
		}
	}
	return result
}

///////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (bind *Bind) MarshalJSON() ([]byte, error) {
	bind.RLock()
	defer bind.RUnlock()
	return json.Marshal(bind.vars)
}

func (bind *Bind) String() string {
	data, err := json.MarshalIndent(bind, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Set sets a bind var and returns the parameter name.
func (bind *Bind) Set(key string, value any) string {
	bind.Lock()
	defer bind.Unlock()

	if key == "" {
		return ""
	}
	bind.vars[key] = value
	return "@" + key
}

// Get returns a bind var by key.
func (bind *Bind) Get(key string) any {
	bind.RLock()
	defer bind.RUnlock()
	return bind.vars[key]
}

// Has returns true if there is a bind var with the given key.
func (bind *Bind) Has(key string) bool {
	bind.RLock()
	defer bind.RUnlock()

	_, ok := bind.vars[key]
	return ok
}

// Del deletes a bind var.
func (bind *Bind) Del(key string) {
	bind.Lock()
	defer bind.Unlock()
	delete(bind.vars, key)
}

// Replace returns a query string with ${subtitution} replaced by the values:
//   - ${key} => value
//   - ${'key'} => 'value'
//   - ${"key"} => "value"
//   - $1 => $1
//   - $$ => $$
func (bind *Bind) Replace(query string) string {
	bind.RLock()
	defer bind.RUnlock()
	return replace(query, bind.vars)
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - QUERY

// QueryRow queries a single row and returns the result.
func (bind *Bind) QueryRow(ctx context.Context, conn pgx.Tx, query string) pgx.Row {
	bind.RLock()
	defer bind.RUnlock()
	return conn.QueryRow(ctx, replace(query, bind.vars), bind.vars)
}

// Query a set of rows and return the result
func (bind *Bind) Query(ctx context.Context, conn pgx.Tx, query string) (pgx.Rows, error) {
	bind.RLock()
	defer bind.RUnlock()
	return conn.Query(ctx, replace(query, bind.vars), bind.vars)
}

// Exec executes a query and returns the command tag
func (bind *Bind) Exec(ctx context.Context, conn pgx.Tx, query string) (pgconn.CommandTag, error) {
	bind.RLock()
	defer bind.RUnlock()
	return conn.Exec(ctx, replace(query, bind.vars), bind.vars)
}

// Queue a query for bulk operations. When reader is nil, the statement
// is expected to affect exactly one row.
func (bind *Bind) queue(batch *pgx.Batch, query string, reader Reader) {
	bind.RLock()
	defer bind.RUnlock()
	queued := batch.Queue(replace(query, bind.vars), bind.vars)
	if reader != nil {
		queued.QueryRow(func(row pgx.Row) error {
			return reader.Scan(row)
		})
	} else {
		queued.Exec(func(tag pgconn.CommandTag) error {
			if tag.RowsAffected() != 1 {
				return ErrNotFound.Withf("%v", tag)
			}
			return nil
		})
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func pairsToArgs(vars pgx.NamedArgs, pairs []any) (pgx.NamedArgs, bool) {
	if len(pairs)%2 != 0 {
		return nil, false
	}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok || key == "" {
			return nil, false
		}
		vars[key] = pairs[i+1]
	}
	return vars, true
}

func replace(query string, vars pgx.NamedArgs) string {
	fetch := func(key string) string {
		return fmt.Sprint(vars[key])
	}
	return os.Expand(query, func(key string) string {
		switch {
		case key == "$": // $$ => $$
			return "$$"
		case types.IsNumeric(key): // $1 => $1
			return "$" + key
		case types.IsSingleQuoted(key): // ${'key'} => 'value'
			key := strings.Trim(key, "'")
			if v, ok := vars[key].([]string); ok {
				result := make([]string, len(v))
				for i, s := range v {
					result[i] = types.Quote(s)
				}
				return strings.Join(result, ",")
			}
			return types.Quote(fetch(key))
		case types.IsDoubleQuoted(key): // ${"key"} => "value"
			return types.DoubleQuote(fetch(strings.Trim(key, `"`)))
		default: // ${key} => value
			return fetch(key)
		}
	})
}
