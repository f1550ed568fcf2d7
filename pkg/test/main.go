package test

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Conn holds the options for connecting to the test database. Each call to
// Open returns a new exclusive connection.
type Conn struct {
	sync.Mutex
	opts []pg.Opt
	skip string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// EnvDatabaseURL names a database to test against instead of a container
	EnvDatabaseURL = "TEST_DATABASE_URL"

	// EnvVerbose traces every statement when set
	EnvVerbose = "TEST_VERBOSE"

	startTimeout = 5 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Main runs the tests in a package against either the database named by
// TEST_DATABASE_URL or a PostgreSQL container. When neither is available,
// tests which open a connection are skipped.
func Main(m *testing.M, conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	verbose := os.Getenv(EnvVerbose) != ""

	var container *Container
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		conn.opts = []pg.Opt{pg.WithURL(url)}
		if verbose {
			conn.opts = append(conn.opts, pg.WithTrace(trace))
		}
	} else if c, opts, err := NewPgxContainer(ctx, "pgqmini_"+uuid.NewString()[:8], verbose, trace); err != nil {
		conn.skip = fmt.Sprint("no database available: ", err)
	} else {
		container, conn.opts = c, opts
	}
	cancel()

	// Run the tests
	code := m.Run()

	// Remove the container
	if container != nil {
		if err := container.Close(context.Background()); err != nil {
			log.Println(err)
		}
	}
	os.Exit(code)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Opts returns the connection options, or skips the test when there is no
// database available
func (c *Conn) Opts(t *testing.T) []pg.Opt {
	t.Helper()
	c.Lock()
	defer c.Unlock()
	if c.skip != "" || len(c.opts) == 0 {
		t.Skip(c.skip)
	}
	return append([]pg.Opt(nil), c.opts...)
}

// Open returns a new connection, which is closed when the test completes
func (c *Conn) Open(t *testing.T) pg.SingleConn {
	t.Helper()
	conn, err := pg.Connect(context.Background(), c.Opts(t)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close(context.Background())
	})
	return conn
}

// QueueName returns a queue name which is unique to this run
func QueueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func trace(ctx context.Context, sql string, args any, err error) {
	if err != nil {
		log.Printf("ERROR: %q => %v", sql, err)
	} else {
		log.Printf("SQL: %q %v", sql, args)
	}
}
