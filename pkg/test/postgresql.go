package test

import (
	"context"
	"errors"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	pgxContainer = "postgres:17-bookworm"
	pgxPort      = "5432/tcp"
	pgxUser      = "postgres"
	pgxPassword  = "password"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPgxContainer creates a new PostgreSQL container and returns the
// connection options for it, once the server accepts connections.
func NewPgxContainer(ctx context.Context, name string, verbose bool, tracer pg.TraceFn) (*Container, []pg.Opt, error) {
	container, err := NewContainer(ctx, name, pgxContainer,
		OptPostgres(pgxUser, pgxPassword, name), // User, Password, Database
		OptPostgresSetting("max_connections", "200"),
	)
	if err != nil {
		return nil, nil, err
	}

	host, _ := container.GetEnv("POSTGRES_HOST")
	port, err := container.GetPort(pgxPort)
	if err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	}

	opts := []pg.Opt{
		pg.WithCredentials(pgxUser, pgxPassword),
		pg.WithDatabase(name),
		pg.WithHostPort(host, port),
		pg.WithSSLMode("disable"),
	}
	if verbose && tracer != nil {
		opts = append(opts, pg.WithTrace(tracer))
	}

	// Wait for the server to accept connections
	if err := container.Retry(func() error {
		conn, err := pg.Connect(ctx, opts...)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx)
	}); err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	}

	// Return success
	return container, opts, nil
}
