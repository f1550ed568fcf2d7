package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Packages
	kong "github.com/alecthomas/kong"
	pg "github.com/mutablelogic/go-pgqmini"
	config "github.com/mutablelogic/go-pgqmini/pkg/config"
	queue "github.com/mutablelogic/go-pgqmini/pkg/queue"
	server "github.com/mutablelogic/go-server"
	logger "github.com/mutablelogic/go-server/pkg/logger"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	// Debug option
	Debug   bool             `name:"debug" help:"Enable debug logging and statement tracing"`
	Version kong.VersionFlag `name:"version" help:"Print version and exit"`
	Config  string           `name:"config" env:"PGQMINI_CONFIG" help:"YAML configuration file" type:"path"`

	// Postgres options, which override the configuration file
	PG struct {
		Addr     string `name:"addr" env:"PG_ADDR" help:"Database address as host or host:port, overriding host and port"`
		Host     string `name:"host" env:"PG_HOST" help:"Database host"`
		Port     uint16 `name:"port" env:"PG_PORT" help:"Database port"`
		Database string `name:"database" env:"PG_DATABASE" help:"Database name"`
		User     string `name:"user" env:"PG_USER" help:"Database user"`
		Password string `name:"password" env:"PG_PASSWORD" help:"Database password"`
		SSLMode  string `name:"sslmode" env:"PG_SSLMODE" help:"SSL mode"`
	} `embed:"" prefix:"pg."`

	// Queue name
	Queue string `name:"queue" short:"q" env:"PGQMINI_QUEUE" help:"Queue name"`

	// Private fields
	ctx    context.Context
	cancel context.CancelFunc
	log    server.Logger
}

type CLI struct {
	Globals
	MessageCommands
	MaintenanceCommands
	ServerCommands
	VersionCommands
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := new(CLI)
	ctx := kong.Parse(cli,
		kong.Name("pgqmini"),
		kong.Description("PostgreSQL message queue command line interface"),
		kong.Vars{
			"version": VersionJSON(),
		},
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	// Create the logger
	cli.Globals.log = logger.New(os.Stderr, logger.Text, cli.Debug)

	// Create the context and cancel function
	cli.Globals.ctx, cli.Globals.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cli.Globals.cancel()

	// Call the Run() method of the selected parsed command.
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// Configuration returns the configuration file, with the flags and
// environment applied over it
func (g *Globals) Configuration() (*config.Config, error) {
	cfg := config.New()
	if g.Config != "" {
		var err error
		if cfg, err = config.Load(g.Config); err != nil {
			return nil, err
		}
	}
	if g.PG.Host != "" {
		cfg.Host = g.PG.Host
	}
	if g.PG.Port != 0 {
		cfg.Port = g.PG.Port
	}
	if g.PG.Database != "" {
		cfg.Database = g.PG.Database
	}
	if g.PG.User != "" {
		cfg.User = g.PG.User
	}
	if g.PG.Password != "" {
		cfg.Password = g.PG.Password
	}
	if g.PG.SSLMode != "" {
		cfg.SSLMode = g.PG.SSLMode
	}
	if g.Queue != "" {
		cfg.Queue = g.Queue
	}
	return cfg, cfg.Validate()
}

// Open returns a handle on the queue
func (g *Globals) Open() (*queue.Queue, error) {
	cfg, err := g.Configuration()
	if err != nil {
		return nil, err
	}
	return g.open(g.ctx, cfg)
}

func (g *Globals) open(ctx context.Context, cfg *config.Config) (*queue.Queue, error) {
	opts := append(cfg.QueueOpts(), queue.WithLogger(g.log))
	if g.PG.Addr != "" {
		opts = append(opts, queue.WithConnOpts(pg.WithAddr(g.PG.Addr)))
	}
	if g.Debug {
		opts = append(opts, queue.WithConnOpts(pg.WithTrace(g.trace)))
	}
	return queue.Connect(ctx, cfg.Host, cfg.Database, cfg.User, cfg.Password, cfg.Queue, cfg.Port, opts...)
}

func (g *Globals) trace(ctx context.Context, sql string, args any, err error) {
	if err != nil {
		g.log.With("sql", sql, "args", args).Debug(ctx, "statement failed: ", err)
	} else {
		g.log.With("sql", sql, "args", args).Debug(ctx, "statement")
	}
}
