package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	// Packages
	queue "github.com/mutablelogic/go-pgqmini/pkg/queue"
	metrics "github.com/mutablelogic/go-pgqmini/pkg/queue/metrics"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	version "github.com/mutablelogic/go-pgqmini/pkg/version"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ServerCommands struct {
	RunServer RunCommand     `cmd:"" name:"run" help:"Run a worker pool which prints messages." group:"SERVER"`
	Metrics   MetricsCommand `cmd:"" name:"metrics" help:"Serve prometheus metrics." group:"SERVER"`
}

type RunCommand struct {
	Workers      int           `name:"workers" help:"Number of consumers, each with its own connection"`
	RequeueAfter time.Duration `name:"requeue-after" help:"Requeue messages processing for longer than this"`
	Timeout      time.Duration `name:"timeout" help:"Deadline for processing each message"`
	Metrics      string        `name:"metrics" help:"Serve prometheus metrics on this address"`
	TLS          TLSFlags      `embed:"" prefix:"tls."`
}

type MetricsCommand struct {
	Addr string   `name:"addr" help:"HTTP listen address" default:":9090"`
	TLS  TLSFlags `embed:"" prefix:"tls."`
}

type TLSFlags struct {
	ServerName string `name:"name" help:"TLS server name"`
	CertFile   string `name:"cert" help:"TLS certificate file"`
	KeyFile    string `name:"key" help:"TLS key file"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunCommand) Run(ctx *Globals) error {
	cfg, err := ctx.Configuration()
	if err != nil {
		return err
	}
	if cmd.Workers > 0 {
		cfg.Workers = cmd.Workers
	}
	if cmd.RequeueAfter > 0 {
		cfg.RequeueAfter = cmd.RequeueAfter
	}
	if cmd.Metrics != "" {
		cfg.Metrics = cmd.Metrics
	}

	// Create the pool
	opts := cfg.QueueOpts()
	if cmd.Timeout > 0 {
		opts = append(opts, queue.WithTimeout(cmd.Timeout))
	}
	pool, err := queue.NewWorkerPool(func(parent context.Context) (*queue.Queue, error) {
		return ctx.open(parent, cfg)
	}, func(_ context.Context, msg *schema.Message) error {
		fmt.Printf("%d\t%s\n", msg.Id, msg.Payload)
		return nil
	}, opts...)
	if err != nil {
		return err
	}

	// Run the pool and the metrics server concurrently
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result error
	ctx.log.With("version", version.Version(), "queue", cfg.Queue, "workers", pool.Workers()).Print(ctx.ctx, version.ExecName(), " running")

	if cfg.Metrics != "" {
		q, err := ctx.open(ctx.ctx, cfg)
		if err != nil {
			return err
		}
		defer q.Close(context.Background())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveMetrics(ctx, cfg.Metrics, cmd.TLS, q); err != nil {
				mu.Lock()
				result = errors.Join(result, fmt.Errorf("metrics error: %w", err))
				mu.Unlock()
				ctx.cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pool.Run(ctx.ctx); err != nil {
			mu.Lock()
			result = errors.Join(result, fmt.Errorf("queue error: %w", err))
			mu.Unlock()
		}
		ctx.cancel()
	}()

	// Wait for both to finish
	wg.Wait()

	// Terminated message
	if result == nil {
		ctx.log.Print(ctx.ctx, version.ExecName(), " terminated")
	}

	// Return any error
	return result
}

func (cmd *MetricsCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	return serveMetrics(ctx, cmd.Addr, cmd.TLS, q)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// serveMetrics serves /metrics for the queue until the context is cancelled
func serveMetrics(ctx *Globals, addr string, flags TLSFlags, source metrics.Source) error {
	router := http.NewServeMux()
	if err := metrics.RegisterHandler(router, "", metrics.NewCollector(source)); err != nil {
		return err
	}

	// Create a TLS config
	var tlsconfig *tls.Config
	if flags.CertFile != "" || flags.KeyFile != "" {
		var err error
		tlsconfig, err = httpserver.TLSConfig(flags.ServerName, true, flags.CertFile, flags.KeyFile)
		if err != nil {
			return err
		}
	}

	// Create a HTTP server
	server, err := httpserver.New(addr, router, tlsconfig)
	if err != nil {
		return err
	}

	// Run until the context is cancelled
	ctx.log.With("addr", addr).Print(ctx.ctx, "serving metrics on /metrics")
	if err := server.Run(ctx.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
