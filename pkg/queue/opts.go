package queue

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	server "github.com/mutablelogic/go-server"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	ref "github.com/mutablelogic/go-server/pkg/ref"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for queue handle and worker pool configuration.
type Opt func(*opts) error

type opts struct {
	log       server.Logger
	tracer    trace.Tracer
	conn      []pg.Opt
	provision bool
	strict    bool

	// Worker pool
	workers      int
	timeout      time.Duration
	period       time.Duration
	requeueAfter time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultPeriod is how often the worker pool looks for stuck messages
	DefaultPeriod = time.Minute
)

var (
	ErrInvalidWorkers = errors.New("workers must be >= 1")
	ErrInvalidPeriod  = errors.New("period must be >= 1ms")
)

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithLogger sets the logger for provisioning and operation failures.
// Defaults to the logger in the context, or a text logger on stderr.
func WithLogger(log server.Logger) Opt {
	return func(o *opts) error {
		if log == nil {
			return pg.ErrBadParameter.With("logger is nil")
		}
		o.log = log
		return nil
	}
}

// WithTracer emits a span for each queue operation
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

// WithConnOpts appends connection options used by Connect
func WithConnOpts(opt ...pg.Opt) Opt {
	return func(o *opts) error {
		o.conn = append(o.conn, opt...)
		return nil
	}
}

// WithProvisioning enables or disables creating the queue objects when a
// handle is created. Enabled by default.
func WithProvisioning(v bool) Opt {
	return func(o *opts) error {
		o.provision = v
		return nil
	}
}

// WithStrictProvisioning stops provisioning at the first failed statement
// and returns ErrProvisioning. By default a failed statement is logged and
// provisioning continues with the next one.
func WithStrictProvisioning(v bool) Opt {
	return func(o *opts) error {
		o.strict = v
		return nil
	}
}

// WithWorkers sets the number of handles a worker pool opens, each with
// its own connection. Returns ErrInvalidWorkers if n < 1.
func WithWorkers(n int) Opt {
	return func(o *opts) error {
		if n < 1 {
			return ErrInvalidWorkers
		}
		o.workers = n
		return nil
	}
}

// WithTimeout sets a deadline for each call of the handler in a worker
// pool. Zero means no deadline.
func WithTimeout(d time.Duration) Opt {
	return func(o *opts) error {
		if d < 0 {
			return pg.ErrBadParameter.With("negative timeout")
		}
		o.timeout = d
		return nil
	}
}

// WithRequeue makes the worker pool return messages to pending when they
// have been processing for longer than d, checking every period. Returns
// ErrInvalidPeriod if period < 1ms.
func WithRequeue(d, period time.Duration) Opt {
	return func(o *opts) error {
		if d <= 0 {
			return pg.ErrBadParameter.With("requeue duration must be positive")
		}
		if period < time.Millisecond {
			return ErrInvalidPeriod
		}
		o.requeueAfter = d
		o.period = period
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		provision: true,
		workers:   runtime.NumCPU(),
		period:    DefaultPeriod,
	}

	// Apply options
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return opts{}, err
		}
	}

	// Return success
	return o, nil
}

// logger returns the configured logger, falling back to the one in the
// context and then to a text logger
func (o *opts) logger(ctx context.Context) server.Logger {
	if o.log != nil {
		return o.log
	}
	if log := ref.Log(ctx); log != nil {
		return log
	}
	return logger.New(os.Stderr, logger.Text, false)
}
