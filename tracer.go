package pg

import (
	"context"
	"strings"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	trace "go.opentelemetry.io/otel/trace"
)

//////////////////////////////////////////////////////////////////////////////
// TYPES

// tracer implements pgx.QueryTracer. It is safe for concurrent use.
type tracer struct {
	TraceFn
	otel trace.Tracer
}

// queryData holds per-statement tracing data stored in the context
type queryData struct {
	span trace.Span
	sql  string
	args []any
}

type ctxKey struct{}

// TraceFn is called when a statement completes, with the execution
// context, the SQL, the arguments and any error
type TraceFn func(context.Context, string, any, error)

// Ensure interfaces are satisfied
var _ pgx.QueryTracer = (*tracer)(nil)

//////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// TraceSpanNameArg is the bind var which names the OTEL span for a statement
	TraceSpanNameArg = "otelspan"
	defaultSpanName  = "pgqmini.query"
)

//////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewTracer creates a statement tracer which calls fn
func NewTracer(fn TraceFn) *tracer {
	return &tracer{TraceFn: fn}
}

// NewOTELTracer creates a statement tracer which emits a client span for
// each statement
func NewOTELTracer(t trace.Tracer) *tracer {
	return &tracer{otel: t}
}

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (t *tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qd := &queryData{
		sql:  data.SQL,
		args: data.Args,
	}
	if t.otel != nil {
		ctx, qd.span = t.otel.Start(ctx, spanName(qd.args),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				attribute.String("db.statement", data.SQL),
			),
		)
	}
	return context.WithValue(ctx, ctxKey{}, qd)
}

func (t *tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qd, ok := ctx.Value(ctxKey{}).(*queryData)
	if !ok {
		return
	}
	if qd.span != nil {
		if data.Err != nil {
			qd.span.RecordError(data.Err)
			qd.span.SetStatus(codes.Error, data.Err.Error())
		} else {
			qd.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
		}
		qd.span.End()
	}
	if t.TraceFn != nil {
		t.TraceFn(ctx, strings.TrimSpace(qd.sql), args(qd.args), data.Err)
	}
}

//////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// spanName returns the span name set in the named arguments, or the default
func spanName(values []any) string {
	if named, ok := args(values).(pgx.NamedArgs); ok {
		if s, ok := named[TraceSpanNameArg].(string); ok && s != "" {
			return s
		}
	}
	return defaultSpanName
}

func args(args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		return args
	}
}
