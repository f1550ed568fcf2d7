package pg

import (
	"context"
	"errors"
	"testing"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	assert "github.com/stretchr/testify/assert"
	noop "go.opentelemetry.io/otel/trace/noop"
)

func Test_Tracer_001(t *testing.T) {
	assert := assert.New(t)

	t.Run("TraceFn", func(t *testing.T) {
		var gotSQL string
		var gotArgs any
		var gotErr error
		tracer := NewTracer(func(_ context.Context, sql string, args any, err error) {
			gotSQL, gotArgs, gotErr = sql, args, err
		})

		args := pgx.NamedArgs{"id": 1}
		ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: " SELECT 1 ", Args: []any{args}})
		tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("failed")})
		assert.Equal("SELECT 1", gotSQL)
		assert.Equal(args, gotArgs)
		assert.EqualError(gotErr, "failed")
	})

	t.Run("OTEL", func(t *testing.T) {
		tracer := NewOTELTracer(noop.NewTracerProvider().Tracer("test"))
		ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
		assert.NotPanics(func() {
			tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
		})
	})

	t.Run("NoStart", func(t *testing.T) {
		tracer := NewTracer(func(context.Context, string, any, error) {
			assert.Fail("unexpected trace")
		})
		tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	})

	t.Run("SpanName", func(t *testing.T) {
		assert.Equal(defaultSpanName, spanName(nil))
		assert.Equal(defaultSpanName, spanName([]any{1, 2}))
		assert.Equal("pgqmini.queue.claim", spanName([]any{pgx.NamedArgs{TraceSpanNameArg: "pgqmini.queue.claim"}}))
	})
}
