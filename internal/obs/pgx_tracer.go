package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type (
	ctxSpanKey      struct{}
	ctxBatchSpanKey struct{}
)

// PGXTracer implements pgx.QueryTracer and pgx.BatchTracer to create spans
// for database interactions.
type PGXTracer struct{}

var (
	_ pgx.QueryTracer = PGXTracer{}
	_ pgx.BatchTracer = PGXTracer{}
)

// TraceQueryStart starts a span for the SQL statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query")
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateSQL(data.SQL)),
	)
	if strings.TrimSpace(data.SQL) != "" {
		span.SetAttributes(attribute.String("db.operation", strings.Fields(data.SQL)[0]))
	}
	return context.WithValue(ctx, ctxSpanKey{}, span)
}

// TraceQueryEnd ends the span and records any error.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if span, ok := ctx.Value(ctxSpanKey{}).(trace.Span); ok {
		if data.Err != nil {
			span.RecordError(data.Err)
		}
		span.End()
	}
}

// TraceBatchStart starts a span covering a pipelined batch.
func (PGXTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.batch")
	size := 0
	if data.Batch != nil {
		size = data.Batch.Len()
	}
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.Int("db.batch.size", size),
	)
	return context.WithValue(ctx, ctxBatchSpanKey{}, span)
}

// TraceBatchQuery records each statement of the batch as a span event.
func (PGXTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	span, ok := ctx.Value(ctxBatchSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	span.AddEvent("batch.query", trace.WithAttributes(attribute.String("db.statement", truncateSQL(data.SQL))))
	if data.Err != nil {
		span.RecordError(data.Err)
	}
}

// TraceBatchEnd ends the batch span.
func (PGXTracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	if span, ok := ctx.Value(ctxBatchSpanKey{}).(trace.Span); ok {
		if data.Err != nil {
			span.RecordError(data.Err)
		}
		span.End()
	}
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
