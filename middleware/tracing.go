package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

const tracerName = "github.com/wippyai/op-runtime/middleware"

// Tracing opens a span per call. Async spans end when the future resolves.
// A nil provider uses the global one.
func Tracing(tp trace.TracerProvider) ops.Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return func(name string, next ops.Handler) ops.Handler {
		return func(ctx context.Context, st *state.State, args ops.Args) ops.Op {
			ctx, span := tracer.Start(ctx, "op "+name,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("op.name", name),
					attribute.Int("op.bufs", len(args.Bufs)),
				))

			op := next(ctx, st, args)
			span.SetAttributes(attribute.Bool("op.async", op.IsAsync()))
			return op.Map(func(v any, err error) (any, error) {
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, errors.Class(err))
				}
				span.End()
				return v, err
			})
		}
	}
}
