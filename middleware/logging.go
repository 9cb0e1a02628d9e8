package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

// Logging logs every call at debug level and failures at warn level.
func Logging(log *zap.Logger) ops.Middleware {
	return func(name string, next ops.Handler) ops.Handler {
		l := log.With(zap.String("op", name))
		return func(ctx context.Context, st *state.State, args ops.Args) ops.Op {
			start := time.Now()
			op := next(ctx, st, args)
			async := op.IsAsync()
			return op.Map(func(v any, err error) (any, error) {
				fields := []zap.Field{
					zap.Bool("async", async),
					zap.Duration("elapsed", time.Since(start)),
				}
				if err != nil {
					l.Warn("op failed", append(fields, zap.String("class", errors.Class(err)), zap.Error(err))...)
				} else {
					l.Debug("op completed", fields...)
				}
				return v, err
			})
		}
	}
}
