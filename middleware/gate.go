package middleware

import (
	"context"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/state"
)

// Disable replaces the named ops with handlers that fail as unsupported.
func Disable(names ...string) ops.Middleware {
	disabled := make(map[string]bool, len(names))
	for _, n := range names {
		disabled[n] = true
	}
	return func(name string, next ops.Handler) ops.Handler {
		if !disabled[name] {
			return next
		}
		return func(context.Context, *state.State, ops.Args) ops.Op {
			return ops.Fail(errors.New(errors.PhaseDispatch, errors.KindUnsupported).
				Op(name).
				Detail("op is disabled").
				Build())
		}
	}
}

// Gate checks the session policy before every call of every wrapped op.
func Gate(check func(*permissions.Permissions) error) ops.Middleware {
	return func(name string, next ops.Handler) ops.Handler {
		return func(ctx context.Context, st *state.State, args ops.Args) ops.Op {
			if err := permissions.Check(st, check); err != nil {
				return ops.Fail(err)
			}
			return next(ctx, st, args)
		}
	}
}
