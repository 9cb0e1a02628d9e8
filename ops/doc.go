// Package ops defines the op calling convention, the op registry and
// registration-time middleware.
//
// An op is a named handler:
//
//	echo := ops.SyncFunc(func(_ *state.State, args ops.Args) (any, error) {
//	    return args.Value, nil
//	})
//
// Handlers return an Op which is either an immediate result (Sync) or a
// Future that completes later (Async). Futures get a state.Shared and must
// release every borrow before waiting.
//
// Ops are registered into a Registry until it is sealed:
//
//	reg := ops.NewRegistry(ops.CollisionError)
//	reg.Register("echo", echo)
//	reg.Seal()
//
// Middleware wraps handlers as they are registered:
//
//	r := ops.Wrap(reg, func(name string, next ops.Handler) ops.Handler {
//	    return func(ctx context.Context, st *state.State, args ops.Args) ops.Op {
//	        // pre
//	        return next(ctx, st, args).Map(func(v any, err error) (any, error) {
//	            // post, after the future resolves for async ops
//	            return v, err
//	        })
//	    }
//	})
//
// Decode converts structured arguments into typed structs using json tags.
package ops
