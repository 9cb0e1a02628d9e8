package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

// PromiseID correlates an async dispatch with its completion. Zero is never
// issued.
type PromiseID uint32

// Outcome is the immediate answer to a dispatch: a sync result or error,
// or a promise id whose completion is delivered through Poll.
type Outcome struct {
	Value   any
	Err     error
	Promise PromiseID
}

// Pending reports whether the result will arrive as a completion.
func (o Outcome) Pending() bool { return o.Promise != 0 }

// Dispatch resolves name and invokes its handler with exclusive access to
// the call state. Sync handlers complete inline. Async handlers return a
// future that runs on its own goroutine; its result is delivered as a
// Completion carrying the returned promise id.
//
// Handler errors and panics are returned in the Outcome and never affect
// later dispatches.
func (r *Runtime) Dispatch(ctx context.Context, name string, args ops.Args) Outcome {
	h, _, ok := r.registry.Lookup(name)
	if !ok {
		return Outcome{Err: errors.UnknownOp(name)}
	}

	st, release, err := r.shared.Borrow(ctx)
	if err != nil {
		return Outcome{Err: err}
	}
	op := r.invoke(ctx, name, h, st, args)
	release()

	if !op.IsAsync() {
		return Outcome{Value: op.Value(), Err: op.Err()}
	}

	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return Outcome{Err: errors.Cancelled(errors.PhaseDispatch, nil)}
	}
	r.futures.Add(1)
	r.closeMu.Unlock()

	id := PromiseID(r.promises.Add(1))
	if !op.Unref() {
		r.pending.Add(1)
	}
	go r.run(ctx, name, id, op)
	return Outcome{Promise: id}
}

// Call dispatches and waits for the result. Completions of other promises
// that arrive meanwhile are dropped, so Call is only for embedders that do
// not run their own loop.
func (r *Runtime) Call(ctx context.Context, name string, args ops.Args) (any, error) {
	out := r.Dispatch(ctx, name, args)
	if !out.Pending() {
		return out.Value, out.Err
	}
	for {
		c, err := r.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if c.Promise == out.Promise {
			return c.Value, c.Err
		}
		r.log.Debug("dropping unrelated completion", zap.Uint32("promise", uint32(c.Promise)), zap.String("op", c.Op))
	}
}

func (r *Runtime) invoke(ctx context.Context, name string, h ops.Handler, st *state.State, args ops.Args) (op ops.Op) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("op panicked", zap.String("op", name), zap.Any("panic", p))
			op = ops.Fail(panicError(name, p))
		}
	}()
	return h(ctx, st, args)
}

func (r *Runtime) run(ctx context.Context, name string, id PromiseID, op ops.Op) {
	defer r.futures.Done()

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	v, err := r.await(fctx, name, op.Future())
	r.results <- Completion{Promise: id, Op: name, Value: v, Err: err, unref: op.Unref()}
}

func (r *Runtime) await(ctx context.Context, name string, f ops.Future) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("future panicked", zap.String("op", name), zap.Any("panic", p))
			v, err = nil, panicError(name, p)
		}
	}()
	return f(ctx, r.shared)
}

func panicError(name string, p any) error {
	return errors.New(errors.PhaseDispatch, errors.KindUnderlying).
		Op(name).
		Detail("panic: %s", fmt.Sprint(p)).
		Build()
}
