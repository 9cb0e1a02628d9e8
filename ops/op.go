package ops

import (
	"context"

	"github.com/wippyai/op-runtime/state"
)

// Args is the argument payload of a call: a structured, self-describing
// value plus zero or more raw byte buffers for bulk data.
type Args struct {
	Value any
	Bufs  [][]byte
}

// Buf returns the i-th raw buffer.
func (a Args) Buf(i int) ([]byte, bool) {
	if i < 0 || i >= len(a.Bufs) {
		return nil, false
	}
	return a.Bufs[i], true
}

// Future is the suspended part of an async op. It runs off the dispatch
// goroutine and reaches the call state only through the Shared borrow.
type Future func(ctx context.Context, sh *state.Shared) (any, error)

// Op is what a handler returns: either an immediate result or a future.
type Op struct {
	value  any
	err    error
	future Future
	unref  bool
}

// Sync returns an immediate result.
func Sync(v any, err error) Op {
	return Op{value: v, err: err}
}

// Fail returns an immediate error.
func Fail(err error) Op {
	return Op{err: err}
}

// Async returns a future whose result is delivered under a promise id.
func Async(f Future) Op {
	return Op{future: f}
}

// AsyncUnref is like Async but the pending future does not keep an event
// loop alive on its own.
func AsyncUnref(f Future) Op {
	return Op{future: f, unref: true}
}

// IsAsync reports whether the op carries a future.
func (o Op) IsAsync() bool { return o.future != nil }

// Unref reports whether a pending future should not keep the loop alive.
func (o Op) Unref() bool { return o.unref }

// Value returns the immediate result of a sync op.
func (o Op) Value() any { return o.value }

// Err returns the immediate error of a sync op.
func (o Op) Err() error { return o.err }

// Future returns the future of an async op.
func (o Op) Future() Future { return o.future }

// Map transforms the result. For sync ops fn runs immediately; for async
// ops it runs when the future resolves. The calling convention is kept.
func (o Op) Map(fn func(any, error) (any, error)) Op {
	if o.future == nil {
		o.value, o.err = fn(o.value, o.err)
		return o
	}
	inner := o.future
	o.future = func(ctx context.Context, sh *state.Shared) (any, error) {
		return fn(inner(ctx, sh))
	}
	return o
}

// Handler is the native implementation of an op. It runs on the dispatch
// goroutine with exclusive access to the call state.
type Handler func(ctx context.Context, st *state.State, args Args) Op

// SyncFunc adapts a function that completes inline.
func SyncFunc(fn func(st *state.State, args Args) (any, error)) Handler {
	return func(_ context.Context, st *state.State, args Args) Op {
		return Sync(fn(st, args))
	}
}

// AsyncFunc adapts a function that always completes through a future.
func AsyncFunc(fn func(ctx context.Context, sh *state.Shared, args Args) (any, error)) Handler {
	return func(_ context.Context, _ *state.State, args Args) Op {
		return Async(func(ctx context.Context, sh *state.Shared) (any, error) {
			return fn(ctx, sh, args)
		})
	}
}

// Decl pairs an op name with its handler.
type Decl struct {
	Handler Handler
	Name    string
}
