package resource

import (
	"context"
	"sync"

	"github.com/wippyai/op-runtime/errors"
)

// CancelHandle is a cooperative cancellation signal tied to a resource's
// lifetime. Cancelling it is idempotent and wakes every operation waiting
// on Done.
type CancelHandle struct {
	done chan struct{}
	once sync.Once
}

// NewCancelHandle creates an untriggered handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel triggers the handle.
func (h *CancelHandle) Cancel() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed once the handle is triggered.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether Cancel was called.
func (h *CancelHandle) Cancelled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Context derives a context that ends when parent ends or h is triggered.
// The returned stop function must be called to release the watcher.
func (h *CancelHandle) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-h.done:
			cancel(errors.ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// OrCancel runs wait under a context tied to h. If h is triggered before
// wait returns, the result is discarded and a cancelled error is returned.
// wait must return promptly once its context ends.
func OrCancel[T any](ctx context.Context, h *CancelHandle, wait func(context.Context) (T, error)) (T, error) {
	cctx, stop := h.Context(ctx)
	defer stop()

	v, err := wait(cctx)
	if h.Cancelled() {
		var zero T
		return zero, errors.Cancelled(errors.PhaseHost, err)
	}
	return v, err
}
