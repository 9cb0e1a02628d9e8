package runtime

import (
	"context"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
)

// Completion is the resolved result of an async dispatch.
type Completion struct {
	Value   any
	Err     error
	Op      string
	Promise PromiseID
	unref   bool
}

// pump moves completions from futures into the single-consumer queue.
// It is the queue's only producer.
func (r *Runtime) pump() {
	defer close(r.pumpDone)

	var bo iox.Backoff
	for c := range r.results {
		for {
			err := r.queue.Enqueue(&c)
			if err == nil {
				break
			}
			if r.ctx.Err() != nil {
				r.log.Debug("dropping completion after close",
					zap.Uint32("promise", uint32(c.Promise)),
					zap.String("op", c.Op))
				break
			}
			bo.Wait()
		}
		bo.Reset()

		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
}

// TryPoll returns the next completion without blocking. It returns
// iox.ErrWouldBlock when none is ready.
//
// TryPoll, Poll and Run must be called from a single goroutine.
func (r *Runtime) TryPoll() (Completion, error) {
	c, err := r.queue.Dequeue()
	if err != nil {
		return Completion{}, err
	}
	if !c.unref {
		r.pending.Add(-1)
	}
	return c, nil
}

// Poll waits for the next completion.
func (r *Runtime) Poll(ctx context.Context) (Completion, error) {
	for {
		c, err := r.TryPoll()
		if err == nil {
			return c, nil
		}
		if !iox.IsWouldBlock(err) {
			return Completion{}, err
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return Completion{}, errors.Cancelled(errors.PhaseDispatch, context.Cause(ctx))
		case <-r.pumpDone:
			if c, err := r.TryPoll(); err == nil {
				return c, nil
			}
			return Completion{}, errors.Cancelled(errors.PhaseDispatch, nil)
		}
	}
}

// Pending returns the number of async ops that keep the loop alive and
// whose completion has not been polled yet.
func (r *Runtime) Pending() int {
	return int(r.pending.Load())
}

// Run polls completions and passes them to fn until no referenced async op
// is pending or ctx ends.
func (r *Runtime) Run(ctx context.Context, fn func(Completion)) error {
	for r.Pending() > 0 {
		c, err := r.Poll(ctx)
		if err != nil {
			return err
		}
		fn(c)
	}
	return nil
}
