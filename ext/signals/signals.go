// Package signals lets script code wait for OS signals.
//
//	signal_bind    signo  -> rid
//	signal_poll    rid    -> ended (bool)
//	signal_unbind  rid
//
// signal_poll resolves false when the signal arrives and true once the
// stream is unbound, including for polls already waiting at that moment.
package signals

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/middleware"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// Op names.
const (
	OpBind   = "signal_bind"
	OpPoll   = "signal_poll"
	OpUnbind = "signal_unbind"
)

// Stream delivers signals to one poller at a time.
type Stream struct {
	cell   *resource.Cell[<-chan os.Signal]
	cancel *resource.CancelHandle
	stop   func()
}

// NewStream wraps a signal channel. stop runs on Close.
func NewStream(ch <-chan os.Signal, stop func()) *Stream {
	return &Stream{
		cell:   resource.NewCell("signal", ch),
		cancel: resource.NewCancelHandle(),
		stop:   stop,
	}
}

// Notify subscribes to sig and returns a stream for it.
func Notify(sig os.Signal) *Stream {
	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, sig)
	return NewStream(ch, func() { ossignal.Stop(ch) })
}

func (s *Stream) Name() string { return "signal" }

// Close ends every pending poll.
func (s *Stream) Close() {
	s.cancel.Cancel()
	s.cell.Close()
	if s.stop != nil {
		s.stop()
	}
}

// Poll waits for the next signal. It reports ended=true when the stream is
// closed before a signal arrives.
func (s *Stream) Poll(ctx context.Context) (bool, error) {
	cctx, stop := s.cancel.Context(ctx)
	defer stop()

	g, err := s.cell.BorrowMut(cctx)
	if err != nil {
		if s.cancel.Cancelled() {
			return true, nil
		}
		return false, err
	}
	defer g.Release()

	select {
	case _, ok := <-*g.Value():
		return !ok, nil
	case <-cctx.Done():
		if s.cancel.Cancelled() {
			return true, nil
		}
		return false, errors.Cancelled(errors.PhaseHost, context.Cause(cctx))
	}
}

// Extension returns the signal extension.
func Extension() *extension.Extension {
	return extension.New("signals",
		extension.WithMiddleware(middleware.Gate((*permissions.Permissions).CheckSignal)),
		extension.WithOp(OpBind, ops.SyncFunc(bind)),
		extension.WithOp(OpPoll, poll),
		extension.WithOp(OpUnbind, ops.SyncFunc(unbind)),
	)
}

func bind(st *state.State, args ops.Args) (any, error) {
	signo, err := ops.Decode[int](args)
	if err != nil {
		return nil, err
	}
	if signo <= 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "invalid signal number")
	}
	return st.Resources().Add(Notify(syscall.Signal(signo)))
}

func poll(_ context.Context, st *state.State, args ops.Args) ops.Op {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return ops.Fail(err)
	}
	s, err := resource.Get[*Stream](st.Resources(), rid)
	if err != nil {
		return ops.Fail(err)
	}
	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		return s.Poll(ctx)
	})
}

func unbind(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	if _, err := resource.Get[*Stream](st.Resources(), rid); err != nil {
		return nil, err
	}
	return nil, st.Resources().Close(rid)
}
