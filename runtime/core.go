package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// DefaultReadSize is the buffer size of a read op without an explicit size.
const DefaultReadSize = 64 * 1024

// stdio exposes one of the process streams as a resource.
type stdio struct {
	r    io.Reader
	w    io.Writer
	name string
	mu   sync.Mutex
}

func (s *stdio) Name() string { return s.name }

func (s *stdio) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, errors.Unsupported(errors.PhaseHost, s.name+" is not readable")
	}
	return s.r.Read(p)
}

func (s *stdio) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, errors.Unsupported(errors.PhaseHost, s.name+" is not writable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func registerStdio(t *resource.Table, in io.Reader, out, errOut io.Writer) error {
	for _, s := range []*stdio{
		{name: "stdin", r: in},
		{name: "stdout", w: out},
		{name: "stderr", w: errOut},
	} {
		if _, err := t.Add(s); err != nil {
			return err
		}
	}
	return nil
}

type readArgs struct {
	RID  resource.ID `json:"rid"`
	Size int         `json:"size"`
}

type printArgs struct {
	Msg   string `json:"msg"`
	IsErr bool   `json:"is_err"`
}

// Op names of the core extension.
const (
	OpClose     = "close"
	OpResources = "resources"
	OpPrint     = "print"
	OpRead      = "read"
	OpWrite     = "write"
)

func coreExtension(stdout, stderr io.Writer) *extension.Extension {
	var printMu sync.Mutex

	return extension.New("core",
		extension.WithOp(OpClose, ops.SyncFunc(func(st *state.State, args ops.Args) (any, error) {
			rid, err := ops.Decode[resource.ID](args)
			if err != nil {
				return nil, err
			}
			return nil, st.Resources().Close(rid)
		})),

		extension.WithOp(OpResources, ops.SyncFunc(func(st *state.State, _ ops.Args) (any, error) {
			return st.Resources().Entries(), nil
		})),

		extension.WithOp(OpPrint, ops.SyncFunc(func(_ *state.State, args ops.Args) (any, error) {
			a, err := ops.Decode[printArgs](args)
			if err != nil {
				return nil, err
			}
			w := stdout
			if a.IsErr {
				w = stderr
			}
			printMu.Lock()
			defer printMu.Unlock()
			if _, err := fmt.Fprint(w, a.Msg); err != nil {
				return nil, errors.Underlying(errors.PhaseHost, err)
			}
			return nil, nil
		})),

		extension.WithOp(OpRead, func(_ context.Context, st *state.State, args ops.Args) ops.Op {
			a, err := ops.Decode[readArgs](args)
			if err != nil {
				return ops.Fail(err)
			}
			r, err := resource.Get[io.Reader](st.Resources(), a.RID)
			if err != nil {
				return ops.Fail(err)
			}
			size := a.Size
			if size <= 0 {
				size = DefaultReadSize
			}
			return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
				return readOnce(r, size)
			})
		}),

		extension.WithOp(OpWrite, func(_ context.Context, st *state.State, args ops.Args) ops.Op {
			rid, err := ops.Decode[resource.ID](args)
			if err != nil {
				return ops.Fail(err)
			}
			w, err := resource.Get[io.Writer](st.Resources(), rid)
			if err != nil {
				return ops.Fail(err)
			}
			data, _ := args.Buf(0)
			return ops.Async(func(context.Context, *state.Shared) (any, error) {
				n, err := w.Write(data)
				if err != nil {
					return n, errors.Underlying(errors.PhaseHost, err)
				}
				return n, nil
			})
		}),
	)
}

// readOnce reads up to size bytes. End of stream is a nil result, not an error.
func readOnce(r io.Reader, size int) (any, error) {
	buf := make([]byte, size)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		if _, ok := errors.KindOf(err); ok {
			return nil, err
		}
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	return []byte{}, nil
}
