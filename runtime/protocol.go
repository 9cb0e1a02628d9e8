package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
)

// Request is one line of the JSON-lines protocol.
type Request struct {
	Args any      `json:"args,omitempty"`
	Op   string   `json:"op"`
	Bufs [][]byte `json:"bufs,omitempty"`
	ID   uint64   `json:"id"`
}

// Response answers a request or resolves a promise. Byte results are
// carried in Bufs.
type Response struct {
	Ok      any       `json:"ok,omitempty"`
	Err     string    `json:"err,omitempty"`
	Class   string    `json:"class,omitempty"`
	Bufs    [][]byte  `json:"bufs,omitempty"`
	ID      uint64    `json:"id,omitempty"`
	Promise PromiseID `json:"promise,omitempty"`
	Done    bool      `json:"done,omitempty"`
}

// Serve reads requests from in and writes responses to out, one JSON
// document per line. A sync request is answered with {"id","ok"|"err"}; an
// async one with {"id","promise"} followed later by {"promise","done",...}.
// Serve returns after in is exhausted and every pending promise resolved.
func (r *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	var mu sync.Mutex
	emit := func(resp Response) {
		if err := enc.Encode(resp); err != nil {
			r.log.Warn("write response", zap.Error(err))
		}
	}
	write := func(resp Response) {
		mu.Lock()
		defer mu.Unlock()
		emit(resp)
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()

	var (
		inputDone = make(chan struct{})
		pollErr   = make(chan error, 1)
	)
	go func() {
		pollErr <- r.servePoll(pollCtx, inputDone, write)
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			write(Response{Err: "invalid request: " + err.Error(), Class: errors.ClassTypeError})
			continue
		}

		// The promise line must precede its completion, so completions are
		// held off until the dispatch is answered.
		mu.Lock()
		outcome := r.Dispatch(ctx, req.Op, ops.Args{Value: req.Args, Bufs: req.Bufs})
		if outcome.Pending() {
			emit(Response{ID: req.ID, Promise: outcome.Promise})
		} else {
			emit(encodeResult(Response{ID: req.ID, Done: true}, outcome.Value, outcome.Err))
		}
		mu.Unlock()
	}
	close(inputDone)

	scanErr := scanner.Err()
	if err := <-pollErr; err != nil {
		return err
	}
	if scanErr != nil {
		return errors.Underlying(errors.PhaseDispatch, scanErr)
	}
	return nil
}

// servePoll writes completions until input has ended and nothing is pending.
func (r *Runtime) servePoll(ctx context.Context, inputDone <-chan struct{}, write func(Response)) error {
	for {
		select {
		case <-inputDone:
			return r.Run(ctx, func(c Completion) {
				write(encodeResult(Response{Promise: c.Promise, Done: true}, c.Value, c.Err))
			})
		default:
		}

		pctx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-inputDone:
				cancel()
			case <-pctx.Done():
			}
		}()
		c, err := r.Poll(pctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil || r.ctx.Err() != nil {
				return err
			}
			continue
		}
		write(encodeResult(Response{Promise: c.Promise, Done: true}, c.Value, c.Err))
	}
}

func encodeResult(resp Response, v any, err error) Response {
	if err != nil {
		resp.Err = err.Error()
		resp.Class = errors.Class(err)
		return resp
	}
	if b, ok := v.([]byte); ok {
		resp.Bufs = [][]byte{b}
		return resp
	}
	resp.Ok = v
	return resp
}
