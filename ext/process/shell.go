package process

import (
	"bytes"
	"context"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

type shellArgs struct {
	Env      map[string]string `json:"env"`
	Script   string            `json:"script"`
	Dir      string            `json:"dir"`
	Args     []string          `json:"args"`
	ClearEnv bool              `json:"clearEnv"`
}

// shell runs a POSIX shell script in an embedded interpreter. Builtins run
// in process; other commands are executed as children.
func shell(_ context.Context, _ *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[shellArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	prog, err := syntax.NewParser().Parse(strings.NewReader(a.Script), "script")
	if err != nil {
		return ops.Fail(errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "parse script"))
	}

	var env []string
	if !a.ClearEnv {
		env = os.Environ()
	}
	for k, v := range a.Env {
		env = append(env, k+"="+v)
	}
	stdin, _ := args.Buf(0)

	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		var stdout, stderr bytes.Buffer
		opts := []interp.RunnerOption{
			interp.Env(expand.ListEnviron(env...)),
			interp.StdIO(bytes.NewReader(stdin), &stdout, &stderr),
		}
		if a.Dir != "" {
			opts = append(opts, interp.Dir(a.Dir))
		}
		if len(a.Args) > 0 {
			opts = append(opts, interp.Params(append([]string{"--"}, a.Args...)...))
		}
		runner, err := interp.New(opts...)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}

		res := Result{Status: Status{Success: true}}
		if err := runner.Run(ctx, prog); err != nil {
			var exit interp.ExitStatus
			switch {
			case errors.As(err, &exit):
				res.Status = Status{Code: int(exit)}
			case ctx.Err() != nil:
				return nil, errors.Cancelled(errors.PhaseHost, err)
			default:
				return nil, errors.Underlying(errors.PhaseHost, err)
			}
		}
		res.Stdout = stdout.Bytes()
		res.Stderr = stderr.Bytes()
		return res, nil
	})
}
