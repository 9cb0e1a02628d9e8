package plugin

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

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
	OpOpen    = "plugin_open"
	OpCall    = "plugin_call"
	OpExports = "plugin_exports"
	OpValue   = "plugin_value"
)

type openArgs struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type callArgs struct {
	Fn   string      `json:"fn"`
	Args []int64     `json:"args"`
	RID  resource.ID `json:"rid"`
}

// loader is the per-session plugin configuration.
type loader struct {
	cache wazero.CompilationCache
	cfg   Config
}

// Extension returns the plugin extension. Every op requires the plugin
// capability.
func Extension(cfg Config) *extension.Extension {
	return extension.New("plugin",
		extension.WithState(func(st *state.State) error {
			state.Put(st, &loader{cfg: cfg, cache: wazero.NewCompilationCache()})
			return nil
		}),
		extension.WithMiddleware(middleware.Gate((*permissions.Permissions).CheckPlugin)),
		extension.WithOp(OpOpen, open),
		extension.WithOp(OpCall, call),
		extension.WithOp(OpExports, ops.SyncFunc(exports)),
		extension.WithOp(OpValue, ops.SyncFunc(value)),
	)
}

func logger(st *state.State) *zap.Logger {
	if l, ok := state.TryGet[*zap.Logger](st); ok {
		return l
	}
	return zap.NewNop()
}

// open loads a plugin from Bufs[0] when given, otherwise from path.
func open(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[openArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	ld, err := state.Get[*loader](st)
	if err != nil {
		return ops.Fail(err)
	}
	log := logger(st)

	code, inline := args.Buf(0)
	if !inline {
		if a.Path == "" {
			return ops.Fail(errors.InvalidInput(errors.PhaseLoad, "path or code is required"))
		}
		path, err := filepath.Abs(a.Path)
		if err != nil {
			return ops.Fail(errors.Underlying(errors.PhaseLoad, err))
		}
		if err := permissions.Check(st, func(p *permissions.Permissions) error {
			return p.CheckRead(path)
		}); err != nil {
			return ops.Fail(err)
		}
		a.Path = path
	}
	name := a.Name
	if name == "" {
		name = filepath.Base(a.Path)
	}

	return ops.Async(func(ctx context.Context, sh *state.Shared) (any, error) {
		if !inline {
			b, err := os.ReadFile(a.Path)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "read plugin")
			}
			code = b
		}
		log.Debug("loading plugin", zap.String("plugin", name), zap.Int("size", len(code)))

		lib, err := Load(ctx, name, code, ld.cfg, ld.cache, sh.Resources(), log)
		if err != nil {
			return nil, err
		}
		return sh.Resources().Add(&Plugin{lib: lib})
	})
}

// call invokes an exported function. Integer arguments are converted to
// the export's parameter types; results come back as int64.
func call(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[callArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	p, err := resource.Get[*Plugin](st.Resources(), a.RID)
	if err != nil {
		return ops.Fail(err)
	}
	lib := p.lib
	paramTypes, resultTypes, ok := lib.Signature(a.Fn)
	if !ok {
		return ops.Fail(errors.NotFound(errors.PhaseLoad, "plugin function", a.Fn))
	}
	params, err := encodeParams(paramTypes, a.Args)
	if err != nil {
		return ops.Fail(err)
	}

	// Call takes its own share when the future runs, so a future that never
	// runs holds nothing and closing the plugin mid-call is safe.
	return ops.Async(func(ctx context.Context, sh *state.Shared) (any, error) {
		res, err := lib.Call(ctx, sh.Resources(), a.Fn, params...)
		if err != nil {
			return nil, err
		}
		return decodeResults(resultTypes, res), nil
	})
}

func exports(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	p, err := resource.Get[*Plugin](st.Resources(), rid)
	if err != nil {
		return nil, err
	}
	return p.lib.Exports(), nil
}

func value(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	v, err := resource.Get[*Value](st.Resources(), rid)
	if err != nil {
		return nil, err
	}
	return v.Int(), nil
}

func encodeParams(types []api.ValueType, args []int64) ([]uint64, error) {
	if len(types) != len(args) {
		return nil, errors.InvalidInput(errors.PhaseDecode, "argument count does not match the export")
	}
	out := make([]uint64, len(args))
	for i, t := range types {
		switch t {
		case api.ValueTypeI32:
			out[i] = api.EncodeI32(int32(args[i]))
		case api.ValueTypeI64:
			out[i] = api.EncodeI64(args[i])
		default:
			return nil, errors.Unsupported(errors.PhaseDecode, "parameter type "+api.ValueTypeName(t))
		}
	}
	return out, nil
}

func decodeResults(types []api.ValueType, res []uint64) []int64 {
	out := make([]int64, len(res))
	for i, v := range res {
		if i < len(types) && types[i] == api.ValueTypeI32 {
			out[i] = int64(api.DecodeI32(v))
			continue
		}
		out[i] = int64(v)
	}
	return out
}
