package plugin

import (
	"context"
	"fmt"
	"slices"

	"code.hybscloud.com/atomix"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/resource"
)

// HostModule is the import module plugins link against.
const HostModule = "env"

// InitExport is called once after instantiation when a plugin exports it.
const InitExport = "plugin_init"

// Config controls how plugins are loaded.
type Config struct {
	// MemoryLimitPages caps plugin memory in 64KiB pages. 0 keeps the
	// wazero default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages" yaml:"memory_limit_pages"`
	// WASI links wasi_snapshot_preview1 so plugins built for WASI load.
	WASI bool `mapstructure:"wasi" yaml:"wasi"`
}

// Library is a loaded plugin. It is reference counted: the plugin resource
// holds one share and every resource the plugin creates holds another, so
// plugin code stays loaded while anything it produced is alive.
type Library struct {
	rt   wazero.Runtime
	mod  *resource.Cell[api.Module]
	defs map[string]api.FunctionDefinition
	log  *zap.Logger
	name string
	refs atomix.Int64
}

type scopeKey struct{}

// scope is what host functions see during a plugin call.
type scope struct {
	table *resource.Table
	lib   *Library
}

// Load compiles and instantiates code in a runtime of its own. The returned
// library holds one share.
func Load(ctx context.Context, name string, code []byte, cfg Config, cache wazero.CompilationCache, t *resource.Table, log *zap.Logger) (*Library, error) {
	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cache != nil {
		rcfg = rcfg.WithCompilationCache(cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	fail := func(err error, detail string) (*Library, error) {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindUnderlying, err, detail)
	}

	if err := instantiateHost(ctx, rt); err != nil {
		return fail(err, "instantiate host module")
	}
	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return fail(err, "instantiate WASI")
		}
	}

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return fail(err, "compile")
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return fail(err, "instantiate")
	}

	l := &Library{
		rt:   rt,
		mod:  resource.NewCell("plugin", mod),
		defs: compiled.ExportedFunctions(),
		log:  log,
		name: name,
	}
	l.refs.Add(1)

	if mod.ExportedFunction(InitExport) != nil {
		if _, err := l.Call(ctx, t, InitExport); err != nil {
			l.release()
			return nil, err
		}
	}
	log.Debug("plugin loaded", zap.String("plugin", name), zap.Int("exports", len(l.defs)))
	return l, nil
}

// Name returns the name the library was loaded under.
func (l *Library) Name() string { return l.name }

// Refs returns the number of live shares.
func (l *Library) Refs() int64 { return l.refs.Load() }

func (l *Library) acquire() *Library {
	l.refs.Add(1)
	return l
}

// tryAcquire takes a share unless the library is already unloaded.
func (l *Library) tryAcquire() bool {
	for {
		n := l.refs.Load()
		if n <= 0 {
			return false
		}
		if l.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops one share. The last share closes the plugin runtime.
func (l *Library) release() {
	if l.refs.Add(-1) != 0 {
		return
	}
	l.mod.Close()
	if err := l.rt.Close(context.Background()); err != nil {
		l.log.Warn("plugin close failed", zap.String("plugin", l.name), zap.Error(err))
	}
	l.log.Debug("plugin unloaded", zap.String("plugin", l.name))
}

// Exports lists the functions the plugin exports, sorted.
func (l *Library) Exports() []string {
	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Signature returns the parameter and result types of an export.
func (l *Library) Signature(fn string) (params, results []api.ValueType, ok bool) {
	def, ok := l.defs[fn]
	if !ok {
		return nil, nil, false
	}
	return def.ParamTypes(), def.ResultTypes(), true
}

// Call invokes an exported function. Calls into one plugin are serialized.
// Resources the plugin creates during the call go into t. Calling an
// unloaded library fails with a cancelled error.
func (l *Library) Call(ctx context.Context, t *resource.Table, fn string, params ...uint64) ([]uint64, error) {
	if !l.tryAcquire() {
		return nil, errors.New(errors.PhaseLoad, errors.KindCancelled).
			Resource("plugin").
			Detail("plugin %s is unloaded", l.name).
			Build()
	}
	defer l.release()

	g, err := l.mod.BorrowMut(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	mod := *g.Value()
	f := mod.ExportedFunction(fn)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "plugin function", fn)
	}
	if want := len(f.Definition().ParamTypes()); want != len(params) {
		return nil, errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("%s takes %d params, got %d", fn, want, len(params)))
	}

	ctx = context.WithValue(ctx, scopeKey{}, &scope{table: t, lib: l})
	res, err := f.Call(ctx, params...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(errors.PhaseLoad, err)
		}
		return nil, errors.New(errors.PhaseLoad, errors.KindUnderlying).
			Cause(err).
			Detail("plugin %s: call %s", l.name, fn).
			Build()
	}
	return res, nil
}

func instantiateHost(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(hostResourceNew).Export("resource_new").
		NewFunctionBuilder().WithFunc(hostResourceClose).Export("resource_close").
		Instantiate(ctx)
	return err
}

// hostResourceNew registers a plugin value and returns its rid, or -1.
func hostResourceNew(ctx context.Context, v int64) int32 {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		return -1
	}
	rid, err := sc.table.Add(newOwned(sc.lib, &Value{v: v}))
	if err != nil {
		return -1
	}
	return int32(rid)
}

// hostResourceClose closes a resource the calling library created. It
// returns 0 on success and -1 when rid is absent or owned by anyone else.
func hostResourceClose(ctx context.Context, rid int32) int32 {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || rid < 0 {
		return -1
	}
	r, err := sc.table.Lookup(resource.ID(rid))
	if err != nil {
		return -1
	}
	if o, ok := r.(*owned); !ok || o.lib != sc.lib {
		return -1
	}
	if err := sc.table.Close(resource.ID(rid)); err != nil {
		return -1
	}
	return 0
}
