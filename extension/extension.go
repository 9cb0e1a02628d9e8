package extension

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

// Module is a named script source exposed by an extension.
type Module struct {
	Name   string
	Source string
}

// StateFunc seeds the call state at bootstrap.
type StateFunc func(st *state.State) error

// Extension bundles script modules, op declarations, a state initializer
// and optional middleware. Ops, the initializer and the middleware are
// consumed exactly once.
type Extension struct {
	stateFn    StateFunc
	middleware ops.Middleware
	name       string
	modules    []Module
	ops        []ops.Decl
	children   []*Extension
	mu         sync.Mutex
	opsTaken   bool
	stateTaken bool
}

// Option configures an Extension.
type Option func(*Extension)

// New creates an extension.
func New(name string, opts ...Option) *Extension {
	e := &Extension{name: name}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PureSource creates an extension that only exposes modules.
func PureSource(name string, modules ...Module) *Extension {
	return New(name, WithModules(modules...))
}

// Compose creates a composite extension. Its own parts are applied first,
// then each child in order using the composite's registrar.
func Compose(name string, children []*Extension, opts ...Option) *Extension {
	e := New(name, opts...)
	e.children = append(e.children, children...)
	return e
}

// WithModules appends script modules.
func WithModules(modules ...Module) Option {
	return func(e *Extension) { e.modules = append(e.modules, modules...) }
}

// WithOps appends op declarations.
func WithOps(decls ...ops.Decl) Option {
	return func(e *Extension) { e.ops = append(e.ops, decls...) }
}

// WithOp appends a single op declaration.
func WithOp(name string, h ops.Handler) Option {
	return WithOps(ops.Decl{Name: name, Handler: h})
}

// WithState sets the state initializer.
func WithState(fn StateFunc) Option {
	return func(e *Extension) { e.stateFn = fn }
}

// WithMiddleware sets the registration middleware. It applies to the
// extension's own ops and to those of its children.
func WithMiddleware(mw ops.Middleware) Option {
	return func(e *Extension) { e.middleware = mw }
}

// Name returns the extension name.
func (e *Extension) Name() string { return e.name }

// Children returns the child extensions of a composite.
func (e *Extension) Children() []*Extension { return e.children }

// InitModules returns the extension's own modules.
func (e *Extension) InitModules() []Module {
	out := make([]Module, len(e.modules))
	copy(out, e.modules)
	return out
}

// InitState runs the state initializer. A second call fails.
func (e *Extension) InitState(st *state.State) error {
	e.mu.Lock()
	if e.stateTaken {
		e.mu.Unlock()
		return errors.Consumed(e.name, "state initializer")
	}
	e.stateTaken = true
	fn := e.stateFn
	e.stateFn = nil
	e.mu.Unlock()

	if fn == nil {
		return nil
	}
	if err := fn(st); err != nil {
		return errors.New(errors.PhaseBootstrap, errors.KindUnderlying).
			Cause(err).
			Detail("init state of extension %q", e.name).
			Build()
	}
	return nil
}

// InitRegistrar wraps r with the extension's middleware. The middleware is
// taken on first use; later calls return r unchanged.
func (e *Extension) InitRegistrar(r ops.Registrar) ops.Registrar {
	e.mu.Lock()
	mw := e.middleware
	e.middleware = nil
	e.mu.Unlock()
	return ops.Wrap(r, mw)
}

// InitOps registers every declared op into r. A second call fails.
func (e *Extension) InitOps(r ops.Registrar) error {
	e.mu.Lock()
	if e.opsTaken {
		e.mu.Unlock()
		return errors.Consumed(e.name, "ops")
	}
	e.opsTaken = true
	decls := e.ops
	e.ops = nil
	e.mu.Unlock()

	for _, d := range decls {
		if err := r.Register(d.Name, d.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap consumes each extension in order: modules, state, registrar,
// ops, then children with the extension's registrar. It returns every
// exposed module in bootstrap order.
func Bootstrap(st *state.State, r ops.Registrar, log *zap.Logger, exts ...*Extension) ([]Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var modules []Module
	for _, e := range exts {
		if err := bootstrap(e, st, r, log, &modules); err != nil {
			return nil, err
		}
	}
	return modules, nil
}

func bootstrap(e *Extension, st *state.State, r ops.Registrar, log *zap.Logger, modules *[]Module) error {
	*modules = append(*modules, e.InitModules()...)

	if err := e.InitState(st); err != nil {
		return err
	}

	reg := e.InitRegistrar(r)
	declared := len(e.ops)
	if err := e.InitOps(reg); err != nil {
		return err
	}

	log.Debug("extension initialized",
		zap.String("extension", e.name),
		zap.Int("modules", len(e.modules)),
		zap.Int("ops", declared),
		zap.Int("children", len(e.children)))

	for _, child := range e.children {
		if err := bootstrap(child, st, reg, log, modules); err != nil {
			return err
		}
	}
	return nil
}
