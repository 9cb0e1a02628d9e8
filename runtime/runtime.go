package runtime

import (
	"context"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// SessionID identifies a runtime instance in logs.
type SessionID string

// Runtime is one session: a sealed op registry, the call state with its
// resource table, and the completion queue of pending async ops.
type Runtime struct {
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
	registry *ops.Registry
	st       *state.State
	shared   *state.Shared
	results  chan Completion
	notify   chan struct{}
	pumpDone chan struct{}
	queue    lfq.SPSC[Completion]
	id       SessionID
	modules  []extension.Module
	futures  sync.WaitGroup
	closeMu  sync.Mutex
	promises atomix.Uint32
	pending  atomix.Int64
	closed   bool
}

// New bootstraps a runtime. The core extension is consumed first, then the
// configured extensions in order. Any bootstrap failure is returned and
// leaves nothing running.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := SessionID(uuid.NewString())
	log := o.logger
	if log == nil {
		log = Logger()
	}
	log = log.With(zap.String("session", string(id)))

	st := state.New()
	state.Put(st, log)
	state.Put(st, id)
	if o.permissions != nil {
		state.Put(st, o.permissions)
	}

	if err := registerStdio(st.Resources(), o.stdin, o.stdout, o.stderr); err != nil {
		return nil, err
	}

	registry := ops.NewRegistry(o.policy)
	registrar := ops.Wrap(registry, o.middleware)

	exts := append([]*extension.Extension{coreExtension(o.stdout, o.stderr)}, o.extensions...)
	modules, err := extension.Bootstrap(st, registrar, log, exts...)
	if err != nil {
		st.Resources().CloseAll()
		log.Error("bootstrap failed", zap.Error(err))
		return nil, err
	}
	registry.Seal()

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Runtime{
		ctx:      rctx,
		cancel:   cancel,
		log:      log,
		registry: registry,
		st:       st,
		shared:   state.NewShared(st),
		results:  make(chan Completion, o.capacity),
		notify:   make(chan struct{}, 1),
		pumpDone: make(chan struct{}),
		id:       id,
		modules:  modules,
	}
	r.queue.Init(o.capacity)
	go r.pump()

	log.Info("runtime started",
		zap.Int("ops", registry.Len()),
		zap.Int("modules", len(modules)),
		zap.Stringer("collision_policy", registry.Policy()))
	return r, nil
}

// ID returns the session id.
func (r *Runtime) ID() SessionID { return r.id }

// Ops returns registered op names in registration order.
func (r *Runtime) Ops() []string { return r.registry.Names() }

// OpID returns the dense id of a registered op.
func (r *Runtime) OpID(name string) (ops.OpID, bool) { return r.registry.ID(name) }

// Modules returns the script modules exposed by all extensions.
func (r *Runtime) Modules() []extension.Module {
	out := make([]extension.Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Resources returns the session's resource table.
func (r *Runtime) Resources() *resource.Table { return r.st.Resources() }

// State returns the shared call state.
func (r *Runtime) State() *state.Shared { return r.shared }

// Permissions returns the session policy, if any.
func (r *Runtime) Permissions() (*permissions.Permissions, bool) {
	var (
		p  *permissions.Permissions
		ok bool
	)
	_ = r.shared.With(context.Background(), func(st *state.State) error {
		p, ok = state.TryGet[*permissions.Permissions](st)
		return nil
	})
	return p, ok
}

// Close cancels pending futures, waits for them to finish and closes every
// resource. It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.cancel()
	r.st.Resources().CloseAll()

	done := make(chan struct{})
	go func() {
		r.futures.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("close timed out waiting for futures", zap.Int64("pending", r.pending.Load()))
		return errors.Cancelled(errors.PhaseDispatch, context.Cause(ctx))
	}

	close(r.results)
	<-r.pumpDone
	r.log.Info("runtime closed")
	return nil
}
