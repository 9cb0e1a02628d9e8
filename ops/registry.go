package ops

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wippyai/op-runtime/errors"
)

// Registrar accepts op registrations. The registry implements it directly;
// middleware produces wrapping registrars.
type Registrar interface {
	Register(name string, h Handler) error
}

// CollisionPolicy decides what happens when an op name is registered twice.
type CollisionPolicy uint8

const (
	// CollisionError fails bootstrap on a duplicate name.
	CollisionError CollisionPolicy = iota
	// CollisionReplace keeps the last registration. The op keeps its id.
	CollisionReplace
)

func (p CollisionPolicy) String() string {
	switch p {
	case CollisionError:
		return "error"
	case CollisionReplace:
		return "replace"
	default:
		return fmt.Sprintf("CollisionPolicy(%d)", uint8(p))
	}
}

// ParseCollisionPolicy parses "error" or "replace".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return CollisionError, nil
	case "replace":
		return CollisionReplace, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown collision policy %q", s))
	}
}

// OpID is the dense index of a registered op.
type OpID uint32

type registered struct {
	handler Handler
	id      OpID
}

// Registry maps op names to handlers. It is mutable until sealed.
type Registry struct {
	ops    map[string]*registered
	names  []string
	mu     sync.RWMutex
	policy CollisionPolicy
	sealed bool
}

// NewRegistry creates an empty registry with the given collision policy.
func NewRegistry(policy CollisionPolicy) *Registry {
	return &Registry{
		ops:    make(map[string]*registered),
		policy: policy,
	}
}

// Register adds an op. It fails after Seal, on an empty name or nil
// handler, and on a duplicate name under CollisionError.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseBootstrap, "op name cannot be empty")
	}
	if h == nil {
		return errors.New(errors.PhaseBootstrap, errors.KindInvalidInput).
			Op(name).
			Detail("handler cannot be nil").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Sealed(name)
	}

	if existing, ok := r.ops[name]; ok {
		if r.policy != CollisionReplace {
			return errors.Duplicate(name)
		}
		existing.handler = h
		return nil
	}

	r.ops[name] = &registered{handler: h, id: OpID(len(r.names))}
	r.names = append(r.names, name)
	return nil
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup resolves an op name.
func (r *Registry) Lookup(name string) (Handler, OpID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, 0, false
	}
	return op.handler, op.id, true
}

// ID returns the id of a registered op.
func (r *Registry) ID(name string) (OpID, bool) {
	_, id, ok := r.Lookup(name)
	return id, ok
}

// Names returns op names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered ops.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Policy returns the collision policy.
func (r *Registry) Policy() CollisionPolicy {
	return r.policy
}
