package state

import (
	"context"
	"reflect"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/resource"
)

// State is the per-session bag of shared values available to every op.
// Values are keyed by their static Go type; there is at most one per type.
//
// State is not safe for concurrent use on its own. Sync ops receive it
// while the dispatcher holds the session borrow; async ops reach it through
// Shared.
type State struct {
	values    map[reflect.Type]any
	resources *resource.Table
}

// New creates an empty state with a fresh resource table.
func New() *State {
	return NewWithTable(resource.NewTable())
}

// NewWithTable creates an empty state over an existing resource table.
func NewWithTable(t *resource.Table) *State {
	return &State{
		values:    make(map[reflect.Type]any),
		resources: t,
	}
}

// Resources returns the session's resource table. The table is safe for
// concurrent use and may be retained by futures.
func (s *State) Resources() *resource.Table {
	return s.resources
}

// Len returns the number of stored values.
func (s *State) Len() int {
	return len(s.values)
}

// Put stores v under type T, replacing any previous value.
func Put[T any](s *State, v T) {
	s.values[reflect.TypeFor[T]()] = v
}

// Get returns the value stored under type T.
// A missing type is an error, never a zero value.
func Get[T any](s *State) (T, error) {
	v, ok := TryGet[T](s)
	if !ok {
		return v, errors.NotFound(errors.PhaseState, "state", reflect.TypeFor[T]().String())
	}
	return v, nil
}

// TryGet returns the value stored under type T and whether it was present.
func TryGet[T any](s *State) (T, bool) {
	v, ok := s.values[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Has reports whether a value of type T is stored.
func Has[T any](s *State) bool {
	_, ok := s.values[reflect.TypeFor[T]()]
	return ok
}

// Remove deletes and returns the value stored under type T.
func Remove[T any](s *State) (T, bool) {
	v, ok := TryGet[T](s)
	if ok {
		delete(s.values, reflect.TypeFor[T]())
	}
	return v, ok
}

// Shared guards a State for use across goroutines. Futures borrow it for
// short critical sections and must release it before waiting on anything.
type Shared struct {
	st  *State
	sem chan struct{}
}

// NewShared wraps st.
func NewShared(st *State) *Shared {
	return &Shared{st: st, sem: make(chan struct{}, 1)}
}

// Resources returns the resource table without taking the borrow.
func (s *Shared) Resources() *resource.Table {
	return s.st.resources
}

// Borrow waits for exclusive access to the state. The release function
// must be called exactly once, and before any blocking wait.
func (s *Shared) Borrow(ctx context.Context) (*State, func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, errors.Cancelled(errors.PhaseState, context.Cause(ctx))
	}

	released := false
	return s.st, func() {
		if !released {
			released = true
			<-s.sem
		}
	}, nil
}

// TryBorrow acquires exclusive access only if the state is free.
func (s *Shared) TryBorrow() (*State, func(), error) {
	select {
	case s.sem <- struct{}{}:
	default:
		return nil, nil, errors.Busy("state", "call state is borrowed")
	}

	released := false
	return s.st, func() {
		if !released {
			released = true
			<-s.sem
		}
	}, nil
}

// With runs fn while holding the borrow.
func (s *Shared) With(ctx context.Context, fn func(*State) error) error {
	st, release, err := s.Borrow(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(st)
}

// Load borrows the state long enough to fetch the value of type T.
func Load[T any](ctx context.Context, s *Shared) (T, error) {
	var v T
	err := s.With(ctx, func(st *State) error {
		var err error
		v, err = Get[T](st)
		return err
	})
	return v, err
}
