package resource

import (
	"sync"

	"github.com/wippyai/op-runtime/errors"
)

// Table owns every resource of a session and hands out ids for them.
type Table struct {
	backend   Backend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new table with a LocalBackend.
func NewTable() *Table {
	return NewTableWithBackend(NewLocalBackend())
}

// NewTableWithBackend creates a table over the given backend.
func NewTableWithBackend(b Backend) *Table {
	return &Table{backend: b}
}

// Add registers r and returns its id. Adding to a closed table closes r
// immediately and fails with a cancelled error.
func (t *Table) Add(r Resource) (ID, error) {
	id, err := t.backend.Create(r)
	if err != nil {
		closeResource(r)
		return 0, errors.Wrap(errors.PhaseResource, errors.KindCancelled, err, "add "+r.Name())
	}

	t.notify(Event{Type: EventCreated, ID: id, Name: r.Name(), Resource: r})
	return id, nil
}

// Lookup returns the resource registered under id.
func (t *Table) Lookup(id ID) (Resource, error) {
	r, ok := t.backend.Get(id)
	if !ok {
		return nil, errors.BadResourceID(uint32(id))
	}
	return r, nil
}

// Has reports whether id refers to a live resource.
func (t *Table) Has(id ID) bool {
	_, ok := t.backend.Get(id)
	return ok
}

// Close removes the resource and runs its close hook.
// Closing an id that is not live returns a not found error.
func (t *Table) Close(id ID) error {
	r, ok := t.backend.RemoveIf(id, nil)
	if !ok {
		return errors.BadResourceID(uint32(id))
	}

	closeResource(r)
	t.notify(Event{Type: EventClosed, ID: id, Name: r.Name(), Resource: r})
	return nil
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Entries lists live resources in id order.
func (t *Table) Entries() []Entry {
	var out []Entry
	t.backend.Each(func(id ID, r Resource) bool {
		out = append(out, Entry{ID: id, Name: r.Name()})
		return true
	})
	return out
}

// CloseAll closes every resource in id order and stops accepting new ones.
func (t *Table) CloseAll() {
	for _, r := range t.backend.Close() {
		closeResource(r)
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Get returns the resource under id as a T.
// A missing id and a type mismatch produce the same not found error.
func Get[T any](t *Table, id ID) (T, error) {
	r, ok := t.backend.Get(id)
	if ok {
		if v, ok := unwrap[T](r); ok {
			return v, nil
		}
	}
	var zero T
	return zero, errors.BadResourceID(uint32(id))
}

// GetMut runs fn with exclusive access to the entry under id.
// Calls for the same id are serialized. fn must not close or take id.
func GetMut[T any](t *Table, id ID, fn func(T) error) error {
	var (
		err   error
		typed bool
	)
	found := t.backend.Update(id, func(r Resource) {
		v, ok := unwrap[T](r)
		if !ok {
			return
		}
		typed = true
		err = fn(v)
	})
	if !found || !typed {
		return errors.BadResourceID(uint32(id))
	}
	return err
}

// Take removes the resource under id and returns ownership of it without
// running its close hook. A type mismatch leaves the entry in place.
func Take[T any](t *Table, id ID) (T, error) {
	var v T
	r, ok := t.backend.RemoveIf(id, func(r Resource) bool {
		var ok bool
		v, ok = unwrap[T](r)
		return ok
	})
	if !ok {
		var zero T
		return zero, errors.BadResourceID(uint32(id))
	}

	t.notify(Event{Type: EventTaken, ID: id, Name: r.Name(), Resource: r})
	return v, nil
}

func closeResource(r Resource) {
	if c, ok := r.(Closer); ok {
		c.Close()
	}
}
