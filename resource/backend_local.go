package resource

import (
	"errors"
	"sort"
	"sync"
)

var ErrClosed = errors.New("resource table closed")

// LocalBackend is an in-memory resource backend.
// IDs come from a counter that only moves forward, so a closed id never
// refers to a newer resource.
type LocalBackend struct {
	entries map[ID]*entry
	next    ID
	mu      sync.RWMutex
	closed  bool
}

type entry struct {
	value Resource
	mu    sync.Mutex
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries: make(map[ID]*entry, 64),
	}
}

// Create stores a value and returns a fresh id.
func (b *LocalBackend) Create(value Resource) (ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	id := b.next
	b.next++
	b.entries[id] = &entry{value: value}
	return id, nil
}

// Get retrieves a value by id.
func (b *LocalBackend) Get(id ID) (Resource, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[id]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Update runs fn on the entry while holding the entry's lock.
// fn must not close or take the same id.
func (b *LocalBackend) Update(id ID, fn func(Resource)) bool {
	b.mu.RLock()
	e, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.value)
	return true
}

// RemoveIf removes the entry when keep reports true for its value.
func (b *LocalBackend) RemoveIf(id ID, keep func(Resource) bool) (Resource, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return nil, false
	}
	if keep != nil && !keep(e.value) {
		return nil, false
	}
	delete(b.entries, id)
	return e.value, true
}

// Each iterates live entries in id order. fn runs without the backend lock.
func (b *LocalBackend) Each(fn func(ID, Resource) bool) {
	b.mu.RLock()
	ids := make([]ID, 0, len(b.entries))
	values := make(map[ID]Resource, len(b.entries))
	for id, e := range b.entries {
		ids = append(ids, id)
		values[id] = e.value
	}
	b.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(id, values[id]) {
			return
		}
	}
}

// Len returns the number of live entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close stops accepting values and returns the remaining ones in id order.
func (b *LocalBackend) Close() []Resource {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	entries := b.entries
	b.entries = make(map[ID]*entry)
	b.mu.Unlock()

	ids := make([]ID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, entries[id].value)
	}
	return out
}
