// Package storage provides web-storage style key/value areas.
//
//	storage_open    {persistent}          -> rid
//	storage_length  rid                   -> int
//	storage_key     {rid, index}          -> key or null
//	storage_get     {rid, key}            -> value or null
//	storage_set     {rid, key, value}
//	storage_remove  {rid, key}
//	storage_clear   rid
//
// Session storage lives in memory and is shared by every session
// connection. Persistent storage is a bbolt database under the configured
// data directory; without one, opening persistent storage is unsupported.
// Each area holds at most Quota bytes of keys and values.
package storage

import (
	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// Op names.
const (
	OpOpen   = "storage_open"
	OpLength = "storage_length"
	OpKey    = "storage_key"
	OpGet    = "storage_get"
	OpSet    = "storage_set"
	OpRemove = "storage_remove"
	OpClear  = "storage_clear"
)

// Quota is the per-area limit on key and value bytes.
const Quota = 10 * 1024 * 1024

// DataDir is the directory persistent storage is kept in. An empty value
// disables persistent storage.
type DataDir string

// areas is the per-session storage state.
type areas struct {
	session *MemoryStore
	disk    *shared
}

type openArgs struct {
	Persistent bool `json:"persistent"`
}

type keyArgs struct {
	Key   string      `json:"key"`
	Value string      `json:"value"`
	RID   resource.ID `json:"rid"`
	Index int         `json:"index"`
}

// Connection is an open storage area.
type Connection struct {
	store   Store
	release func() error
}

func (c *Connection) Name() string { return "webStorage" }

// Store returns the underlying store.
func (c *Connection) Store() Store { return c.store }

// Close lets go of the area. Persistent areas close the database once no
// connection uses it.
func (c *Connection) Close() {
	if c.release != nil {
		_ = c.release()
	}
}

// Extension returns the storage extension. dir is the persistent data
// directory and may be empty.
func Extension(dir string) *extension.Extension {
	return extension.New("storage",
		extension.WithState(func(st *state.State) error {
			state.Put(st, DataDir(dir))
			state.Put(st, &areas{session: NewMemoryStore(), disk: &shared{dir: dir}})
			return nil
		}),
		extension.WithOp(OpOpen, ops.SyncFunc(open)),
		extension.WithOp(OpLength, ops.SyncFunc(length)),
		extension.WithOp(OpKey, ops.SyncFunc(key)),
		extension.WithOp(OpGet, ops.SyncFunc(get)),
		extension.WithOp(OpSet, ops.SyncFunc(set)),
		extension.WithOp(OpRemove, ops.SyncFunc(remove)),
		extension.WithOp(OpClear, ops.SyncFunc(clearArea)),
	)
}

func open(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[openArgs](args)
	if err != nil {
		return nil, err
	}
	ar, err := state.Get[*areas](st)
	if err != nil {
		return nil, err
	}

	c := &Connection{store: ar.session}
	if a.Persistent {
		if dir, _ := state.TryGet[DataDir](st); dir == "" {
			return nil, errors.Unsupported(errors.PhaseHost, "persistent storage without a data directory")
		}
		db, err := ar.disk.acquire()
		if err != nil {
			return nil, err
		}
		c = &Connection{store: db, release: ar.disk.release}
	}
	return st.Resources().Add(c)
}

func connection(st *state.State, rid resource.ID) (Store, error) {
	c, err := resource.Get[*Connection](st.Resources(), rid)
	if err != nil {
		return nil, err
	}
	return c.store, nil
}

func length(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, rid)
	if err != nil {
		return nil, err
	}
	return s.Len()
}

func key(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[keyArgs](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, a.RID)
	if err != nil {
		return nil, err
	}
	k, ok, err := s.Key(a.Index)
	if err != nil || !ok {
		return nil, err
	}
	return k, nil
}

func get(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[keyArgs](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, a.RID)
	if err != nil {
		return nil, err
	}
	v, ok, err := s.Get(a.Key)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func set(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[keyArgs](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, a.RID)
	if err != nil {
		return nil, err
	}

	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	old, ok, err := s.Get(a.Key)
	if err != nil {
		return nil, err
	}
	if ok {
		size -= len(a.Key) + len(old)
	}
	if size+len(a.Key)+len(a.Value) > Quota {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Resource("webStorage").
			Detail("exceeded maximum storage size").
			Build()
	}
	return nil, s.Set(a.Key, a.Value)
}

func remove(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[keyArgs](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, a.RID)
	if err != nil {
		return nil, err
	}
	return nil, s.Remove(a.Key)
}

func clearArea(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	s, err := connection(st, rid)
	if err != nil {
		return nil, err
	}
	return nil, s.Clear()
}
