package middleware

import (
	"context"
	"sort"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/state"
)

// OpCounters holds the counters of a single op.
type OpCounters struct {
	syncDispatched  atomix.Uint64
	syncCompleted   atomix.Uint64
	asyncDispatched atomix.Uint64
	asyncCompleted  atomix.Uint64
	failed          atomix.Uint64
	bytesIn         atomix.Uint64
	bytesOut        atomix.Uint64
}

// Snapshot is a point-in-time copy of op counters.
type Snapshot struct {
	Op              string `json:"op,omitempty" yaml:"op,omitempty"`
	SyncDispatched  uint64 `json:"sync_dispatched" yaml:"sync_dispatched"`
	SyncCompleted   uint64 `json:"sync_completed" yaml:"sync_completed"`
	AsyncDispatched uint64 `json:"async_dispatched" yaml:"async_dispatched"`
	AsyncCompleted  uint64 `json:"async_completed" yaml:"async_completed"`
	Failed          uint64 `json:"failed" yaml:"failed"`
	BytesIn         uint64 `json:"bytes_in" yaml:"bytes_in"`
	BytesOut        uint64 `json:"bytes_out" yaml:"bytes_out"`
}

// InFlight returns async calls dispatched but not yet completed.
func (s Snapshot) InFlight() uint64 {
	return s.AsyncDispatched - s.AsyncCompleted
}

func (c *OpCounters) snapshot(name string) Snapshot {
	return Snapshot{
		Op:              name,
		SyncDispatched:  c.syncDispatched.Load(),
		SyncCompleted:   c.syncCompleted.Load(),
		AsyncDispatched: c.asyncDispatched.Load(),
		AsyncCompleted:  c.asyncCompleted.Load(),
		Failed:          c.failed.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
	}
}

// Metrics counts dispatches and completions per op.
type Metrics struct {
	ops map[string]*OpCounters
	mu  sync.RWMutex
}

// NewMetrics creates an empty metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{ops: make(map[string]*OpCounters)}
}

func (m *Metrics) counters(name string) *OpCounters {
	m.mu.RLock()
	c, ok := m.ops[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.ops[name]; !ok {
		c = &OpCounters{}
		m.ops[name] = c
	}
	return c
}

// Middleware returns the counting middleware.
func (m *Metrics) Middleware() ops.Middleware {
	return func(name string, next ops.Handler) ops.Handler {
		c := m.counters(name)
		return func(ctx context.Context, st *state.State, args ops.Args) ops.Op {
			c.bytesIn.Add(argBytes(args))

			op := next(ctx, st, args)
			async := op.IsAsync()
			if async {
				c.asyncDispatched.Add(1)
			} else {
				c.syncDispatched.Add(1)
			}

			return op.Map(func(v any, err error) (any, error) {
				if async {
					c.asyncCompleted.Add(1)
				} else {
					c.syncCompleted.Add(1)
				}
				if err != nil {
					c.failed.Add(1)
				}
				if b, ok := v.([]byte); ok {
					c.bytesOut.Add(uint64(len(b)))
				}
				return v, err
			})
		}
	}
}

// Op returns the counters of a single op.
func (m *Metrics) Op(name string) (Snapshot, bool) {
	m.mu.RLock()
	c, ok := m.ops[name]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshot(name), true
}

// Snapshot returns per-op counters sorted by op name.
func (m *Metrics) Snapshot() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.ops))
	for name, c := range m.ops {
		out = append(out, c.snapshot(name))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Aggregate sums the counters of all ops.
func (m *Metrics) Aggregate() Snapshot {
	var total Snapshot
	for _, s := range m.Snapshot() {
		total.SyncDispatched += s.SyncDispatched
		total.SyncCompleted += s.SyncCompleted
		total.AsyncDispatched += s.AsyncDispatched
		total.AsyncCompleted += s.AsyncCompleted
		total.Failed += s.Failed
		total.BytesIn += s.BytesIn
		total.BytesOut += s.BytesOut
	}
	return total
}

func argBytes(args ops.Args) uint64 {
	var n uint64
	for _, b := range args.Bufs {
		n += uint64(len(b))
	}
	return n
}
