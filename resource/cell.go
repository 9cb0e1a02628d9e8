package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/op-runtime/errors"
)

// State is the borrow state of a guarded cell.
type State uint8

const (
	StateIdle State = iota
	StateBorrowed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBorrowed:
		return "borrowed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Cell guards a value so that at most one exclusive borrow is live at a time.
// TryBorrowMut fails fast with a busy error. BorrowMut queues callers in
// arrival order and hands the value directly to the next waiter on release.
type Cell[T any] struct {
	value   T
	name    string
	waiters []*waiter
	mu      sync.Mutex
	held    bool
	closed  bool
}

type waiter struct {
	ready  chan struct{}
	closed bool
}

// NewCell creates a cell holding v. name is reported in busy errors.
func NewCell[T any](name string, v T) *Cell[T] {
	return &Cell[T]{name: name, value: v}
}

// TryBorrowMut acquires the cell if it is free and returns a busy error otherwise.
// It never blocks.
func (c *Cell[T]) TryBorrowMut() (*Guard[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.Cancelled(errors.PhaseBorrow, nil)
	}
	if c.held || len(c.waiters) > 0 {
		return nil, errors.Busy(c.name, "resource is borrowed")
	}
	c.held = true
	return &Guard[T]{cell: c}, nil
}

// BorrowMut acquires the cell, waiting in FIFO order while it is held.
// It returns a cancelled error when ctx ends or the cell is closed first.
func (c *Cell[T]) BorrowMut(ctx context.Context) (*Guard[T], error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.Cancelled(errors.PhaseBorrow, nil)
	}
	if !c.held && len(c.waiters) == 0 {
		c.held = true
		c.mu.Unlock()
		return &Guard[T]{cell: c}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		if w.closed {
			return nil, errors.Cancelled(errors.PhaseBorrow, nil)
		}
		return &Guard[T]{cell: c}, nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	for i, q := range c.waiters {
		if q == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.mu.Unlock()
			return nil, errors.Cancelled(errors.PhaseBorrow, context.Cause(ctx))
		}
	}
	c.mu.Unlock()

	// Ownership was handed over while ctx ended; pass it on.
	if !w.closed {
		c.release()
	}
	return nil, errors.Cancelled(errors.PhaseBorrow, context.Cause(ctx))
}

// State reports whether the cell is idle, borrowed or closed.
func (c *Cell[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return StateClosed
	case c.held:
		return StateBorrowed
	default:
		return StateIdle
	}
}

// Close fails every queued waiter and all later borrows with a cancelled error.
// A guard that is already out stays valid until released.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, w := range c.waiters {
		w.closed = true
		close(w.ready)
	}
	c.waiters = nil
}

func (c *Cell[T]) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		close(w.ready)
		return
	}
	c.held = false
}

// Guard is a live exclusive borrow of a Cell.
type Guard[T any] struct {
	cell *Cell[T]
	once sync.Once
}

// Value returns a pointer to the guarded value. It must not be retained
// after Release.
func (g *Guard[T]) Value() *T {
	return &g.cell.value
}

// Release ends the borrow. Calling it more than once is a no-op.
func (g *Guard[T]) Release() {
	g.once.Do(g.cell.release)
}
