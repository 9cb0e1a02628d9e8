package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/resource"
)

// Status is how a child exited. A child killed by a signal reports
// code 128+signal.
type Status struct {
	Signal  *int `json:"signal"`
	Code    int  `json:"code"`
	Success bool `json:"success"`
}

func toStatus(ps *os.ProcessState) Status {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := int(ws.Signal())
		return Status{Code: 128 + sig, Signal: &sig}
	}
	code := ps.ExitCode()
	return Status{Code: code, Success: code == 0}
}

// Child is a spawned process. It is reaped in the background; closing it
// before it exits kills it.
type Child struct {
	cmd   *exec.Cmd
	cell  *resource.Cell[*exec.Cmd]
	done  chan struct{}
	state *os.ProcessState
}

func newChild(cmd *exec.Cmd) *Child {
	c := &Child{
		cmd:  cmd,
		cell: resource.NewCell("child", cmd),
		done: make(chan struct{}),
	}
	go c.reap()
	return c
}

func (c *Child) reap() {
	_ = c.cmd.Wait()
	c.state = c.cmd.ProcessState
	close(c.done)
}

func (c *Child) Name() string { return "child" }

// Pid returns the process id.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Status returns the exit status, or nil while the child runs. It fails
// with busy while a wait holds the child.
func (c *Child) Status() (*Status, error) {
	g, err := c.cell.TryBorrowMut()
	if err != nil {
		return nil, err
	}
	defer g.Release()

	select {
	case <-c.done:
		s := toStatus(c.state)
		return &s, nil
	default:
		return nil, nil
	}
}

// Wait blocks until the child exits. If ctx ends first the child is
// killed and a cancelled error is returned.
func (c *Child) Wait(ctx context.Context) (Status, error) {
	g, err := c.cell.BorrowMut(ctx)
	if err != nil {
		return Status{}, err
	}
	defer g.Release()

	select {
	case <-c.done:
		return toStatus(c.state), nil
	case <-ctx.Done():
		c.kill()
		return Status{}, errors.Cancelled(errors.PhaseHost, context.Cause(ctx))
	}
}

// Signal delivers sig to the child.
func (c *Child) Signal(sig os.Signal) error {
	select {
	case <-c.done:
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Resource("child").
			Detail("process already exited").
			Build()
	default:
	}
	if err := c.cmd.Process.Signal(sig); err != nil {
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}

func (c *Child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Child) kill() {
	if !c.exited() {
		_ = c.cmd.Process.Kill()
	}
}

// Close kills the child if it is still running.
func (c *Child) Close() {
	c.kill()
	c.cell.Close()
}

// pipe is one end of a child stdio pipe held by the parent.
type pipe struct {
	f      *os.File
	cell   *resource.Cell[*os.File]
	cancel *resource.CancelHandle
	name   string
}

func newPipe(name string, f *os.File) pipe {
	return pipe{
		f:      f,
		cell:   resource.NewCell(name, f),
		cancel: resource.NewCancelHandle(),
		name:   name,
	}
}

func (p *pipe) Name() string { return p.name }

func (p *pipe) Close() {
	p.cancel.Cancel()
	p.cell.Close()
	_ = p.f.Close()
}

// Stdin is the write end of a child's standard input.
type Stdin struct{ pipe }

// Write writes to the child's stdin.
func (s *Stdin) Write(b []byte) (int, error) {
	g, err := s.cell.BorrowMut(context.Background())
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return (*g.Value()).Write(b)
}

// Output is the read end of a child's stdout or stderr.
type Output struct{ pipe }

// Read reads from the pipe. A read interrupted by Close reports io.EOF.
func (o *Output) Read(b []byte) (int, error) {
	g, err := o.cell.BorrowMut(context.Background())
	if err != nil {
		return 0, io.EOF
	}
	defer g.Release()

	n, err := (*g.Value()).Read(b)
	if err != nil && o.cancel.Cancelled() {
		return n, io.EOF
	}
	return n, err
}

// PTY is the controlling side of a pseudo-terminal attached to a child.
type PTY struct{ pipe }

// Read reads terminal output. The terminal hanging up reads as io.EOF.
func (t *PTY) Read(b []byte) (int, error) {
	g, err := t.cell.BorrowMut(context.Background())
	if err != nil {
		return 0, io.EOF
	}
	defer g.Release()

	n, err := (*g.Value()).Read(b)
	if err != nil && (t.cancel.Cancelled() || errors.Is(err, syscall.EIO)) {
		return n, io.EOF
	}
	return n, err
}

// Write writes terminal input.
func (t *PTY) Write(b []byte) (int, error) {
	return t.f.Write(b)
}

// Resize sets the terminal window size.
func (t *PTY) Resize(rows, cols uint16) error {
	if err := pty.Setsize(t.f, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}
