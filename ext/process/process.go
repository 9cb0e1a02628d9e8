package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/middleware"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// Op names.
const (
	OpSpawn  = "process_spawn"
	OpStatus = "process_status"
	OpWait   = "process_wait"
	OpOutput = "process_output"
	OpKill   = "process_kill"
	OpResize = "process_resize"
	OpShell  = "process_shell"
)

// Stdio modes for spawn.
const (
	StdioInherit = "inherit"
	StdioPiped   = "piped"
	StdioNull    = "null"
)

type spawnArgs struct {
	Env      map[string]string `json:"env"`
	Cmd      string            `json:"cmd"`
	Cwd      string            `json:"cwd"`
	Stdin    string            `json:"stdin"`
	Stdout   string            `json:"stdout"`
	Stderr   string            `json:"stderr"`
	Args     []string          `json:"args"`
	ClearEnv bool              `json:"clearEnv"`
	PTY      bool              `json:"pty"`
	Rows     uint16            `json:"rows"`
	Cols     uint16            `json:"cols"`
}

type waitArgs struct {
	StdinRID *resource.ID `json:"stdinRid"`
	RID      resource.ID  `json:"rid"`
}

type outputArgs struct {
	StdoutRID *resource.ID `json:"stdoutRid"`
	StderrRID *resource.ID `json:"stderrRid"`
	RID       resource.ID  `json:"rid"`
}

type killArgs struct {
	RID    resource.ID `json:"rid"`
	Signal int         `json:"signal"`
}

type resizeArgs struct {
	RID  resource.ID `json:"rid"`
	Rows uint16      `json:"rows"`
	Cols uint16      `json:"cols"`
}

// Spawned is the result of spawn. Pipe ids are set only for piped streams.
type Spawned struct {
	StdinRID  *resource.ID `json:"stdinRid"`
	StdoutRID *resource.ID `json:"stdoutRid"`
	StderrRID *resource.ID `json:"stderrRid"`
	PTYRID    *resource.ID `json:"ptyRid"`
	RID       resource.ID  `json:"rid"`
	Pid       int          `json:"pid"`
}

// Result is the result of output and shell.
type Result struct {
	Stdout []byte `json:"stdout"`
	Stderr []byte `json:"stderr"`
	Status Status `json:"status"`
}

// Extension returns the process extension. Every op requires the run
// capability.
func Extension() *extension.Extension {
	return extension.New("process",
		extension.WithMiddleware(middleware.Gate((*permissions.Permissions).CheckRun)),
		extension.WithOp(OpSpawn, ops.SyncFunc(spawn)),
		extension.WithOp(OpStatus, ops.SyncFunc(status)),
		extension.WithOp(OpWait, wait),
		extension.WithOp(OpOutput, output),
		extension.WithOp(OpKill, ops.SyncFunc(kill)),
		extension.WithOp(OpResize, ops.SyncFunc(resize)),
		extension.WithOp(OpShell, shell),
	)
}

func logger(st *state.State) *zap.Logger {
	if l, ok := state.TryGet[*zap.Logger](st); ok {
		return l
	}
	return zap.NewNop()
}

func command(a spawnArgs) *exec.Cmd {
	cmd := exec.Command(a.Cmd, a.Args...)
	cmd.Dir = a.Cwd
	if a.ClearEnv {
		cmd.Env = []string{}
	} else {
		cmd.Env = os.Environ()
	}
	for k, v := range a.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd
}

// stdioFiles holds the files handed to the child and the parent ends of
// any pipes.
type stdioFiles struct {
	child  []*os.File
	parent [3]*os.File
}

func (s *stdioFiles) closeChild() {
	for _, f := range s.child {
		_ = f.Close()
	}
}

func (s *stdioFiles) closeAll() {
	s.closeChild()
	for _, f := range s.parent {
		if f != nil {
			_ = f.Close()
		}
	}
}

// open resolves one stdio stream. fd 0 is stdin.
func (s *stdioFiles) open(fd int, mode string, inherit *os.File) (*os.File, error) {
	switch mode {
	case StdioInherit:
		return inherit, nil
	case StdioNull:
		return nil, nil
	case StdioPiped:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}
		if fd == 0 {
			s.child = append(s.child, r)
			s.parent[fd] = w
			return r, nil
		}
		s.child = append(s.child, w)
		s.parent[fd] = r
		return w, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseHost, "unknown stdio mode "+mode)
	}
}

func spawn(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[spawnArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Cmd == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "cmd is required")
	}
	cmd := command(a)
	if a.PTY {
		return spawnPTY(st, cmd, a)
	}

	modes := [3]string{a.Stdin, a.Stdout, a.Stderr}
	defaults := [3]string{StdioNull, StdioPiped, StdioPiped}
	inherit := [3]*os.File{os.Stdin, os.Stdout, os.Stderr}
	var files stdioFiles
	var std [3]*os.File
	for fd := range modes {
		mode := modes[fd]
		if mode == "" {
			mode = defaults[fd]
		}
		if std[fd], err = files.open(fd, mode, inherit[fd]); err != nil {
			files.closeAll()
			return nil, err
		}
	}
	// nil *os.File must stay a nil interface so exec opens the null device.
	if std[0] != nil {
		cmd.Stdin = std[0]
	}
	if std[1] != nil {
		cmd.Stdout = std[1]
	}
	if std[2] != nil {
		cmd.Stderr = std[2]
	}

	if err := cmd.Start(); err != nil {
		files.closeAll()
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	files.closeChild()

	t := st.Resources()
	out := Spawned{Pid: cmd.Process.Pid}
	names := [3]string{"childStdin", "childStdout", "childStderr"}
	rids := [3]**resource.ID{&out.StdinRID, &out.StdoutRID, &out.StderrRID}
	for fd, f := range files.parent {
		if f == nil {
			continue
		}
		var r resource.Resource
		if fd == 0 {
			r = &Stdin{newPipe(names[fd], f)}
		} else {
			r = &Output{newPipe(names[fd], f)}
		}
		rid, err := t.Add(r)
		if err != nil {
			_ = cmd.Process.Kill()
			return nil, err
		}
		*rids[fd] = &rid
	}
	if out.RID, err = t.Add(newChild(cmd)); err != nil {
		return nil, err
	}

	logger(st).Debug("spawned process",
		zap.String("cmd", a.Cmd),
		zap.Int("pid", out.Pid),
		zap.Uint32("rid", uint32(out.RID)))
	return out, nil
}

func spawnPTY(st *state.State, cmd *exec.Cmd, a spawnArgs) (any, error) {
	var (
		f   *os.File
		err error
	)
	if a.Rows > 0 && a.Cols > 0 {
		f, err = pty.StartWithSize(cmd, &pty.Winsize{Rows: a.Rows, Cols: a.Cols})
	} else {
		f, err = pty.Start(cmd)
	}
	if err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}

	t := st.Resources()
	ptyRID, err := t.Add(&PTY{newPipe("pty", f)})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	rid, err := t.Add(newChild(cmd))
	if err != nil {
		return nil, err
	}
	logger(st).Debug("spawned process on pty",
		zap.String("cmd", a.Cmd),
		zap.Int("pid", cmd.Process.Pid),
		zap.Uint32("rid", uint32(rid)))
	return Spawned{RID: rid, Pid: cmd.Process.Pid, PTYRID: &ptyRID}, nil
}

func status(st *state.State, args ops.Args) (any, error) {
	rid, err := ops.Decode[resource.ID](args)
	if err != nil {
		return nil, err
	}
	c, err := resource.Get[*Child](st.Resources(), rid)
	if err != nil {
		return nil, err
	}
	s, err := c.Status()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return *s, nil
}

// wait takes the child out of the table, so its rid is gone once the call
// is made. A given stdin pipe is taken and closed first so the child sees
// end of input.
func wait(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[waitArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	t := st.Resources()
	if _, err := resource.Get[*Child](t, a.RID); err != nil {
		return ops.Fail(err)
	}
	var stdin *Stdin
	if a.StdinRID != nil {
		if stdin, err = resource.Take[*Stdin](t, *a.StdinRID); err != nil {
			return ops.Fail(err)
		}
	}
	c, err := resource.Take[*Child](t, a.RID)
	if err != nil {
		return ops.Fail(err)
	}
	if stdin != nil {
		stdin.Close()
	}

	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		return c.Wait(ctx)
	})
}

// output takes the child and the given pipes, drains the pipes
// concurrently and waits for exit.
func output(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[outputArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	t := st.Resources()
	if a.StdoutRID != nil && a.StderrRID != nil && *a.StdoutRID == *a.StderrRID {
		return ops.Fail(errors.InvalidInput(errors.PhaseDecode, "stdoutRid and stderrRid must differ"))
	}
	if _, err := resource.Get[*Child](t, a.RID); err != nil {
		return ops.Fail(err)
	}
	for _, rid := range []*resource.ID{a.StdoutRID, a.StderrRID} {
		if rid == nil {
			continue
		}
		if _, err := resource.Get[*Output](t, *rid); err != nil {
			return ops.Fail(err)
		}
	}

	var stdout, stderr *Output
	if a.StdoutRID != nil {
		if stdout, err = resource.Take[*Output](t, *a.StdoutRID); err != nil {
			return ops.Fail(err)
		}
	}
	if a.StderrRID != nil {
		if stderr, err = resource.Take[*Output](t, *a.StderrRID); err != nil {
			closeOutputs(stdout)
			return ops.Fail(err)
		}
	}
	c, err := resource.Take[*Child](t, a.RID)
	if err != nil {
		closeOutputs(stdout, stderr)
		return ops.Fail(err)
	}

	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		var res Result
		g, gctx := errgroup.WithContext(ctx)
		drain := func(o *Output, dst *[]byte) {
			if o == nil {
				return
			}
			g.Go(func() error {
				stop := context.AfterFunc(gctx, o.Close)
				defer stop()
				defer o.Close()
				b, err := io.ReadAll(o.f)
				if err != nil && gctx.Err() == nil {
					return errors.Underlying(errors.PhaseHost, err)
				}
				*dst = b
				return nil
			})
		}
		drain(stdout, &res.Stdout)
		drain(stderr, &res.Stderr)

		s, err := c.Wait(ctx)
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		res.Status = s
		return res, nil
	})
}

func closeOutputs(outs ...*Output) {
	for _, o := range outs {
		if o != nil {
			o.Close()
		}
	}
}

func kill(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[killArgs](args)
	if err != nil {
		return nil, err
	}
	c, err := resource.Get[*Child](st.Resources(), a.RID)
	if err != nil {
		return nil, err
	}
	var sig os.Signal = syscall.SIGTERM
	if a.Signal > 0 {
		sig = syscall.Signal(a.Signal)
	}
	return nil, c.Signal(sig)
}

func resize(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[resizeArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Rows == 0 || a.Cols == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "rows and cols must be positive")
	}
	p, err := resource.Get[*PTY](st.Resources(), a.RID)
	if err != nil {
		return nil, err
	}
	return nil, p.Resize(a.Rows, a.Cols)
}
