//go:build unix

package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/runtime"
)

func newRuntime(t *testing.T, perms *permissions.Permissions) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(context.Background(),
		runtime.WithLogger(zaptest.NewLogger(t)),
		runtime.WithStdio(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}),
		runtime.WithPermissions(perms),
		runtime.WithExtensions(Extension()),
	)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func call(t *testing.T, rt *runtime.Runtime, name string, args ops.Args) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := rt.Call(ctx, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func spawnSh(t *testing.T, rt *runtime.Runtime, script string, extra map[string]any) Spawned {
	t.Helper()
	args := map[string]any{"cmd": "sh", "args": []string{"-c", script}}
	for k, v := range extra {
		args[k] = v
	}
	return call(t, rt, OpSpawn, ops.Args{Value: args}).(Spawned)
}

func TestOutputCollectsPipes(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := spawnSh(t, rt, "echo out; echo err >&2; exit 3", nil)
	if sp.StdoutRID == nil || sp.StderrRID == nil {
		t.Fatal("Expected stdout and stderr pipes")
	}
	if sp.StdinRID != nil {
		t.Fatal("Expected no stdin pipe by default")
	}

	v := call(t, rt, OpOutput, ops.Args{Value: map[string]any{
		"rid": sp.RID, "stdoutRid": *sp.StdoutRID, "stderrRid": *sp.StderrRID,
	}})
	res := v.(Result)
	if string(res.Stdout) != "out\n" {
		t.Errorf("Expected stdout %q, got %q", "out\n", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Errorf("Expected stderr %q, got %q", "err\n", res.Stderr)
	}
	if res.Status.Code != 3 || res.Status.Success {
		t.Errorf("Expected failed exit 3, got %+v", res.Status)
	}
	for _, rid := range []resource.ID{sp.RID, *sp.StdoutRID, *sp.StderrRID} {
		if rt.Resources().Has(rid) {
			t.Errorf("Expected rid %d to be taken", rid)
		}
	}
}

func TestOutputRejectsSharedPipe(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := spawnSh(t, rt, "echo out; echo err >&2", nil)
	_, err := rt.Call(context.Background(), OpOutput, ops.Args{Value: map[string]any{
		"rid": sp.RID, "stdoutRid": *sp.StdoutRID, "stderrRid": *sp.StdoutRID,
	}})
	if errors.Class(err) != errors.ClassTypeError {
		t.Fatalf("Expected invalid input for a shared pipe, got %v", err)
	}
	for _, rid := range []resource.ID{sp.RID, *sp.StdoutRID, *sp.StderrRID} {
		if !rt.Resources().Has(rid) {
			t.Fatalf("Expected rid %d to stay open after a rejected output", rid)
		}
	}

	res := call(t, rt, OpOutput, ops.Args{Value: map[string]any{
		"rid": sp.RID, "stdoutRid": *sp.StdoutRID, "stderrRid": *sp.StderrRID,
	}}).(Result)
	if string(res.Stderr) != "err\n" {
		t.Fatalf("Expected stderr %q, got %q", "err\n", res.Stderr)
	}
}

func TestWaitClosesStdin(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := spawnSh(t, rt, "cat", map[string]any{"stdin": StdioPiped})
	if sp.StdinRID == nil {
		t.Fatal("Expected a stdin pipe")
	}

	n := call(t, rt, runtime.OpWrite, ops.Args{Value: *sp.StdinRID, Bufs: [][]byte{[]byte("ping\n")}})
	if n != 5 {
		t.Fatalf("Expected 5 bytes written, got %v", n)
	}
	got := call(t, rt, runtime.OpRead, ops.Args{Value: map[string]any{"rid": *sp.StdoutRID}})
	if string(got.([]byte)) != "ping\n" {
		t.Fatalf("Expected echo from cat, got %q", got)
	}

	v := call(t, rt, OpWait, ops.Args{Value: map[string]any{"rid": sp.RID, "stdinRid": *sp.StdinRID}})
	if s := v.(Status); !s.Success {
		t.Fatalf("Expected success, got %+v", s)
	}

	_, err := rt.Call(context.Background(), OpWait, ops.Args{Value: map[string]any{"rid": sp.RID}})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected second wait to fail with not found, got %v", err)
	}
}

func TestStatusReportsExit(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := spawnSh(t, rt, "exit 7", map[string]any{"stdout": StdioNull, "stderr": StdioNull})
	deadline := time.Now().Add(5 * time.Second)
	for {
		v := call(t, rt, OpStatus, ops.Args{Value: sp.RID})
		if v != nil {
			if s := v.(Status); s.Code != 7 {
				t.Fatalf("Expected code 7, got %+v", s)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("child never exited")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusBusyWhileWaiting(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := newChild(cmd)
	defer c.Close()

	g, err := c.cell.TryBorrowMut()
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	defer g.Release()

	if _, err := c.Status(); !errors.Is(err, errors.ErrBusy) {
		t.Fatalf("Expected busy, got %v", err)
	}
}

func TestKillReportsSignal(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := call(t, rt, OpSpawn, ops.Args{Value: map[string]any{
		"cmd": "sleep", "args": []string{"10"}, "stdout": StdioNull, "stderr": StdioNull,
	}}).(Spawned)

	call(t, rt, OpKill, ops.Args{Value: map[string]any{"rid": sp.RID, "signal": 9}})
	s := call(t, rt, OpWait, ops.Args{Value: map[string]any{"rid": sp.RID}}).(Status)
	if s.Signal == nil || *s.Signal != 9 {
		t.Fatalf("Expected signal 9, got %+v", s)
	}
	if s.Code != 137 || s.Success {
		t.Fatalf("Expected code 137, got %+v", s)
	}
}

func TestCloseKillsChild(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := newChild(cmd)
	c.Close()

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("child still running after close")
	}
}

func TestSpawnRequiresRunPermission(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{})

	_, err := rt.Call(context.Background(), OpSpawn, ops.Args{Value: map[string]any{"cmd": "true"}})
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("Expected permission denied, got %v", err)
	}
}

func TestSpawnInvalidInput(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing cmd", map[string]any{}},
		{"bad stdio", map[string]any{"cmd": "true", "stdout": "sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := rt.Resources().Len()
			_, err := rt.Call(context.Background(), OpSpawn, ops.Args{Value: tt.args})
			if k, _ := errors.KindOf(err); k != errors.KindInvalidInput {
				t.Fatalf("Expected invalid input, got %v", err)
			}
			if rt.Resources().Len() != before {
				t.Fatal("Expected no resources after a failed spawn")
			}
		})
	}
}

func TestShell(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	tests := []struct {
		name    string
		args    map[string]any
		stdin   string
		stdout  string
		code    int
		success bool
	}{
		{
			name:    "params and env",
			args:    map[string]any{"script": `echo "$1 $GREETING"`, "args": []string{"hello"}, "env": map[string]string{"GREETING": "world"}},
			stdout:  "hello world\n",
			success: true,
		},
		{
			name: "exit code",
			args: map[string]any{"script": "exit 4"},
			code: 4,
		},
		{
			name:    "stdin",
			args:    map[string]any{"script": "read line; echo got $line"},
			stdin:   "abc\n",
			stdout:  "got abc\n",
			success: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ops.Args{Value: tt.args}
			if tt.stdin != "" {
				a.Bufs = [][]byte{[]byte(tt.stdin)}
			}
			res := call(t, rt, OpShell, a).(Result)
			if string(res.Stdout) != tt.stdout {
				t.Errorf("Expected stdout %q, got %q", tt.stdout, res.Stdout)
			}
			if res.Status.Code != tt.code || res.Status.Success != tt.success {
				t.Errorf("Expected code %d success %v, got %+v", tt.code, tt.success, res.Status)
			}
		})
	}
}

func TestShellParseError(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	_, err := rt.Call(context.Background(), OpShell, ops.Args{Value: map[string]any{"script": "if then fi ("}})
	if errors.Class(err) != errors.ClassTypeError {
		t.Fatalf("Expected a type error, got %v", err)
	}
}

func TestPTY(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Run: true})

	sp := call(t, rt, OpSpawn, ops.Args{Value: map[string]any{
		"cmd": "sh", "args": []string{"-c", "echo pty-ok"}, "pty": true, "rows": 24, "cols": 80,
	}}).(Spawned)
	if sp.PTYRID == nil {
		t.Fatal("Expected a pty resource")
	}

	call(t, rt, OpResize, ops.Args{Value: map[string]any{"rid": *sp.PTYRID, "rows": 40, "cols": 120}})

	var out []byte
	for !bytes.Contains(out, []byte("pty-ok")) {
		v := call(t, rt, runtime.OpRead, ops.Args{Value: map[string]any{"rid": *sp.PTYRID}})
		if v == nil {
			break
		}
		out = append(out, v.([]byte)...)
	}
	if !bytes.Contains(out, []byte("pty-ok")) {
		t.Fatalf("Expected pty output, got %q", out)
	}
	call(t, rt, OpWait, ops.Args{Value: map[string]any{"rid": sp.RID}})
}
