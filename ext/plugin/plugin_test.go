package plugin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
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

// Minimal binary encoding helpers. Every length used here fits in one
// LEB128 byte.
func section(id byte, body ...byte) []byte {
	return append([]byte{id, byte(len(body))}, body...)
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func body(code ...byte) []byte {
	b := append([]byte{0x00}, code...)
	return append([]byte{byte(len(b))}, b...)
}

// testModule exports:
//
//	add(i32, i32) i32   sum
//	make(i64) i32       resource_new
//	drop(i32) i32       resource_close
//	boom()              unreachable
//	spin()              loops forever
func testModule() []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)
	types := section(0x01, concat(
		[]byte{0x04},
		[]byte{0x60, 0x01, i64, 0x01, i32},
		[]byte{0x60, 0x01, i32, 0x01, i32},
		[]byte{0x60, 0x02, i32, i32, 0x01, i32},
		[]byte{0x60, 0x00, 0x00},
	)...)
	imports := section(0x02, concat(
		[]byte{0x02},
		name("env"), name("resource_new"), []byte{0x00, 0x00},
		name("env"), name("resource_close"), []byte{0x00, 0x01},
	)...)
	funcs := section(0x03, 0x05, 0x02, 0x00, 0x01, 0x03, 0x03)
	exports := section(0x07, concat(
		[]byte{0x05},
		name("add"), []byte{0x00, 0x02},
		name("make"), []byte{0x00, 0x03},
		name("drop"), []byte{0x00, 0x04},
		name("boom"), []byte{0x00, 0x05},
		name("spin"), []byte{0x00, 0x06},
	)...)
	code := section(0x0a, concat(
		[]byte{0x05},
		body(0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b),
		body(0x20, 0x00, 0x10, 0x00, 0x0b),
		body(0x20, 0x00, 0x10, 0x01, 0x0b),
		body(0x00, 0x0b),
		body(0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b),
	)...)
	return concat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types, imports, funcs, exports, code,
	)
}

func newRuntime(t *testing.T, perms *permissions.Permissions) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(context.Background(),
		runtime.WithLogger(zaptest.NewLogger(t)),
		runtime.WithStdio(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}),
		runtime.WithPermissions(perms),
		runtime.WithExtensions(Extension(Config{})),
	)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func callOp(t *testing.T, rt *runtime.Runtime, op string, args ops.Args) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := rt.Call(ctx, op, args)
	if err != nil {
		t.Fatalf("%s: %v", op, err)
	}
	return v
}

func openInline(t *testing.T, rt *runtime.Runtime) (resource.ID, *Library) {
	t.Helper()
	rid := callOp(t, rt, OpOpen, ops.Args{Value: map[string]any{"name": "test"}, Bufs: [][]byte{testModule()}}).(resource.ID)
	p, err := resource.Get[*Plugin](rt.Resources(), rid)
	if err != nil {
		t.Fatalf("get plugin: %v", err)
	}
	return rid, p.Library()
}

func callFn(t *testing.T, rt *runtime.Runtime, rid resource.ID, fn string, args ...int64) []int64 {
	t.Helper()
	return callOp(t, rt, OpCall, ops.Args{Value: map[string]any{"rid": rid, "fn": fn, "args": args}}).([]int64)
}

func TestOpenAndCall(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	rid, lib := openInline(t, rt)

	if lib.Name() != "test" {
		t.Errorf("Expected name test, got %q", lib.Name())
	}
	got := callOp(t, rt, OpExports, ops.Args{Value: rid})
	want := []string{"add", "boom", "drop", "make", "spin"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected exports %v, got %v", want, got)
	}

	tests := []struct {
		args []int64
		want int64
	}{
		{[]int64{2, 40}, 42},
		{[]int64{-1, 1}, 0},
		{[]int64{-5, 2}, -3},
	}
	for _, tt := range tests {
		res := callFn(t, rt, rid, "add", tt.args...)
		if len(res) != 1 || res[0] != tt.want {
			t.Errorf("add%v: expected %d, got %v", tt.args, tt.want, res)
		}
	}
}

func TestPluginResourcesKeepLibraryLoaded(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	rid, lib := openInline(t, rt)

	res := callFn(t, rt, rid, "make", 99)
	valueRID := resource.ID(res[0])
	if got := callOp(t, rt, OpValue, ops.Args{Value: valueRID}); got != int64(99) {
		t.Fatalf("Expected value 99, got %v", got)
	}
	if lib.Refs() != 2 {
		t.Fatalf("Expected 2 shares, got %d", lib.Refs())
	}

	callOp(t, rt, runtime.OpClose, ops.Args{Value: rid})
	if lib.Refs() != 1 {
		t.Fatalf("Expected the value to keep a share, got %d", lib.Refs())
	}
	if got := callOp(t, rt, OpValue, ops.Args{Value: valueRID}); got != int64(99) {
		t.Fatalf("Expected value to survive plugin close, got %v", got)
	}

	callOp(t, rt, runtime.OpClose, ops.Args{Value: valueRID})
	if lib.Refs() != 0 {
		t.Fatalf("Expected library unloaded, got %d shares", lib.Refs())
	}
}

func TestCallHoldsNoShareUntilRun(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	rid, lib := openInline(t, rt)
	ctx := context.Background()

	st, release, err := rt.State().Borrow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	op := call(ctx, st, ops.Args{Value: map[string]any{"rid": rid, "fn": "add", "args": []int64{2, 3}}})
	release()
	if !op.IsAsync() {
		t.Fatalf("Expected an async op, got error %v", op.Err())
	}
	if lib.Refs() != 1 {
		t.Fatalf("Expected an unrun call to hold no share, got %d", lib.Refs())
	}

	v, err := op.Future()(ctx, rt.State())
	if err != nil {
		t.Fatalf("run call: %v", err)
	}
	if !reflect.DeepEqual(v, []int64{5}) {
		t.Fatalf("Expected [5], got %v", v)
	}
	if lib.Refs() != 1 {
		t.Fatalf("Expected the call to release its share, got %d", lib.Refs())
	}

	callOp(t, rt, runtime.OpClose, ops.Args{Value: rid})
	if _, err := lib.Call(ctx, rt.Resources(), "add", 1, 1); !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("Expected a call on an unloaded library to be cancelled, got %v", err)
	}
}

func TestPluginClosesResource(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	rid, lib := openInline(t, rt)

	valueRID := callFn(t, rt, rid, "make", 7)[0]
	if res := callFn(t, rt, rid, "drop", valueRID); res[0] != 0 {
		t.Fatalf("Expected drop to succeed, got %d", res[0])
	}
	if res := callFn(t, rt, rid, "drop", valueRID); res[0] != -1 {
		t.Fatalf("Expected second drop to fail, got %d", res[0])
	}
	if _, err := rt.Call(context.Background(), OpValue, ops.Args{Value: valueRID}); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if lib.Refs() != 1 {
		t.Fatalf("Expected only the plugin share, got %d", lib.Refs())
	}
}

func TestPluginClosesOnlyOwnResources(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	first, _ := openInline(t, rt)
	second, _ := openInline(t, rt)

	foreign := callFn(t, rt, second, "make", 3)[0]
	for _, target := range []int64{0, 1, 2, int64(first), int64(second), foreign} {
		if res := callFn(t, rt, first, "drop", target); res[0] != -1 {
			t.Fatalf("Expected drop(%d) to be refused, got %d", target, res[0])
		}
		if !rt.Resources().Has(resource.ID(target)) {
			t.Fatalf("Expected resource %d to stay open", target)
		}
	}

	if res := callFn(t, rt, second, "drop", foreign); res[0] != 0 {
		t.Fatalf("Expected the owner to close its value, got %d", res[0])
	}
}

func TestCallErrors(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	rid, _ := openInline(t, rt)

	tests := []struct {
		name string
		fn   string
		args []int64
		kind errors.Kind
	}{
		{"unknown function", "missing", nil, errors.KindNotFound},
		{"wrong arity", "add", []int64{1}, errors.KindInvalidInput},
		{"trap", "boom", nil, errors.KindUnderlying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Call(context.Background(), OpCall, ops.Args{Value: map[string]any{"rid": rid, "fn": tt.fn, "args": tt.args}})
			if k, _ := errors.KindOf(err); k != tt.kind {
				t.Fatalf("Expected %s, got %v", tt.kind, err)
			}
		})
	}

	// A trap does not poison later calls.
	if res := callFn(t, rt, rid, "add", 1, 2); res[0] != 3 {
		t.Fatalf("Expected 3 after trap, got %v", res)
	}
}

func TestCallCancelled(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})
	_, lib := openInline(t, rt)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := lib.Call(ctx, rt.Resources(), "spin")
	if !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("Expected cancelled, got %v", err)
	}
}

func TestOpenFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wasm")
	if err := os.WriteFile(path, testModule(), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := newRuntime(t, &permissions.Permissions{Plugin: true, Read: []string{dir}})
	rid := callOp(t, rt, OpOpen, ops.Args{Value: map[string]any{"path": path}}).(resource.ID)
	p, err := resource.Get[*Plugin](rt.Resources(), rid)
	if err != nil {
		t.Fatal(err)
	}
	if p.Library().Name() != "test.wasm" {
		t.Fatalf("Expected name from path, got %q", p.Library().Name())
	}

	other := newRuntime(t, &permissions.Permissions{Plugin: true, Read: []string{filepath.Join(dir, "sub")}})
	_, err = other.Call(context.Background(), OpOpen, ops.Args{Value: map[string]any{"path": path}})
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("Expected read denied, got %v", err)
	}
}

func TestPluginRequiresPermission(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{})

	_, err := rt.Call(context.Background(), OpOpen, ops.Args{Bufs: [][]byte{testModule()}})
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("Expected permission denied, got %v", err)
	}
}

func TestOpenInvalidModule(t *testing.T) {
	rt := newRuntime(t, &permissions.Permissions{Plugin: true})

	_, err := rt.Call(context.Background(), OpOpen, ops.Args{Bufs: [][]byte{[]byte("not wasm")}})
	if err == nil {
		t.Fatal("Expected load to fail")
	}
	if rt.Resources().Len() != 3 {
		t.Fatalf("Expected only stdio resources, got %d", rt.Resources().Len())
	}
}
