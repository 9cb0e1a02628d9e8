package crypto

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/runtime"
)

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(context.Background(),
		runtime.WithLogger(zaptest.NewLogger(t)),
		runtime.WithStdio(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}),
		runtime.WithExtensions(Extension()),
	)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestSealOpenRoundTrip(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	v, err := rt.Call(ctx, OpGenerateKey, ops.Args{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rid := v.(resource.ID)

	msg := []byte("attack at dawn")
	aad := []byte("header")
	sealed, err := rt.Call(ctx, OpSeal, ops.Args{Value: rid, Bufs: [][]byte{msg, aad}})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed.([]byte), msg) {
		t.Fatal("Expected ciphertext to hide the plaintext")
	}

	opened, err := rt.Call(ctx, OpOpen, ops.Args{Value: rid, Bufs: [][]byte{sealed.([]byte), aad}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened.([]byte), msg) {
		t.Fatalf("Expected %q, got %q", msg, opened)
	}

	_, err = rt.Call(ctx, OpOpen, ops.Args{Value: rid, Bufs: [][]byte{sealed.([]byte), []byte("other")}})
	if k, _ := errors.KindOf(err); k != errors.KindInvalidInput {
		t.Fatalf("Expected authentication failure, got %v", err)
	}
}

func TestSealUsesFreshNonces(t *testing.T) {
	k, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	a, _ := k.Seal([]byte("x"), nil)
	b, _ := k.Seal([]byte("x"), nil)
	if bytes.Equal(a, b) {
		t.Fatal("Expected two seals of the same message to differ")
	}
}

func TestImportedKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 32)
	k1, err := NewKey(raw)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := NewKey(raw)
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := k1.Seal([]byte("shared"), nil)
	got, err := k2.Open(msg, nil)
	if err != nil || string(got) != "shared" {
		t.Fatalf("Expected shared key to open, got %q, %v", got, err)
	}

	if _, err := NewKey([]byte("short")); err == nil {
		t.Fatal("Expected short key to be rejected")
	}
}

func TestClosedKey(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	v, err := rt.Call(ctx, OpGenerateKey, ops.Args{Bufs: [][]byte{bytes.Repeat([]byte{1}, 32)}})
	if err != nil {
		t.Fatal(err)
	}
	rid := v.(resource.ID)
	k, _ := resource.Get[*Key](rt.Resources(), rid)

	if _, err := rt.Call(ctx, runtime.OpClose, ops.Args{Value: rid}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k.raw, make([]byte, 32)) {
		t.Fatal("Expected key bytes zeroed on close")
	}
	if _, err := rt.Call(ctx, OpSeal, ops.Args{Value: rid, Bufs: [][]byte{[]byte("x")}}); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if _, err := k.Seal([]byte("x"), nil); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Expected closed key to fail, got %v", err)
	}
}

func TestRandom(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	v, err := rt.Call(ctx, OpRandom, ops.Args{Value: 16})
	if err != nil {
		t.Fatal(err)
	}
	if len(v.([]byte)) != 16 {
		t.Fatalf("Expected 16 bytes, got %d", len(v.([]byte)))
	}
	if _, err := rt.Call(ctx, OpRandom, ops.Args{Value: MaxRandomSize + 1}); err == nil {
		t.Fatal("Expected oversize request to fail")
	}
}
