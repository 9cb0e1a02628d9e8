package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/middleware"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/runtime"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Encoding != "console" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Runtime.Collision != "error" {
		t.Errorf("Expected collision error by default, got %q", cfg.Runtime.Collision)
	}
	if cfg.Runtime.CompletionCapacity != runtime.DefaultCompletionCapacity {
		t.Errorf("Expected default capacity, got %d", cfg.Runtime.CompletionCapacity)
	}
	if cfg.Permissions.Run || cfg.Permissions.Plugin || len(cfg.Permissions.Net) != 0 {
		t.Errorf("Expected every capability denied, got %+v", cfg.Permissions)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oprt.yaml")
	data := `
log:
  level: debug
  encoding: json
permissions:
  net: ["127.0.0.1", "example.com:443"]
  run: true
storage:
  dir: /tmp/oprt
runtime:
  collision: replace
plugin:
  memory_limit_pages: 16
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Encoding != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if want := []string{"127.0.0.1", "example.com:443"}; !reflect.DeepEqual(cfg.Permissions.Net, want) {
		t.Errorf("Expected net %v, got %v", want, cfg.Permissions.Net)
	}
	if !cfg.Permissions.Run {
		t.Error("Expected run permission")
	}
	if cfg.Storage.Dir != "/tmp/oprt" {
		t.Errorf("Expected storage dir, got %q", cfg.Storage.Dir)
	}
	if cfg.Runtime.Collision != "replace" {
		t.Errorf("Expected replace, got %q", cfg.Runtime.Collision)
	}
	if cfg.Plugin.MemoryLimitPages != 16 {
		t.Errorf("Expected 16 pages, got %d", cfg.Plugin.MemoryLimitPages)
	}
	// Unset keys keep their defaults.
	if cfg.Runtime.CompletionCapacity != runtime.DefaultCompletionCapacity {
		t.Errorf("Expected default capacity, got %d", cfg.Runtime.CompletionCapacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPRT_LOG_LEVEL", "warn")
	t.Setenv("OPRT_PERMISSIONS_SIGNAL", "true")
	t.Setenv("OPRT_PERMISSIONS_NET", "a.example,b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected warn, got %q", cfg.Log.Level)
	}
	if !cfg.Permissions.Signal {
		t.Error("Expected signal permission from env")
	}
	if want := []string{"a.example", "b.example"}; !reflect.DeepEqual(cfg.Permissions.Net, want) {
		t.Errorf("Expected net %v, got %v", want, cfg.Permissions.Net)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if k, _ := errors.KindOf(err); k != errors.KindInvalidInput {
		t.Fatalf("Expected invalid input, got %v", err)
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	if _, err := cfg.Logger(); err != nil {
		t.Fatalf("default logger: %v", err)
	}
	cfg.Log.Level = "loud"
	if _, err := cfg.Logger(); err == nil {
		t.Fatal("Expected invalid level to fail")
	}
}

func TestOptions(t *testing.T) {
	cfg := Default()
	log, err := cfg.Logger()
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.Options(log)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("Expected options")
	}

	cfg.Runtime.Collision = "sometimes"
	if _, err := cfg.Options(log); err == nil {
		t.Fatal("Expected unknown collision policy to fail")
	}
}

func TestOptionsMiddleware(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Disabled = []string{runtime.OpResources}
	m := middleware.NewMetrics()

	opts, err := cfg.Options(zaptest.NewLogger(t), m.Middleware())
	if err != nil {
		t.Fatal(err)
	}
	opts = append(opts, runtime.WithStdio(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}))

	ctx := context.Background()
	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close(ctx)

	_, err = rt.Call(ctx, runtime.OpResources, ops.Args{})
	if kind, _ := errors.KindOf(err); kind != errors.KindUnsupported {
		t.Fatalf("Expected disabled op to be unsupported, got %v", err)
	}

	if _, err := rt.Call(ctx, runtime.OpPrint, ops.Args{Value: map[string]any{"msg": "x"}}); err != nil {
		t.Fatalf("print: %v", err)
	}
	snap, ok := m.Op(runtime.OpPrint)
	if !ok || snap.SyncCompleted != 1 {
		t.Fatalf("Expected one completed print, got %+v", snap)
	}
	if snap, _ := m.Op(runtime.OpResources); snap.SyncDispatched != 0 {
		t.Fatalf("Expected the disabled op to never reach the metrics layer, got %+v", snap)
	}
}
