package ops

import (
	"context"
	"testing"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/state"
)

func constHandler(v any) Handler {
	return SyncFunc(func(*state.State, Args) (any, error) { return v, nil })
}

func call(t *testing.T, r *Registry, name string, args Args) Op {
	t.Helper()
	h, _, ok := r.Lookup(name)
	if !ok {
		t.Fatalf("op %q not registered", name)
	}
	return h(context.Background(), state.New(), args)
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry(CollisionError)
	if err := r.Register("echo", SyncFunc(func(_ *state.State, a Args) (any, error) {
		return a.Value, nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("add", constHandler(0)); err != nil {
		t.Fatal(err)
	}

	op := call(t, r, "echo", Args{Value: 42})
	if op.IsAsync() {
		t.Fatal("echo should be sync")
	}
	if op.Value() != 42 || op.Err() != nil {
		t.Fatalf("Expected 42, got %v, %v", op.Value(), op.Err())
	}

	if id, ok := r.ID("add"); !ok || id != 1 {
		t.Fatalf("Expected add to have id 1, got %d, %v", id, ok)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "echo" || names[1] != "add" {
		t.Fatalf("Names = %v", names)
	}
	if _, _, ok := r.Lookup("missing"); ok {
		t.Fatal("Lookup of missing op should fail")
	}
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry(CollisionError)
	if err := r.Register("", constHandler(1)); !errors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Fatalf("Expected invalid input for empty name, got %v", err)
	}
	if err := r.Register("x", nil); err == nil {
		t.Fatal("Expected error for nil handler")
	}
}

func TestRegistry_CollisionError(t *testing.T) {
	r := NewRegistry(CollisionError)
	if err := r.Register("op", constHandler(1)); err != nil {
		t.Fatal(err)
	}
	err := r.Register("op", constHandler(2))
	if !errors.Is(err, errors.ErrDuplicate) {
		t.Fatalf("Expected duplicate error, got %v", err)
	}
	if v := call(t, r, "op", Args{}).Value(); v != 1 {
		t.Fatalf("first registration should survive, got %v", v)
	}
}

func TestRegistry_CollisionReplace(t *testing.T) {
	r := NewRegistry(CollisionReplace)
	_ = r.Register("a", constHandler(0))
	_ = r.Register("op", constHandler(1))
	if err := r.Register("op", constHandler(2)); err != nil {
		t.Fatalf("replace policy should accept duplicate: %v", err)
	}
	if v := call(t, r, "op", Args{}).Value(); v != 2 {
		t.Fatalf("last registration should win, got %v", v)
	}
	if id, _ := r.ID("op"); id != 1 {
		t.Fatalf("replaced op should keep its id, got %d", id)
	}
	if r.Len() != 2 {
		t.Fatalf("Expected 2 ops, got %d", r.Len())
	}
}

func TestRegistry_Sealed(t *testing.T) {
	r := NewRegistry(CollisionError)
	_ = r.Register("early", constHandler(1))
	r.Seal()
	if !r.Sealed() {
		t.Fatal("Sealed should be true")
	}
	if err := r.Register("late", constHandler(2)); !errors.Is(err, errors.ErrSealed) {
		t.Fatalf("Expected sealed error, got %v", err)
	}
	if _, _, ok := r.Lookup("early"); !ok {
		t.Fatal("sealed registry should still resolve ops")
	}
}

func TestParseCollisionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CollisionPolicy
		wantErr bool
	}{
		{"", CollisionError, false},
		{"error", CollisionError, false},
		{"Replace", CollisionReplace, false},
		{"merge", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCollisionPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCollisionPolicy(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCollisionPolicy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
