package errors

import (
	"errors"
	"strings"
	"testing"

	"code.hybscloud.com/iox"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseBorrow,
				Kind:     KindBusy,
				Op:       "net_accept",
				Path:     []string{"args", "rid"},
				Resource: "tcpListener",
				Detail:   "another accept task is ongoing",
			},
			contains: []string{"[borrow]", "busy", "net_accept", "args.rid", "tcpListener", "another accept"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseResource,
				Kind:  KindNotFound,
			},
			contains: []string{"[resource]", "not_found"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseHost,
				Kind:   KindUnderlying,
				Detail: "connect failed",
				Cause:  errors.New("connection refused"),
			},
			contains: []string{"[host]", "underlying", "connect failed", "caused by", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Underlying(PhaseHost, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{Phase: PhaseResource, Kind: KindNotFound}

	if !err.Is(&Error{Phase: PhaseResource, Kind: KindNotFound}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseState, Kind: KindNotFound}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseResource, Kind: KindBusy}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("kind sentinel should match any phase")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("kind sentinel should not match a different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseDispatch, KindInvalidInput).
		Op("add").
		Path("args", "a").
		Resource("child").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "number", "string").
		Build()

	if err.Phase != PhaseDispatch {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseDispatch)
	}
	if err.Kind != KindInvalidInput {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidInput)
	}
	if err.Op != "add" {
		t.Errorf("Op = %v, want add", err.Op)
	}
	if len(err.Path) != 2 || err.Path[0] != "args" || err.Path[1] != "a" {
		t.Errorf("Path = %v, want [args a]", err.Path)
	}
	if err.Resource != "child" {
		t.Errorf("Resource = %v, want child", err.Resource)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected number, got string" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestBusyWouldBlock(t *testing.T) {
	err := Busy("tcpListener", "another accept task is ongoing")
	if !iox.IsWouldBlock(err) {
		t.Error("Busy should be recognised as would-block")
	}
	if !errors.Is(err, ErrBusy) {
		t.Error("Busy should match ErrBusy")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"NotFound", NotFound(PhaseState, "state", "*net.Permissions"), KindNotFound},
		{"BadResourceID", BadResourceID(3), KindNotFound},
		{"Cancelled", Cancelled(PhaseHost, nil), KindCancelled},
		{"PermissionDenied", PermissionDenied("net", "example.com"), KindPermissionDenied},
		{"Duplicate", Duplicate("echo"), KindDuplicate},
		{"Consumed", Consumed("net", "ops"), KindConsumed},
		{"Sealed", Sealed("late"), KindSealed},
		{"UnknownOp", UnknownOp("nope"), KindUnknownOp},
		{"InvalidInput", InvalidInput(PhaseDecode, "bad"), KindInvalidInput},
		{"Unsupported", Unsupported(PhaseHost, "pty"), KindUnsupported},
		{"Wrap", Wrap(PhaseLoad, KindUnderlying, errors.New("x"), "load"), KindUnderlying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if !strings.Contains(PermissionDenied("run", "").Error(), "requires run access") {
		t.Error("PermissionDenied without target should omit it")
	}
}

func TestClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{BadResourceID(1), ClassNotFound},
		{Busy("x", ""), ClassBusy},
		{Cancelled(PhaseHost, nil), ClassInterrupted},
		{PermissionDenied("net", "h"), ClassPermissionDenied},
		{UnknownOp("x"), ClassTypeError},
		{Underlying(PhaseHost, errors.New("io")), ClassError},
		{errors.New("plain"), ClassError},
	}
	for _, tt := range tests {
		if got := Class(tt.err); got != tt.want {
			t.Errorf("Class(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if k, ok := KindOf(Sealed("x")); !ok || k != KindSealed {
		t.Errorf("KindOf = %v, %v", k, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should have no kind")
	}
}
