package ops

import (
	"testing"
	"time"

	"github.com/wippyai/op-runtime/errors"
)

type connectArgs struct {
	Hostname string        `json:"hostname"`
	Port     uint16        `json:"port"`
	Timeout  time.Duration `json:"timeout"`
}

func TestDecode(t *testing.T) {
	args := Args{Value: map[string]any{
		"hostname": "localhost",
		"port":     float64(8080),
		"timeout":  "2s",
	}}

	got, err := Decode[connectArgs](args)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Hostname != "localhost" || got.Port != 8080 || got.Timeout != 2*time.Second {
		t.Fatalf("Decode = %+v", got)
	}
}

func TestDecodeScalar(t *testing.T) {
	rid, err := Decode[uint32](Args{Value: float64(3)})
	if err != nil || rid != 3 {
		t.Fatalf("Decode = %d, %v", rid, err)
	}

	zero, err := Decode[uint32](Args{})
	if err != nil || zero != 0 {
		t.Fatalf("nil value should decode to zero, got %d, %v", zero, err)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode[connectArgs](Args{Value: "not-a-struct"})
	if !errors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Fatalf("Expected invalid input, got %v", err)
	}
}

func TestArgsBuf(t *testing.T) {
	a := Args{Bufs: [][]byte{[]byte("x")}}
	if b, ok := a.Buf(0); !ok || string(b) != "x" {
		t.Fatalf("Buf(0) = %q, %v", b, ok)
	}
	if _, ok := a.Buf(1); ok {
		t.Fatal("Buf(1) should be absent")
	}
}
