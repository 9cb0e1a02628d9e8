package sockets

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/state"
)

// Op names.
const (
	OpListen   = "net_listen"
	OpAccept   = "net_accept"
	OpConnect  = "net_connect"
	OpShutdown = "net_shutdown"
	OpSend     = "net_datagram_send"
	OpReceive  = "net_datagram_receive"
)

// DefaultDatagramSize is the receive buffer size when none is given.
const DefaultDatagramSize = 64 * 1024

type listenArgs struct {
	Hostname  string `json:"hostname"`
	Transport string `json:"transport"`
	Port      int    `json:"port"`
}

type ridArgs struct {
	RID resource.ID `json:"rid"`
}

type shutdownArgs struct {
	RID resource.ID `json:"rid"`
	How int         `json:"how"`
}

type sendArgs struct {
	Hostname string      `json:"hostname"`
	RID      resource.ID `json:"rid"`
	Port     int         `json:"port"`
}

type receiveArgs struct {
	RID  resource.ID `json:"rid"`
	Size int         `json:"size"`
}

// Listening is the result of listen.
type Listening struct {
	LocalAddr Addr        `json:"localAddr"`
	RID       resource.ID `json:"rid"`
}

// Connection is the result of accept and connect.
type Connection struct {
	LocalAddr  Addr        `json:"localAddr"`
	RemoteAddr Addr        `json:"remoteAddr"`
	RID        resource.ID `json:"rid"`
}

// Datagram is the result of a datagram receive.
type Datagram struct {
	Data       []byte `json:"data"`
	RemoteAddr Addr   `json:"remoteAddr"`
}

// Extension returns the networking extension. Stream reads and writes go
// through the core read and write ops.
func Extension() *extension.Extension {
	return extension.New("sockets",
		extension.WithOp(OpListen, ops.SyncFunc(listen)),
		extension.WithOp(OpAccept, accept),
		extension.WithOp(OpConnect, connect),
		extension.WithOp(OpShutdown, ops.SyncFunc(shutdown)),
		extension.WithOp(OpSend, send),
		extension.WithOp(OpReceive, receive),
	)
}

func checkNet(st *state.State, host string, port int) error {
	return permissions.Check(st, func(p *permissions.Permissions) error {
		return p.CheckNet(host, port)
	})
}

func logger(st *state.State) *zap.Logger {
	if l, ok := state.TryGet[*zap.Logger](st); ok {
		return l
	}
	return zap.NewNop()
}

func listen(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[listenArgs](args)
	if err != nil {
		return nil, err
	}
	if err := checkNet(st, a.Hostname, a.Port); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))

	var r interface {
		resource.Resource
		Addr() Addr
	}
	switch a.Transport {
	case "", "tcp":
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}
		ln, err := net.ListenTCP("tcp", tcpAddr)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}
		r = NewTCPListener(ln)
	case "udp":
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}
		r = NewUDPSocket(conn)
	default:
		return nil, errors.Unsupported(errors.PhaseHost, "transport "+a.Transport)
	}

	rid, err := st.Resources().Add(r)
	if err != nil {
		return nil, err
	}
	logger(st).Debug("listening", zap.Uint32("rid", uint32(rid)), zap.String("addr", addr), zap.String("transport", a.Transport))
	return Listening{RID: rid, LocalAddr: r.Addr()}, nil
}

func accept(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[ridArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	l, err := resource.Get[*TCPListener](st.Resources(), a.RID)
	if err != nil {
		return ops.Fail(err)
	}
	g, err := l.cell.TryBorrowMut()
	if err != nil {
		if errors.Is(err, errors.ErrBusy) {
			return ops.Fail(errors.Busy("tcpListener", "another accept task is ongoing"))
		}
		return ops.Fail(err)
	}

	return ops.Async(func(ctx context.Context, sh *state.Shared) (any, error) {
		defer g.Release()
		ln := *g.Value()

		stop := context.AfterFunc(ctx, func() { _ = ln.SetDeadline(time.Now()) })
		conn, err := ln.AcceptTCP()
		stop()
		if err != nil {
			if l.cancel.Cancelled() || ctx.Err() != nil {
				return nil, errors.Cancelled(errors.PhaseHost, err)
			}
			return nil, errors.Underlying(errors.PhaseHost, err)
		}

		s := NewTCPStream(conn)
		rid, err := sh.Resources().Add(s)
		if err != nil {
			return nil, err
		}
		return Connection{RID: rid, LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
	})
}

func connect(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[listenArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	if a.Transport != "" && a.Transport != "tcp" {
		return ops.Fail(errors.Unsupported(errors.PhaseHost, "transport "+a.Transport))
	}
	if err := checkNet(st, a.Hostname, a.Port); err != nil {
		return ops.Fail(err)
	}
	addr := net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))

	return ops.Async(func(ctx context.Context, sh *state.Shared) (any, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.Underlying(errors.PhaseHost, err)
		}

		s := NewTCPStream(c.(*net.TCPConn))
		rid, err := sh.Resources().Add(s)
		if err != nil {
			return nil, err
		}
		return Connection{RID: rid, LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
	})
}

func shutdown(st *state.State, args ops.Args) (any, error) {
	a, err := ops.Decode[shutdownArgs](args)
	if err != nil {
		return nil, err
	}
	var serr error
	err = resource.GetMut(st.Resources(), a.RID, func(s *TCPStream) error {
		serr = s.Shutdown(a.How)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nil, serr
}

func send(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[sendArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	data, ok := args.Buf(0)
	if !ok {
		return ops.Fail(errors.InvalidInput(errors.PhaseHost, "datagram send needs one buffer"))
	}
	if err := checkNet(st, a.Hostname, a.Port); err != nil {
		return ops.Fail(err)
	}
	u, err := resource.Get[*UDPSocket](st.Resources(), a.RID)
	if err != nil {
		return ops.Fail(err)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port)))
	if err != nil {
		return ops.Fail(errors.Underlying(errors.PhaseHost, err))
	}

	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		return resource.OrCancel(ctx, u.cancel, func(ctx context.Context) (int, error) {
			g, err := u.cell.BorrowMut(ctx)
			if err != nil {
				return 0, err
			}
			defer g.Release()
			n, err := (*g.Value()).WriteToUDP(data, addr)
			if err != nil {
				return n, errors.Underlying(errors.PhaseHost, err)
			}
			return n, nil
		})
	})
}

func receive(_ context.Context, st *state.State, args ops.Args) ops.Op {
	a, err := ops.Decode[receiveArgs](args)
	if err != nil {
		return ops.Fail(err)
	}
	u, err := resource.Get[*UDPSocket](st.Resources(), a.RID)
	if err != nil {
		return ops.Fail(err)
	}
	size := a.Size
	if size <= 0 {
		size = DefaultDatagramSize
	}

	return ops.Async(func(ctx context.Context, _ *state.Shared) (any, error) {
		return resource.OrCancel(ctx, u.cancel, func(ctx context.Context) (Datagram, error) {
			g, err := u.cell.BorrowMut(ctx)
			if err != nil {
				return Datagram{}, err
			}
			defer g.Release()

			conn := *g.Value()
			stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
			defer stop()

			buf := make([]byte, size)
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return Datagram{}, errors.Underlying(errors.PhaseHost, err)
			}
			return Datagram{Data: buf[:n], RemoteAddr: toAddr(from, "udp")}, nil
		})
	})
}
