package sockets

import (
	"context"
	"io"
	"net"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/resource"
)

// Addr is a transport address as reported to script code.
type Addr struct {
	Hostname  string `json:"hostname"`
	Transport string `json:"transport"`
	Port      int    `json:"port"`
}

func toAddr(a net.Addr, transport string) Addr {
	switch v := a.(type) {
	case *net.TCPAddr:
		return Addr{Hostname: v.IP.String(), Port: v.Port, Transport: transport}
	case *net.UDPAddr:
		return Addr{Hostname: v.IP.String(), Port: v.Port, Transport: transport}
	default:
		return Addr{Hostname: a.String(), Transport: transport}
	}
}

// TCPListener is a listening TCP socket. Only one accept may be in
// flight at a time.
type TCPListener struct {
	ln     *net.TCPListener
	cell   *resource.Cell[*net.TCPListener]
	cancel *resource.CancelHandle
}

// NewTCPListener wraps ln.
func NewTCPListener(ln *net.TCPListener) *TCPListener {
	return &TCPListener{
		ln:     ln,
		cell:   resource.NewCell("tcpListener", ln),
		cancel: resource.NewCancelHandle(),
	}
}

func (l *TCPListener) Name() string { return "tcpListener" }

// Addr returns the bound address.
func (l *TCPListener) Addr() Addr { return toAddr(l.ln.Addr(), "tcp") }

// Close cancels a pending accept and closes the socket.
func (l *TCPListener) Close() {
	l.cancel.Cancel()
	l.cell.Close()
	_ = l.ln.Close()
}

// TCPStream is a connected TCP socket. Reads and writes are each
// serialized; closing the stream ends a pending read cleanly.
type TCPStream struct {
	conn   *net.TCPConn
	reader *resource.Cell[*net.TCPConn]
	writer *resource.Cell[*net.TCPConn]
	cancel *resource.CancelHandle
}

// NewTCPStream wraps conn.
func NewTCPStream(conn *net.TCPConn) *TCPStream {
	return &TCPStream{
		conn:   conn,
		reader: resource.NewCell("tcpStream", conn),
		writer: resource.NewCell("tcpStream", conn),
		cancel: resource.NewCancelHandle(),
	}
}

func (s *TCPStream) Name() string { return "tcpStream" }

// LocalAddr returns the local address.
func (s *TCPStream) LocalAddr() Addr { return toAddr(s.conn.LocalAddr(), "tcp") }

// RemoteAddr returns the peer address.
func (s *TCPStream) RemoteAddr() Addr { return toAddr(s.conn.RemoteAddr(), "tcp") }

// Read reads from the stream. A read interrupted by Close reports io.EOF.
func (s *TCPStream) Read(p []byte) (int, error) {
	g, err := s.reader.BorrowMut(context.Background())
	if err != nil {
		return 0, io.EOF
	}
	defer g.Release()

	n, err := (*g.Value()).Read(p)
	if err != nil && s.cancel.Cancelled() {
		return n, io.EOF
	}
	return n, err
}

// Write writes to the stream.
func (s *TCPStream) Write(p []byte) (int, error) {
	g, err := s.writer.BorrowMut(context.Background())
	if err != nil {
		return 0, err
	}
	defer g.Release()

	n, err := (*g.Value()).Write(p)
	if err != nil && s.cancel.Cancelled() {
		return n, errors.Cancelled(errors.PhaseHost, err)
	}
	return n, err
}

// Shutdown closes the read (0) or write (1) half of the connection.
func (s *TCPStream) Shutdown(how int) error {
	var err error
	switch how {
	case 0:
		err = s.conn.CloseRead()
	case 1:
		err = s.conn.CloseWrite()
	default:
		return errors.InvalidInput(errors.PhaseHost, "shutdown mode must be 0 (read) or 1 (write)")
	}
	if err != nil {
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}

// Close ends pending reads and closes the connection.
func (s *TCPStream) Close() {
	s.cancel.Cancel()
	s.reader.Close()
	s.writer.Close()
	_ = s.conn.Close()
}

// UDPSocket is a bound datagram socket. Sends and receives wait their turn.
type UDPSocket struct {
	conn   *net.UDPConn
	cell   *resource.Cell[*net.UDPConn]
	cancel *resource.CancelHandle
}

// NewUDPSocket wraps conn.
func NewUDPSocket(conn *net.UDPConn) *UDPSocket {
	return &UDPSocket{
		conn:   conn,
		cell:   resource.NewCell("udpSocket", conn),
		cancel: resource.NewCancelHandle(),
	}
}

func (u *UDPSocket) Name() string { return "udpSocket" }

// Addr returns the bound address.
func (u *UDPSocket) Addr() Addr { return toAddr(u.conn.LocalAddr(), "udp") }

// Close cancels waiting operations and closes the socket.
func (u *UDPSocket) Close() {
	u.cancel.Cancel()
	u.cell.Close()
	_ = u.conn.Close()
}
