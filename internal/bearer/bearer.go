// Package bearer provides the uniform bidirectional byte stream the
// multiplexer reads and writes, over TCP or a local unix socket/pipe.
// It is adapted from the teacher's SimpleNode dial logic (net.DialTimeout,
// explicit socket options), generalized to expose split halves rather than
// a single net.Conn, since the muxer and demuxer each own one half
// exclusively and run as independent goroutines (§5).
package bearer

import (
	"fmt"
	"io"
	"net"
	"time"
)

// Bearer is the underlying bidirectional byte stream. Reader and Writer
// are safe to use concurrently from independent goroutines: the demuxer
// calls Reader, the muxer calls Writer, and neither touches the other's
// half.
type Bearer interface {
	Reader() io.Reader
	Writer() io.Writer
	// Close tears down the underlying connection. Closing unblocks any
	// in-flight Read on Reader with an error.
	Close() error
	// LocalAddr and RemoteAddr identify the bearer's endpoints, used by
	// the handshake's simultaneous-open tie-break (§4.F) to decide which
	// side becomes initiator.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// connBearer adapts a net.Conn (TCP or unix-domain stream socket) to
// Bearer. net.Conn already permits one goroutine to Read while another
// Writes concurrently, so both halves simply delegate to the same conn.
type connBearer struct {
	conn net.Conn
}

func newConnBearer(conn net.Conn) *connBearer {
	return &connBearer{conn: conn}
}

func (b *connBearer) Reader() io.Reader      { return b.conn }
func (b *connBearer) Writer() io.Writer      { return b.conn }
func (b *connBearer) Close() error           { return b.conn.Close() }
func (b *connBearer) LocalAddr() net.Addr    { return b.conn.LocalAddr() }
func (b *connBearer) RemoteAddr() net.Addr   { return b.conn.RemoteAddr() }

// DialTCP opens a TCP bearer to addr, applying the socket options
// Cardano peers expect: TCP_NODELAY so segments aren't Nagle-coalesced,
// and SO_LINGER=0 so a closed bearer doesn't linger half-open against a
// peer that has already moved on.
func DialTCP(addr string, timeout time.Duration) (Bearer, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("bearer: dial %s: %w", addr, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("bearer: dial %s: not a TCP connection", addr)
	}
	if err := applyTCPOptions(tcpConn); err != nil {
		conn.Close()
		return nil, err
	}
	return newConnBearer(tcpConn), nil
}

// AcceptTCP wraps an already-accepted TCP connection, applying the same
// socket options DialTCP does.
func AcceptTCP(conn *net.TCPConn) (Bearer, error) {
	if err := applyTCPOptions(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return newConnBearer(conn), nil
}

func applyTCPOptions(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("bearer: set TCP_NODELAY: %w", err)
	}
	if err := conn.SetLinger(0); err != nil {
		return fmt.Errorf("bearer: set SO_LINGER: %w", err)
	}
	return nil
}

// DialUnix opens a local bearer over a unix-domain stream socket. Local
// bearers behave identically to TCP ones modulo addressing (§4.A); no
// TCP-specific socket options apply.
func DialUnix(path string, timeout time.Duration) (Bearer, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("bearer: dial %s: %w", path, err)
	}
	return newConnBearer(conn), nil
}

// AcceptUnix wraps an already-accepted unix-domain connection.
func AcceptUnix(conn net.Conn) Bearer {
	return newConnBearer(conn)
}

// NewPipe returns a pair of in-memory bearers connected back to back,
// for tests that want two cooperating peers without opening a real
// socket.
func NewPipe() (client Bearer, server Bearer) {
	a, b := net.Pipe()
	return newConnBearer(a), newConnBearer(b)
}
