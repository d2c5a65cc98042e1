// Package wire implements the Link & Framing layer (C1): one bidirectional
// TCP connection with deadline-bounded line reads, exact-length byte
// transfers, and the ASCII line-oriented message encoding used by the
// manager/worker protocol (C5 §6.2).
package wire

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Sentinel errors for link-local failures, checked with errors.Is the same
// way the rest of this codebase checks wrapped sentinels.
var (
	ErrTimeout     = errors.New("wire: timeout")
	ErrEndOfStream = errors.New("wire: end of stream")
	ErrIOError     = errors.New("wire: io error")
)

// MaxControlLine bounds an ordinary protocol line (verbs, status, headers).
const MaxControlLine = 1024

// MaxHeaderLine bounds a line introducing a binary payload (file headers).
const MaxHeaderLine = 1 << 20

// Link wraps one connection. It carries no protocol state of its own; every
// operation takes an explicit deadline supplied by the caller, matching the
// cooperative event loop's single-threaded suspension model.
type Link struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewLink wraps an established connection.
func NewLink(conn net.Conn) *Link {
	return &Link{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

// Dial opens a new Link to addr, bounded by deadline.
func Dial(addr string, deadline time.Time) (*Link, error) {
	ctxDeadline := deadline
	if ctxDeadline.IsZero() {
		ctxDeadline = time.Now().Add(30 * time.Second)
	}
	d := net.Dialer{Deadline: ctxDeadline}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(ctxDeadline)
	return NewLink(conn), nil
}

// ReadLine reads up to the next newline, with trailing CR/LF stripped. It
// fails with ErrTimeout if deadline elapses, ErrEndOfStream on clean close,
// and rejects a line that grows past MaxControlLine without a newline —
// the read-side counterpart to Printf's same bound on the write side, so a
// peer that never sends '\n' can't grow this connection's buffer without
// limit.
func (l *Link) ReadLine(deadline time.Time) (string, error) {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("wire: set deadline: %w", err)
	}
	var buf []byte
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", ErrTimeout
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "EOF") {
				return "", ErrEndOfStream
			}
			return "", fmt.Errorf("%w: %v", ErrIOError, err)
		}
		if b == '\n' {
			break
		}
		buf = append(buf, b)
		if len(buf) > MaxControlLine {
			return "", fmt.Errorf("wire: line exceeds %d bytes", MaxControlLine)
		}
	}
	return strings.TrimRight(string(buf), "\r"), nil
}

// ReadExact reads exactly n bytes into buf[:n].
func (l *Link) ReadExact(buf []byte, n int, deadline time.Time) error {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("wire: set deadline: %w", err)
	}
	_, err := readFull(l.r, buf[:n])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "EOF") {
			return ErrEndOfStream
		}
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteAll writes exactly n bytes from buf[:n].
func (l *Link) WriteAll(buf []byte, n int, deadline time.Time) error {
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wire: set deadline: %w", err)
	}
	written := 0
	for written < n {
		w, err := l.conn.Write(buf[written:n])
		written += w
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return ErrTimeout
			}
			return fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	return nil
}

// Printf formats and writes a line, bounded by MaxControlLine.
func (l *Link) Printf(deadline time.Time, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if len(msg) > MaxControlLine {
		return fmt.Errorf("wire: line exceeds %d bytes", MaxControlLine)
	}
	return l.WriteAll([]byte(msg), len(msg), deadline)
}

// RemoteAddress returns the peer's host and port.
func (l *Link) RemoteAddress() (string, int) {
	return splitHostPort(l.conn.RemoteAddr())
}

// LocalAddress returns this side's host and port.
func (l *Link) LocalAddress() (string, int) {
	return splitHostPort(l.conn.LocalAddr())
}

func splitHostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}

// TLSConnectionState returns the peer's negotiated TLS state when the
// underlying connection is a *tls.Conn, for auth methods that want to trust
// a peer certificate rather than run a separate handshake.
func (l *Link) TLSConnectionState() (tls.ConnectionState, bool) {
	tlsConn, ok := l.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// Close tears down the underlying connection.
func (l *Link) Close() error {
	return l.conn.Close()
}
