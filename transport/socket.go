package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rendezvous/limits"
)

// Socket is a framed, bidirectional message channel over a raw connection.
// Reads and writes may be used from different goroutines.
type Socket struct {
	conn    net.Conn
	reader  *bufio.Reader
	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewSocket wraps conn. The socket takes ownership of conn.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, limits.FrameHeaderSize+limits.MaxFrameSize),
	}
}

// WriteFrame sends one frame.
func (s *Socket) WriteFrame(frame []byte) error {
	if err := limits.ValidateFrameSize(frame); err != nil {
		return newSocketError("write", s.remote(), err)
	}

	buf := make([]byte, limits.FrameHeaderSize+len(frame))
	binary.BigEndian.PutUint32(buf[:limits.FrameHeaderSize], uint32(len(frame)))
	copy(buf[limits.FrameHeaderSize:], frame)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Write(buf); err != nil {
		return newSocketError("write", s.remote(), err)
	}
	return nil
}

// ReadFrame reads one frame. It returns io.EOF, unwrapped, when the
// connection is closed before a new frame starts.
func (s *Socket) ReadFrame() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var header [limits.FrameHeaderSize]byte
	if _, err := io.ReadFull(s.reader, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, newSocketError("read", s.remote(), err)
	}

	length := int(binary.BigEndian.Uint32(header[:]))
	if err := limits.ValidateLength(length); err != nil {
		return nil, newSocketError("read", s.remote(), err)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(s.reader, frame); err != nil {
		return nil, newSocketError("read", s.remote(), err)
	}
	return frame, nil
}

// BindContext applies ctx's deadline to the socket and interrupts blocked
// reads and writes once ctx is done. The returned release function detaches
// ctx and clears the deadline; it is safe to call more than once.
func (s *Socket) BindContext(ctx context.Context) (release func() error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
	}

	var (
		mu       sync.Mutex
		released bool
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !released {
			_ = s.conn.SetDeadline(time.Now())
		}
	})

	return func() error {
		mu.Lock()
		if released {
			mu.Unlock()
			return nil
		}
		released = true
		mu.Unlock()

		stop()
		if err := s.conn.SetDeadline(time.Time{}); err != nil {
			return newSocketError("clear deadline", s.remote(), err)
		}
		return nil
	}
}

// SetDeadline sets the read and write deadline of the underlying connection.
func (s *Socket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// RemoteAddr returns the remote network address, or nil if unknown.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

func (s *Socket) remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
