package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer indicates no dialer is registered for an address network
	ErrNoDialer = errors.New("no dialer for address network")

	// ErrInvalidAddress indicates an address string that cannot be parsed
	ErrInvalidAddress = errors.New("invalid address")

	// ErrListenerClosed indicates the listener has been closed
	ErrListenerClosed = errors.New("listener closed")
)

// SocketError represents a socket fault with additional context.
type SocketError struct {
	Op   string // operation that caused the error
	Addr string // remote address if known
	Err  error  // underlying error
}

func (e *SocketError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("socket %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// newSocketError creates a new SocketError
func newSocketError(op, addr string, err error) *SocketError {
	return &SocketError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
