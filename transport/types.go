package transport

import (
	"context"
	"net"
)

// Dialer opens raw connections. Implementations must honour ctx for the
// whole dial, including any transport-level handshake.
type Dialer interface {
	Dial(ctx context.Context, addr net.Addr) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr net.Addr) (net.Conn, error)

// Dial calls f(ctx, addr).
func (f DialerFunc) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	return f(ctx, addr)
}
