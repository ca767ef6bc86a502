package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/transport"
)

const kindTCP = "tcp"

// TCPNegotiator negotiates a TCP connection over the relay channel. Each peer
// opens a listener and publishes its addresses; the peer with the larger
// tie-breaker dials, the other accepts.
type TCPNegotiator struct {
	// ListenAddr is the local listen address; empty means "0.0.0.0:0".
	ListenAddr string

	// AdvertiseAddrs overrides the published host:port addresses, for
	// example with a port-forwarded external address.
	AdvertiseAddrs []string
}

// Negotiate implements Negotiator.
func (n *TCPNegotiator) Negotiate(ctx context.Context, relay Channel) (net.Conn, error) {
	listenAddr := n.ListenAddr
	if listenAddr == "" {
		listenAddr = "0.0.0.0:0"
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous listen: %w", err)
	}
	defer listener.Close()

	tieBreaker, err := newTieBreaker()
	if err != nil {
		return nil, err
	}

	ours := &signal{
		Kind:       kindTCP,
		TieBreaker: tieBreaker,
		Addrs:      n.advertised(listener.Addr()),
	}
	theirs, err := exchangeSignals(ctx, relay, ours)
	if err != nil {
		return nil, err
	}

	dialer, err := leads(ours, theirs)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "TCPNegotiator.Negotiate",
		"local_addrs":  ours.Addrs,
		"remote_addrs": theirs.Addrs,
		"dialer":       dialer,
	}).Debug("Rendezvous signals exchanged")

	if dialer {
		return dialFirst(ctx, theirs.Addrs)
	}
	return acceptOne(ctx, listener)
}

// advertised returns the addresses to publish for the listener.
func (n *TCPNegotiator) advertised(addr net.Addr) []string {
	if len(n.AdvertiseAddrs) > 0 {
		return append([]string(nil), n.AdvertiseAddrs...)
	}

	local := transport.LocalAddrs(addr)
	addrs := make([]string, 0, len(local))
	for _, a := range local {
		addrs = append(addrs, a.String())
	}
	return addrs
}

// dialResult is the outcome of one concurrent dial.
type dialResult struct {
	conn net.Conn
	err  error
}

// dialFirst dials every address concurrently and keeps the first success.
func dialFirst(ctx context.Context, addrs []string) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: remote published no addresses", ErrInvalidSignal)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dialResult, len(addrs))
	var d net.Dialer
	for _, addr := range addrs {
		go func(addr string) {
			conn, err := d.DialContext(ctx, "tcp", addr)
			results <- dialResult{conn, err}
		}(addr)
	}

	var lastErr error
	for i := 0; i < len(addrs); i++ {
		res := <-results
		if res.err != nil {
			lastErr = res.err
			continue
		}
		// Close any late winners once we return.
		go func(remaining int) {
			for j := 0; j < remaining; j++ {
				if late := <-results; late.conn != nil {
					late.conn.Close()
				}
			}
		}(len(addrs) - i - 1)
		return res.conn, nil
	}
	return nil, fmt.Errorf("rendezvous dial: %w", lastErr)
}

// acceptOne accepts a single connection, giving up when ctx is done.
func acceptOne(ctx context.Context, listener net.Listener) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rendezvous accept: %w", err)
	}
	return conn, nil
}
