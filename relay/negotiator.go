package relay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTieBreak indicates both peers drew the same tie-breaker
	ErrTieBreak = errors.New("rendezvous tie-breaker collision")
	// ErrNegotiatorMismatch indicates the peers use different negotiators
	ErrNegotiatorMismatch = errors.New("rendezvous negotiator mismatch")
	// ErrInvalidSignal indicates a malformed negotiation payload
	ErrInvalidSignal = errors.New("invalid rendezvous signal")
)

// Negotiator turns a relay channel into a raw connection to the peer on the
// other side of the relay. Negotiate sends our payload first, then waits for
// the remote payload.
type Negotiator interface {
	Negotiate(ctx context.Context, relay Channel) (net.Conn, error)
}

// NegotiatorFunc adapts a function to the Negotiator interface.
type NegotiatorFunc func(ctx context.Context, relay Channel) (net.Conn, error)

// Negotiate calls f(ctx, relay).
func (f NegotiatorFunc) Negotiate(ctx context.Context, relay Channel) (net.Conn, error) {
	return f(ctx, relay)
}

// signal is the negotiation payload exchanged over the relay channel.
type signal struct {
	Kind       string   `json:"kind"`
	TieBreaker uint64   `json:"tie_breaker"`
	Addrs      []string `json:"addrs,omitempty"`
	Ufrag      string   `json:"ufrag,omitempty"`
	Pwd        string   `json:"pwd,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// newTieBreaker draws a random tie-breaker.
func newTieBreaker() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// exchangeSignals sends ours and waits for the remote signal.
func exchangeSignals(ctx context.Context, relay Channel, ours *signal) (*signal, error) {
	data, err := json.Marshal(ours)
	if err != nil {
		return nil, err
	}
	if err := relay.Send(ctx, data); err != nil {
		return nil, fmt.Errorf("send rendezvous signal: %w", err)
	}

	data, err = relay.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive rendezvous signal: %w", err)
	}

	theirs := &signal{}
	if err := json.Unmarshal(data, theirs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if theirs.Kind != ours.Kind {
		return nil, fmt.Errorf("%w: ours %q, theirs %q", ErrNegotiatorMismatch, ours.Kind, theirs.Kind)
	}
	return theirs, nil
}

// leads reports whether we take the active role (dial, ICE controlling).
func leads(ours, theirs *signal) (bool, error) {
	if ours.TieBreaker == theirs.TieBreaker {
		return false, ErrTieBreak
	}
	return ours.TieBreaker > theirs.TieBreaker, nil
}

// Result is the single outcome of a relay-assisted negotiation.
type Result struct {
	Conn net.Conn
	Err  error
}
