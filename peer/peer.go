// Package peer provides the handle to a remote peer whose identity has been
// confirmed by a rendezvous handshake.
package peer

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/transport"
)

// ErrNoRemoteAddr is returned when a handshaken socket has no remote address.
var ErrNoRemoteAddr = errors.New("socket has no remote address")

// Kind is the role of a remote peer.
type Kind uint8

const (
	// KindNode is a full routing node.
	KindNode Kind = iota
	// KindClient is a client that does not route for others.
	KindClient
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "Node"
	case KindClient:
		return "Client"
	default:
		return "Unknown"
	}
}

// Peer is an established connection to a peer with a confirmed identity.
type Peer struct {
	id     crypto.PublicID
	kind   Kind
	addr   net.Addr
	socket *transport.Socket

	closeOnce sync.Once
	closeErr  error
}

// FromHandshakenSocket builds a peer from a socket whose handshake has
// completed. The peer takes ownership of the socket.
func FromHandshakenSocket(socket *transport.Socket, id crypto.PublicID, kind Kind) (*Peer, error) {
	addr := socket.RemoteAddr()
	if addr == nil {
		return nil, ErrNoRemoteAddr
	}

	logrus.WithFields(logrus.Fields{
		"function": "FromHandshakenSocket",
		"peer":     id.Short(),
		"kind":     kind,
		"addr":     addr.String(),
	}).Debug("Peer established")

	return &Peer{id: id, kind: kind, addr: addr, socket: socket}, nil
}

// ID returns the confirmed identity of the peer.
func (p *Peer) ID() crypto.PublicID { return p.id }

// Kind returns the role of the peer.
func (p *Peer) Kind() Kind { return p.kind }

// RemoteAddr returns the address the peer is connected from.
func (p *Peer) RemoteAddr() net.Addr { return p.addr }

// Send writes one message to the peer.
func (p *Peer) Send(data []byte) error {
	return p.socket.WriteFrame(data)
}

// Recv reads the next message from the peer.
func (p *Peer) Recv() ([]byte, error) {
	return p.socket.ReadFrame()
}

// Close closes the connection. Subsequent calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.socket.Close()
	})
	return p.closeErr
}
