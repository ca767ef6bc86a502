package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/connect"
	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/peer"
	"github.com/opd-ai/rendezvous/relay"
	"github.com/opd-ai/rendezvous/transport"
)

var (
	// ErrUnknownRendezvousMode indicates an unsupported Options.RendezvousMode
	ErrUnknownRendezvousMode = errors.New("unknown rendezvous mode")
	// ErrInvalidWhitelistIP indicates an unparsable whitelist entry
	ErrInvalidWhitelistIP = errors.New("invalid whitelisted node ip")
	// ErrNodeClosed indicates the node has been closed
	ErrNodeClosed = errors.New("node closed")
)

// Node is a peer that can rendezvous-connect to other peers of its network.
type Node struct {
	options  *Options
	keyPair  *crypto.KeyPair
	nameHash crypto.NameHash

	listeners []net.Listener
	demux     *connect.Demux
	connector *connect.Connector

	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a node, opens its listeners and starts accepting inbound
// rendezvous connections.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}

	keyPair, err := loadKeyPair(options)
	if err != nil {
		return nil, err
	}

	config, err := connectorConfig(options)
	if err != nil {
		return nil, err
	}

	negotiator, err := newNegotiator(options)
	if err != nil {
		return nil, err
	}

	n := &Node{
		options:  options,
		keyPair:  keyPair,
		nameHash: crypto.NewNameHash(options.NetworkName),
		demux:    connect.NewDemux(options.HandshakeTimeout),
	}

	dialer := transport.NewMultiDialer()
	if err := n.listen(dialer); err != nil {
		n.Close()
		return nil, err
	}
	n.connector = connect.NewConnector(dialer, negotiator, config)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"id":       keyPair.ID().Short(),
		"network":  options.NetworkName,
		"mode":     string(options.RendezvousMode),
	}).Info("Rendezvous node started")

	return n, nil
}

// loadKeyPair restores the configured identity or generates a new one.
func loadKeyPair(options *Options) (*crypto.KeyPair, error) {
	if options.SecretKey != nil {
		return crypto.FromSecretKey(*options.SecretKey)
	}
	return crypto.GenerateKeyPair()
}

// connectorConfig translates options into connector settings.
func connectorConfig(options *Options) (*connect.Config, error) {
	config := &connect.Config{
		Timeout:           options.Timeout,
		AttemptTimeout:    options.AttemptTimeout,
		RendezvousTimeout: options.RendezvousTimeout,
	}
	for _, s := range options.WhitelistedNodeIPs {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWhitelistIP, s)
		}
		config.WhitelistedNodeIPs = append(config.WhitelistedNodeIPs, ip)
	}
	return config, nil
}

// newNegotiator builds the negotiator for the configured rendezvous mode.
func newNegotiator(options *Options) (relay.Negotiator, error) {
	switch options.RendezvousMode {
	case RendezvousTCP:
		return &relay.TCPNegotiator{ListenAddr: options.RendezvousListenAddress}, nil
	case RendezvousICE:
		return &relay.ICENegotiator{STUNServers: options.STUNServers}, nil
	case RendezvousNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRendezvousMode, options.RendezvousMode)
	}
}

// listen opens the configured listeners, registers their dialers and hands
// them to the demux.
func (n *Node) listen(dialer *transport.MultiDialer) error {
	tcpListener, err := transport.ListenTCP(n.options.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	n.listeners = append(n.listeners, tcpListener)

	if n.options.QUICListenAddress != "" {
		quicListener, err := transport.ListenQUIC(n.options.QUICListenAddress, nil)
		if err != nil {
			return fmt.Errorf("listen quic: %w", err)
		}
		n.listeners = append(n.listeners, quicListener)
		dialer.RegisterDialer(transport.NetworkQUIC, transport.NewQUICDialer(nil))
	}

	for _, l := range n.listeners {
		n.wg.Add(1)
		go func(l net.Listener) {
			defer n.wg.Done()
			if err := n.demux.Serve(l); err != nil && !errors.Is(err, connect.ErrDemuxClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "Node.listen",
					"addr":     l.Addr().String(),
					"error":    err.Error(),
				}).Error("Listener stopped")
			}
		}(l)
	}
	return nil
}

// ID returns the node's identity.
func (n *Node) ID() crypto.PublicID {
	return n.keyPair.ID()
}

// SecretKey returns the node's secret key, for restoring the identity later.
func (n *Node) SecretKey() [32]byte {
	return n.keyPair.Private
}

// NameHash returns the hash of the node's network name.
func (n *Node) NameHash() crypto.NameHash {
	return n.nameHash
}

// DirectAddrs returns the addresses remotes can dial directly.
func (n *Node) DirectAddrs() []net.Addr {
	var addrs []net.Addr
	for _, l := range n.listeners {
		addrs = append(addrs, transport.LocalAddrs(l.Addr())...)
	}
	return addrs
}

// PrepareConnectionInfo builds the descriptor pair for one connect. The
// public half is sent to the remote; the private half is passed to Connect.
func (n *Node) PrepareConnectionInfo(ctx context.Context) (connect.LocalConnectionInfo, connect.RemoteConnectionInfo, error) {
	if n.isClosed() {
		return connect.LocalConnectionInfo{}, connect.RemoteConnectionInfo{}, ErrNodeClosed
	}
	return n.connector.PrepareConnectionInfo(ctx, n.ID(), n.DirectAddrs())
}

// Connect rendezvous-connects to the remote described by theirs. The remote
// must call Connect with our descriptor at the same time.
func (n *Node) Connect(ctx context.Context, ours connect.LocalConnectionInfo, theirs connect.RemoteConnectionInfo) (*peer.Peer, error) {
	if n.isClosed() {
		return nil, ErrNodeClosed
	}

	incoming, unregister, err := n.demux.Register(theirs.ID)
	if err != nil {
		return nil, err
	}
	defer unregister()

	return n.connector.Connect(ctx, n.nameHash, ours, theirs, incoming)
}

// Close stops the listeners and wipes the secret key. Pending inbound
// handshakes end; peers already connected stay open.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()

		n.closeErr = n.demux.Close()
		// Listeners never handed to the demux are closed here too.
		for _, l := range n.listeners {
			if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) && n.closeErr == nil {
				n.closeErr = err
			}
		}
		n.wg.Wait()
		n.keyPair.Wipe()
	})
	return n.closeErr
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
