package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// MultiDialer dispatches dials to the dialer registered for the address
// network, so callers can mix TCP and QUIC addresses freely.
type MultiDialer struct {
	dialers map[string]Dialer
	mu      sync.RWMutex
}

// NewMultiDialer creates a multi-dialer with TCP registered.
func NewMultiDialer() *MultiDialer {
	md := &MultiDialer{
		dialers: make(map[string]Dialer),
	}
	md.RegisterDialer(NetworkTCP, &TCPDialer{})
	return md
}

// RegisterDialer registers the dialer for a network, replacing any previous one.
func (md *MultiDialer) RegisterDialer(network string, dialer Dialer) {
	md.mu.Lock()
	defer md.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "MultiDialer.RegisterDialer",
		"network":  network,
		"dialer":   fmt.Sprintf("%T", dialer),
	}).Debug("Registering dialer")

	md.dialers[network] = dialer
}

// Networks returns the networks that have a registered dialer.
func (md *MultiDialer) Networks() []string {
	md.mu.RLock()
	defer md.mu.RUnlock()

	networks := make([]string, 0, len(md.dialers))
	for network := range md.dialers {
		networks = append(networks, network)
	}
	return networks
}

// Dial selects the dialer for addr.Network() and dials.
func (md *MultiDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	md.mu.RLock()
	dialer, exists := md.dialers[addr.Network()]
	md.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoDialer, addr.Network())
	}
	return dialer.Dial(ctx, addr)
}
