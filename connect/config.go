package connect

import (
	"net"
	"time"

	"github.com/opd-ai/rendezvous/transport"
)

const (
	// DefaultTimeout bounds a whole connect operation.
	DefaultTimeout = 60 * time.Second
	// DefaultRendezvousTimeout bounds relay-assisted negotiation.
	DefaultRendezvousTimeout = 2 * time.Minute
	// DefaultHandshakeTimeout bounds reading the first message of an
	// inbound connection.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config holds connector settings.
type Config struct {
	// Timeout bounds the whole connect operation. Zero means DefaultTimeout.
	Timeout time.Duration

	// AttemptTimeout bounds each attempt separately. Zero disables it.
	AttemptTimeout time.Duration

	// RendezvousTimeout bounds relay negotiation started by
	// PrepareConnectionInfo. Zero means DefaultRendezvousTimeout.
	RendezvousTimeout time.Duration

	// WhitelistedNodeIPs restricts direct dials to these IPs when non-empty.
	WhitelistedNodeIPs []net.IP
}

// DefaultConfig returns the default connector settings.
func DefaultConfig() *Config {
	return &Config{
		Timeout:           DefaultTimeout,
		RendezvousTimeout: DefaultRendezvousTimeout,
	}
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Config) rendezvousTimeout() time.Duration {
	if c.RendezvousTimeout <= 0 {
		return DefaultRendezvousTimeout
	}
	return c.RendezvousTimeout
}

// whitelisted reports whether addr may be dialed.
func (c *Config) whitelisted(addr net.Addr) bool {
	if len(c.WhitelistedNodeIPs) == 0 {
		return true
	}
	ip := transport.AddrIP(addr)
	if ip == nil {
		return false
	}
	for _, allowed := range c.WhitelistedNodeIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	return false
}
