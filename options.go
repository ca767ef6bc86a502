package rendezvous

import (
	"time"

	"github.com/opd-ai/rendezvous/connect"
)

// RendezvousMode selects the relay-assisted negotiator.
type RendezvousMode string

const (
	// RendezvousNone disables the relay-assisted path.
	RendezvousNone RendezvousMode = "none"
	// RendezvousTCP negotiates a TCP connection between both peers' listeners.
	RendezvousTCP RendezvousMode = "tcp"
	// RendezvousICE negotiates a UDP path with ICE.
	RendezvousICE RendezvousMode = "ice"
)

// Options contains node configuration.
type Options struct {
	// NetworkName separates networks; peers only connect within one.
	NetworkName string

	// SecretKey restores a saved identity. Nil generates a new one.
	SecretKey *[32]byte

	ListenAddress     string
	QUICListenAddress string

	Timeout           time.Duration
	AttemptTimeout    time.Duration
	HandshakeTimeout  time.Duration
	RendezvousTimeout time.Duration

	// WhitelistedNodeIPs restricts direct dials to these IPs when non-empty.
	WhitelistedNodeIPs []string

	RendezvousMode          RendezvousMode
	RendezvousListenAddress string
	STUNServers             []string
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		NetworkName:             "rendezvous",
		ListenAddress:           "0.0.0.0:0",
		QUICListenAddress:       "", // Disabled by default
		Timeout:                 connect.DefaultTimeout,
		AttemptTimeout:          0,
		HandshakeTimeout:        connect.DefaultHandshakeTimeout,
		RendezvousTimeout:       connect.DefaultRendezvousTimeout,
		RendezvousMode:          RendezvousTCP,
		RendezvousListenAddress: "0.0.0.0:0",
	}
}
