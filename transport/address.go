package transport

import (
	"fmt"
	"net"
	"strings"
)

const (
	// NetworkTCP is the Network() value of TCP addresses.
	NetworkTCP = "tcp"
	// NetworkQUIC is the Network() value of QUIC addresses.
	NetworkQUIC = "quic"
)

// QUICAddr is a UDP address reached over QUIC. It exists so that dialers can
// tell QUIC endpoints from plain UDP ones by Network().
type QUICAddr struct {
	UDP *net.UDPAddr
}

// Network returns "quic".
func (a *QUICAddr) Network() string { return NetworkQUIC }

// String returns the host:port form.
func (a *QUICAddr) String() string {
	if a == nil || a.UDP == nil {
		return "<nil>"
	}
	return a.UDP.String()
}

// ParseAddr parses "tcp://host:port", "quic://host:port", or a bare
// "host:port" (TCP).
func ParseAddr(s string) (net.Addr, error) {
	network := NetworkTCP
	hostport := s
	if i := strings.Index(s, "://"); i >= 0 {
		network = s[:i]
		hostport = s[i+3:]
	}

	switch network {
	case NetworkTCP:
		addr, err := net.ResolveTCPAddr("tcp", hostport)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
		}
		return addr, nil
	case NetworkQUIC:
		addr, err := net.ResolveUDPAddr("udp", hostport)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
		}
		return &QUICAddr{UDP: addr}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported network %q", ErrInvalidAddress, network)
	}
}

// FormatAddr is the inverse of ParseAddr.
func FormatAddr(addr net.Addr) string {
	return addr.Network() + "://" + addr.String()
}

// AddrIP extracts the IP of a TCP, UDP or QUIC address, or nil.
func AddrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case *QUICAddr:
		if a.UDP != nil {
			return a.UDP.IP
		}
	}
	return nil
}

// LocalAddrs expands a listener address bound to an unspecified IP into the
// loopback address plus every IPv4 interface address, keeping the port and
// network. Other addresses are returned unchanged.
func LocalAddrs(addr net.Addr) []net.Addr {
	ip := AddrIP(addr)
	if ip == nil || !ip.IsUnspecified() {
		return []net.Addr{addr}
	}

	addrs := []net.Addr{withIP(addr, net.IPv4(127, 0, 0, 1))}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return addrs
	}
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		addrs = append(addrs, withIP(addr, ipNet.IP))
	}
	return addrs
}

// withIP returns a copy of addr with its IP replaced.
func withIP(addr net.Addr, ip net.IP) net.Addr {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *net.UDPAddr:
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *QUICAddr:
		return &QUICAddr{UDP: &net.UDPAddr{IP: ip, Port: a.UDP.Port}}
	}
	return addr
}
