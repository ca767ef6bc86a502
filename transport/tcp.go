package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPDialer dials TCP addresses.
type TCPDialer struct {
	// KeepAlive is passed to net.Dialer; zero uses the system default.
	KeepAlive time.Duration
}

// Dial connects to addr over TCP.
func (d *TCPDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "TCPDialer.Dial",
		"address":  addr.String(),
	}).Debug("Dialing TCP address")

	nd := &net.Dialer{KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ListenTCP opens a TCP listener on listenAddr.
func ListenTCP(listenAddr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenTCP",
		"address":  listener.Addr().String(),
	}).Info("TCP listener started")

	return listener, nil
}
