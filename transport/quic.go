package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// quicALPN is the ALPN protocol negotiated on rendezvous QUIC connections.
const quicALPN = "rendezvous/1"

// quicIdleTimeout bounds how long a silent QUIC connection stays open.
const quicIdleTimeout = 30 * time.Second

// streamConn wraps the single bidirectional stream of a QUIC connection as a
// net.Conn.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the stream and the connection carrying it.
func (c *streamConn) Close() error {
	err := c.Stream.Close()
	_ = c.conn.CloseWithError(0, "")
	return err
}

// DefaultQUICClientTLS returns the client TLS configuration. Certificates are
// not verified: peer identity is established by the Connect handshake.
func DefaultQUICClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{quicALPN},
	}
}

// GenerateQUICServerTLS returns a server TLS configuration with a fresh
// self-signed certificate.
func GenerateQUICServerTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "rendezvous"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{quicALPN},
	}, nil
}

// QUICDialer dials QUIC addresses and opens one stream per connection.
type QUICDialer struct {
	tlsConfig *tls.Config
}

// NewQUICDialer creates a QUIC dialer. A nil tlsConfig uses DefaultQUICClientTLS.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	if tlsConfig == nil {
		tlsConfig = DefaultQUICClientTLS()
	}
	return &QUICDialer{tlsConfig: tlsConfig}
}

// Dial connects to addr and opens the stream used for framing.
func (d *QUICDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "QUICDialer.Dial",
		"address":  addr.String(),
	}).Debug("Dialing QUIC address")

	conn, err := quic.DialAddr(ctx, addr.String(), d.tlsConfig, &quic.Config{
		MaxIdleTimeout: quicIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &streamConn{Stream: stream, conn: conn}, nil
}

// QUICListener adapts a QUIC listener to net.Listener. Each accepted
// connection yields the first stream the remote opens.
type QUICListener struct {
	listener  *quic.Listener
	conns     chan net.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ListenQUIC starts a QUIC listener on listenAddr. A nil tlsConfig generates a
// self-signed certificate.
func ListenQUIC(listenAddr string, tlsConfig *tls.Config) (*QUICListener, error) {
	if tlsConfig == nil {
		var err error
		tlsConfig, err = GenerateQUICServerTLS()
		if err != nil {
			return nil, err
		}
	}

	ln, err := quic.ListenAddr(listenAddr, tlsConfig, &quic.Config{
		MaxIdleTimeout: quicIdleTimeout,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &QUICListener{
		listener: ln,
		conns:    make(chan net.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.acceptConnections()

	logrus.WithFields(logrus.Fields{
		"function": "ListenQUIC",
		"address":  ln.Addr().String(),
	}).Info("QUIC listener started")

	return l, nil
}

// acceptConnections accepts QUIC connections until the listener closes.
func (l *QUICListener) acceptConnections() {
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			return
		}
		go l.acceptStream(conn)
	}
}

// acceptStream waits for the remote's first stream and hands it to Accept.
func (l *QUICListener) acceptStream(conn *quic.Conn) {
	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "QUICListener.acceptStream",
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Debug("QUIC connection closed before opening a stream")
		_ = conn.CloseWithError(0, "")
		return
	}

	sc := &streamConn{Stream: stream, conn: conn}
	select {
	case l.conns <- sc:
	case <-l.ctx.Done():
		_ = sc.Close()
	}
}

// Accept returns the next stream connection.
func (l *QUICListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Close stops the listener.
func (l *QUICListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.listener.Close()
	})
	return err
}

// Addr returns the listening address as a QUICAddr.
func (l *QUICListener) Addr() net.Addr {
	if udp, ok := l.listener.Addr().(*net.UDPAddr); ok {
		return &QUICAddr{UDP: udp}
	}
	return l.listener.Addr()
}
