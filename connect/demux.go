package connect

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
	"github.com/opd-ai/rendezvous/transport"
)

// ErrAlreadyRegistered is returned by Register for a UID that already has a
// consumer.
var ErrAlreadyRegistered = errors.New("uid already registered")

// ErrDemuxClosed is returned by Register after Close.
var ErrDemuxClosed = errors.New("demux closed")

// consumerCapacity is the number of inbound connections queued per UID.
const consumerCapacity = 8

// Demux accepts inbound connections, reads their first handshake message
// and routes Connect requests to the consumer registered for the claimed
// UID. Connections nobody waits for are closed.
type Demux struct {
	handshakeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	consumers map[crypto.PublicID]chan ConnectMessage
	listeners []net.Listener
	closed    bool
}

// NewDemux creates a demux. A zero handshakeTimeout means
// DefaultHandshakeTimeout.
func NewDemux(handshakeTimeout time.Duration) *Demux {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Demux{
		handshakeTimeout: handshakeTimeout,
		ctx:              ctx,
		cancel:           cancel,
		consumers:        make(map[crypto.PublicID]chan ConnectMessage),
	}
}

// Serve accepts connections from l until l fails or the demux is closed.
// It returns nil once the demux is closed.
func (d *Demux) Serve(l net.Listener) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDemuxClosed
	}
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Demux.Serve",
		"addr":     l.Addr().String(),
	}).Info("Accepting rendezvous connections")

	for {
		conn, err := l.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Demux.Serve",
				"addr":     l.Addr().String(),
				"error":    err.Error(),
			}).Error("Accept failed")
			return err
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(conn)
		}()
	}
}

// Register returns the stream of inbound connect requests claiming uid and
// the function that ends it. Ending the stream closes the channel and every
// connection still queued on it.
func (d *Demux) Register(uid crypto.PublicID) (<-chan ConnectMessage, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, nil, ErrDemuxClosed
	}
	if _, exists := d.consumers[uid]; exists {
		return nil, nil, ErrAlreadyRegistered
	}

	ch := make(chan ConnectMessage, consumerCapacity)
	d.consumers[uid] = ch

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			d.mu.Lock()
			if d.consumers[uid] == ch {
				delete(d.consumers, uid)
				close(ch)
			}
			d.mu.Unlock()
			drainConsumer(ch)
		})
	}
	return ch, unregister, nil
}

// Close stops serving, ends every registered stream and waits for pending
// handshakes to finish.
func (d *Demux) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cancel()

	var errs []error
	for _, l := range d.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	consumers := d.consumers
	d.consumers = make(map[crypto.PublicID]chan ConnectMessage)
	for _, ch := range consumers {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	for _, ch := range consumers {
		drainConsumer(ch)
	}
	return errors.Join(errs...)
}

// handleConn reads the first message of an inbound connection and routes it.
func (d *Demux) handleConn(conn net.Conn) {
	socket := transport.NewSocket(conn)
	remote := conn.RemoteAddr().String()

	ctx, cancel := context.WithTimeout(d.ctx, d.handshakeTimeout)
	release := socket.BindContext(ctx)
	msg, err := handshake.Receive(socket)
	releaseErr := release()
	cancel()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Demux.handleConn",
			"remote":   remote,
			"error":    err.Error(),
		}).Debug("Failed to read first handshake message")
		_ = socket.Close()
		return
	}
	if releaseErr != nil {
		_ = socket.Close()
		return
	}
	if msg.Type != handshake.TypeConnect {
		logrus.WithFields(logrus.Fields{
			"function": "Demux.handleConn",
			"remote":   remote,
			"type":     msg.Type.String(),
		}).Warn("Rejecting connection with unexpected first message")
		_ = socket.Close()
		return
	}

	d.deliver(ConnectMessage{Socket: socket, Request: msg.Request}, remote)
}

// deliver queues msg for the consumer of its UID or closes its socket.
func (d *Demux) deliver(msg ConnectMessage, remote string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, exists := d.consumers[msg.Request.UID]
	if !exists {
		logrus.WithFields(logrus.Fields{
			"function": "Demux.deliver",
			"remote":   remote,
			"peer":     msg.Request.UID.Short(),
		}).Warn("Rejecting connect request for unregistered peer")
		_ = msg.Socket.Close()
		return
	}

	select {
	case ch <- msg:
		logrus.WithFields(logrus.Fields{
			"function": "Demux.deliver",
			"remote":   remote,
			"peer":     msg.Request.UID.Short(),
		}).Debug("Routed inbound connect request")
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Demux.deliver",
			"remote":   remote,
			"peer":     msg.Request.UID.Short(),
		}).Warn("Consumer queue full, dropping connection")
		_ = msg.Socket.Close()
	}
}

// drainConsumer closes every socket left on a closed consumer channel.
func drainConsumer(ch <-chan ConnectMessage) {
	for msg := range ch {
		_ = msg.Socket.Close()
	}
}
