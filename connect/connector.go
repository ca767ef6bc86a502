package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
	"github.com/opd-ai/rendezvous/peer"
	"github.com/opd-ai/rendezvous/relay"
	"github.com/opd-ai/rendezvous/transport"
)

// Attempt paths, used in logs.
const (
	pathDirect   = "direct"
	pathIncoming = "incoming"
	pathRelay    = "relay"
)

// Connector performs rendezvous connects.
type Connector struct {
	dialer     transport.Dialer
	negotiator relay.Negotiator
	config     *Config
}

// NewConnector creates a connector. A nil dialer dials TCP only; a nil
// negotiator disables the relay-assisted path; a nil config means
// DefaultConfig().
func NewConnector(dialer transport.Dialer, negotiator relay.Negotiator, config *Config) *Connector {
	if dialer == nil {
		dialer = transport.NewMultiDialer()
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Connector{dialer: dialer, negotiator: negotiator, config: config}
}

// PrepareConnectionInfo builds a connection descriptor pair for one connect.
// It starts relay negotiation in the background and waits until our relay
// payload is available. The public half is sent to the remote out-of-band;
// the private half is passed to Connect.
func (c *Connector) PrepareConnectionInfo(ctx context.Context, id crypto.PublicID, directAddrs []net.Addr) (LocalConnectionInfo, RemoteConnectionInfo, error) {
	ours := LocalConnectionInfo{ID: id}
	theirs := RemoteConnectionInfo{ID: id, ForDirect: append([]net.Addr(nil), directAddrs...)}
	if c.negotiator == nil {
		return ours, theirs, nil
	}

	relaySide, ourSide := relay.NewBiChannelPair()

	// The negotiation outlives this call; it is bounded by its own timeout.
	rctx, cancel := context.WithTimeout(context.Background(), c.config.rendezvousTimeout())
	negotiate := relay.NegotiatorFunc(func(ctx context.Context, ch relay.Channel) (net.Conn, error) {
		defer cancel()
		return c.negotiator.Negotiate(ctx, ch)
	})
	rx := StartRendezvousConnect(rctx, negotiate, relaySide)

	payload, err := ourSide.Recv(ctx)
	if err != nil {
		_ = ourSide.Close()
		if errors.Is(err, relay.ErrChannelClosed) {
			if res := <-rx; res.Err != nil {
				err = res.Err
			} else if res.Conn != nil {
				res.Conn.Close()
			}
		}
		return LocalConnectionInfo{}, RemoteConnectionInfo{}, fmt.Errorf("prepare connection info: %w", err)
	}

	ours.ConnectionRx = rx
	ours.RendezvousChannel = ourSide
	theirs.P2PConnInfo = payload
	return ours, theirs, nil
}

// attemptResult is the outcome of one attempt. On success socket and
// release are set; the attempt context stays bound to the socket until
// release is called.
type attemptResult struct {
	path    string
	socket  *transport.Socket
	uid     crypto.PublicID
	release func() error
	err     *SingleConnectionError
}

// discard closes the socket of a successful attempt that lost the race.
func (r attemptResult) discard() {
	if r.socket == nil {
		return
	}
	_ = r.release()
	_ = r.socket.Close()
}

// Connect races every path to the remote and returns the first peer whose
// handshake validates. Both peers call Connect at the same time with the
// descriptors they exchanged. incoming carries connections the remote
// opened toward us and may be nil.
func (c *Connector) Connect(ctx context.Context, nameHash crypto.NameHash, ours LocalConnectionInfo, theirs RemoteConnectionInfo, incoming <-chan ConnectMessage) (*peer.Peer, error) {
	if ours.ID == theirs.ID {
		return nil, &ConnectError{Kind: ConnectRequestedToSelf}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.timeout())
	defer cancel()

	req := handshake.ConnectRequest{UID: ours.ID, NameHash: nameHash}
	results := make(chan attemptResult)
	var wg sync.WaitGroup

	spawn := func(path string, run func(ctx context.Context) attemptResult) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			actx, acancel := c.attemptContext(ctx)
			res := run(actx)
			res.path = path
			if res.err != nil {
				if c.attemptTimedOut(ctx, actx) {
					res.err = &SingleConnectionError{Kind: AttemptTimedOut}
				}
				acancel()
			} else {
				bound := res.release
				res.release = func() error {
					defer acancel()
					return bound()
				}
			}

			select {
			case results <- res:
			case <-ctx.Done():
				res.discard()
			}
		}()
	}

	for _, addr := range theirs.ForDirect {
		if !c.config.whitelisted(addr) {
			logrus.WithFields(logrus.Fields{
				"function": "Connector.Connect",
				"peer":     theirs.ID.Short(),
				"addr":     addr.String(),
			}).Debug("Skipping address not in whitelist")
			continue
		}
		spawn(pathDirect, func(actx context.Context) attemptResult {
			return c.dialDirect(actx, addr, theirs.ID, nameHash, req)
		})
	}

	if ours.RendezvousChannel != nil || ours.ConnectionRx != nil {
		spawn(pathRelay, func(actx context.Context) attemptResult {
			return c.connectViaRelay(actx, ours, theirs, nameHash, req)
		})
	}

	if incoming != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-incoming:
					if !ok {
						return
					}
					spawn(pathIncoming, func(actx context.Context) attemptResult {
						return acceptIncoming(actx, msg, theirs.ID, nameHash, req)
					})
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var failures []*SingleConnectionError
	for {
		select {
		case res, ok := <-results:
			if !ok {
				logrus.WithFields(logrus.Fields{
					"function": "Connector.Connect",
					"peer":     theirs.ID.Short(),
					"attempts": len(failures),
				}).Debug("All connection attempts failed")
				return nil, &ConnectError{Kind: ConnectAllFailed, Attempts: failures}
			}
			if res.err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Connector.Connect",
					"peer":     theirs.ID.Short(),
					"path":     res.path,
					"error":    res.err.Error(),
				}).Debug("Connection attempt failed")
				failures = append(failures, res.err)
				continue
			}
			return c.finish(res)
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Connector.Connect",
				"peer":     theirs.ID.Short(),
				"attempts": len(failures),
				"error":    ctx.Err().Error(),
			}).Debug("Connect timed out")
			return nil, &ConnectError{Kind: ConnectTimedOut, Err: ctx.Err()}
		}
	}
}

// finish turns the winning attempt into a peer.
func (c *Connector) finish(res attemptResult) (*peer.Peer, error) {
	if err := res.release(); err != nil {
		_ = res.socket.Close()
		return nil, &ConnectError{Kind: ConnectChooseConnection, Err: err}
	}

	p, err := peer.FromHandshakenSocket(res.socket, res.uid, peer.KindNode)
	if err != nil {
		_ = res.socket.Close()
		return nil, &ConnectError{Kind: ConnectIo, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connector.Connect",
		"peer":     res.uid.Short(),
		"path":     res.path,
		"addr":     p.RemoteAddr().String(),
	}).Info("Rendezvous connection established")

	return p, nil
}

// attemptContext derives the context of one attempt.
func (c *Connector) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, c.config.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

// attemptTimedOut reports whether an attempt failed because its own
// ceiling expired while the operation was still running.
func (c *Connector) attemptTimedOut(ctx, actx context.Context) bool {
	if c.config.AttemptTimeout <= 0 || ctx.Err() != nil {
		return false
	}
	deadline, ok := actx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// dialDirect dials one advertised address and runs the outgoing handshake.
func (c *Connector) dialDirect(ctx context.Context, addr net.Addr, expected crypto.PublicID, nameHash crypto.NameHash, req handshake.ConnectRequest) attemptResult {
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return attemptResult{err: attemptError(AttemptIo, err)}
	}
	return handshakeOutgoing(ctx, conn, expected, nameHash, req)
}

// connectViaRelay hands the remote's relay payload to our negotiator and
// runs the outgoing handshake on the connection it delivers.
func (c *Connector) connectViaRelay(ctx context.Context, ours LocalConnectionInfo, theirs RemoteConnectionInfo, nameHash crypto.NameHash, req handshake.ConnectRequest) attemptResult {
	if ours.RendezvousChannel == nil || ours.ConnectionRx == nil {
		drainRelay(ours.ConnectionRx)
		return attemptResult{err: &SingleConnectionError{Kind: AttemptDeadChannel}}
	}
	if err := ours.RendezvousChannel.Send(ctx, theirs.P2PConnInfo); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connector.connectViaRelay",
			"peer":     theirs.ID.Short(),
			"error":    err.Error(),
		}).Debug("Relay channel rejected payload")
		drainRelay(ours.ConnectionRx)
		return attemptResult{err: &SingleConnectionError{Kind: AttemptDeadChannel}}
	}

	select {
	case res, ok := <-ours.ConnectionRx:
		if !ok {
			return attemptResult{err: &SingleConnectionError{Kind: AttemptDeadChannel}}
		}
		if res.Err != nil {
			var attemptErr *SingleConnectionError
			if errors.As(res.Err, &attemptErr) {
				return attemptResult{err: attemptErr}
			}
			return attemptResult{err: attemptError(AttemptRendezvousConnect, res.Err)}
		}
		if res.Conn == nil {
			return attemptResult{err: &SingleConnectionError{Kind: AttemptDeadChannel}}
		}
		return handshakeOutgoing(ctx, res.Conn, theirs.ID, nameHash, req)
	case <-ctx.Done():
		drainRelay(ours.ConnectionRx)
		return attemptResult{err: &SingleConnectionError{Kind: AttemptTimedOut}}
	}
}

// drainRelay closes a relay connection negotiated after its attempt gave up.
func drainRelay(rx <-chan relay.Result) {
	if rx == nil {
		return
	}
	go func() {
		if res, ok := <-rx; ok && res.Conn != nil {
			_ = res.Conn.Close()
		}
	}()
}

// handshakeOutgoing sends our request on a fresh connection and validates
// the single message the remote answers with.
func handshakeOutgoing(ctx context.Context, conn net.Conn, expected crypto.PublicID, nameHash crypto.NameHash, req handshake.ConnectRequest) attemptResult {
	socket := transport.NewSocket(conn)
	release := socket.BindContext(ctx)
	// Not every connection honours deadlines; an abandoned handshake closes
	// its connection.
	abandon := context.AfterFunc(ctx, func() { _ = socket.Close() })

	fail := func(err *SingleConnectionError) attemptResult {
		abandon()
		_ = release()
		_ = socket.Close()
		return attemptResult{err: err}
	}

	if err := handshake.Send(socket, handshake.NewConnect(req)); err != nil {
		return fail(attemptError(AttemptSocket, err))
	}

	msg, err := handshake.Receive(socket)
	switch {
	case errors.Is(err, io.EOF):
		return fail(&SingleConnectionError{Kind: AttemptConnectionDropped})
	case errors.Is(err, handshake.ErrUnknownMessageType):
		return fail(&SingleConnectionError{Kind: AttemptUnexpectedMessage})
	case err != nil:
		return fail(attemptError(AttemptSocket, err))
	case msg.Type != handshake.TypeConnect:
		return fail(&SingleConnectionError{Kind: AttemptUnexpectedMessage})
	}

	if err := validateConnectRequest(expected, nameHash, msg.Request); err != nil {
		return fail(err)
	}
	if !abandon() {
		return fail(attemptError(AttemptSocket, net.ErrClosed))
	}
	return attemptResult{socket: socket, uid: msg.Request.UID, release: release}
}

// acceptIncoming validates a request the remote already sent and answers
// with ours.
func acceptIncoming(ctx context.Context, msg ConnectMessage, expected crypto.PublicID, nameHash crypto.NameHash, req handshake.ConnectRequest) attemptResult {
	if err := validateConnectRequest(expected, nameHash, msg.Request); err != nil {
		_ = msg.Socket.Close()
		return attemptResult{err: err}
	}

	release := msg.Socket.BindContext(ctx)
	abandon := context.AfterFunc(ctx, func() { _ = msg.Socket.Close() })
	err := handshake.Send(msg.Socket, handshake.NewConnect(req))
	if err == nil && !abandon() {
		err = net.ErrClosed
	}
	if err != nil {
		abandon()
		_ = release()
		_ = msg.Socket.Close()
		return attemptResult{err: attemptError(AttemptSocket, err)}
	}
	return attemptResult{socket: msg.Socket, uid: expected, release: release}
}
