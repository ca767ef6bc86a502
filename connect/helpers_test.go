package connect

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
	"github.com/opd-ai/rendezvous/transport"
)

var (
	testNameHash = crypto.NewNameHash("rendezvous-test")
	ourID        = crypto.PublicID{0x01}
	theirID      = crypto.PublicID{0x02}
	strangerID   = crypto.PublicID{0x03}
)

// remoteBehaviour controls how a fake remote answers our Connect request.
type remoteBehaviour struct {
	// reply is sent after reading our request; nil closes the connection.
	reply *handshake.Message
	// silent reads our request and then never answers.
	silent bool

	// raw is written as the answer frame instead of reply.
	raw []byte
}

// fakeRemote plays the remote side of a handshake on conn. It delivers the
// request it read, if any.
func fakeRemote(conn net.Conn, b remoteBehaviour) <-chan handshake.ConnectRequest {
	requests := make(chan handshake.ConnectRequest, 1)
	go func() {
		socket := transport.NewSocket(conn)
		msg, err := handshake.Receive(socket)
		if err != nil {
			_ = conn.Close()
			return
		}
		requests <- msg.Request
		switch {
		case b.silent:
			return
		case b.raw != nil:
			_ = socket.WriteFrame(b.raw)
		case b.reply == nil:
			_ = conn.Close()
		default:
			_ = handshake.Send(socket, b.reply)
		}
	}()
	return requests
}

// connectReply is a valid answer from the expected remote.
func connectReply(uid crypto.PublicID, nameHash crypto.NameHash) *handshake.Message {
	return handshake.NewConnect(handshake.ConnectRequest{UID: uid, NameHash: nameHash})
}

// pipeDialer hands out one end of a pipe per dial and runs a fake remote on
// the other end.
type pipeDialer struct {
	behaviour remoteBehaviour

	mu       sync.Mutex
	dialed   []string
	requests []<-chan handshake.ConnectRequest
	remotes  []net.Conn
}

func (d *pipeDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	local, remote := net.Pipe()

	d.mu.Lock()
	d.dialed = append(d.dialed, addr.String())
	d.requests = append(d.requests, fakeRemote(remote, d.behaviour))
	d.remotes = append(d.remotes, remote)
	d.mu.Unlock()

	return local, nil
}

func (d *pipeDialer) dialedAddrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *pipeDialer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.remotes {
		_ = c.Close()
	}
}

// failingDialer fails every dial with the error mapped to the address.
type failingDialer map[string]error

func (d failingDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	if err, ok := d[addr.String()]; ok {
		return nil, err
	}
	return nil, errors.New("unreachable")
}

// tcpAddr builds a TCP address on the loopback host with the given port.
func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

// noRelay is a LocalConnectionInfo without a relay path.
func noRelay(id crypto.PublicID) LocalConnectionInfo {
	return LocalConnectionInfo{ID: id}
}

var errClearDeadline = errors.New("clear deadline refused")

// trackedConn wraps a connection, records whether it was closed and can
// misbehave the way some transports do.
type trackedConn struct {
	net.Conn

	// noDeadlines ignores every deadline.
	noDeadlines bool

	// failClear fails clearing the deadline.
	failClear bool

	// noRemote hides the remote address.
	noRemote bool

	mu     sync.Mutex
	closed bool
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *trackedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *trackedConn) SetDeadline(t time.Time) error {
	if c.failClear && t.IsZero() {
		return errClearDeadline
	}
	if c.noDeadlines {
		return nil
	}
	return c.Conn.SetDeadline(t)
}

func (c *trackedConn) RemoteAddr() net.Addr {
	if c.noRemote {
		return nil
	}
	return c.Conn.RemoteAddr()
}
