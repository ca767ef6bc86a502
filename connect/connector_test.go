package connect

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
	"github.com/opd-ai/rendezvous/peer"
	"github.com/opd-ai/rendezvous/relay"
	"github.com/opd-ai/rendezvous/transport"
)

// requireAllFailed asserts err aggregates exactly the given attempt kinds,
// in order.
func requireAllFailed(t *testing.T, err error, kinds ...AttemptErrorKind) *ConnectError {
	t.Helper()

	var connectErr *ConnectError
	require.True(t, errors.As(err, &connectErr), "expected ConnectError, got %v", err)
	require.Equal(t, ConnectAllFailed, connectErr.Kind, "unexpected kind: %v", err)
	require.Len(t, connectErr.Attempts, len(kinds))
	for i, kind := range kinds {
		assert.Equal(t, kind, connectErr.Attempts[i].Kind, "attempt %d", i)
	}
	return connectErr
}

func TestConnectRequestedToSelf(t *testing.T) {
	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		t.Error("self connect must not dial")
		return nil, errors.New("unexpected dial")
	})
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: ourID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 1)}}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrRequestedConnectToSelf)
}

func TestConnectDirectOutgoing(t *testing.T) {
	dialer := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(theirID, testNameHash)}}
	defer dialer.close()
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, theirID, p.ID())

	req := <-dialer.requests[0]
	assert.Equal(t, ourID, req.UID)
	assert.Equal(t, testNameHash, req.NameHash)
}

func TestConnectRejectsWrongIdentity(t *testing.T) {
	tests := []struct {
		name  string
		reply *handshake.Message
		kind  AttemptErrorKind
	}{
		{"impostor uid", connectReply(strangerID, testNameHash), AttemptInvalidUID},
		{"other network", connectReply(theirID, crypto.NewNameHash("elsewhere")), AttemptInvalidNameHash},
		{"unexpected variant", &handshake.Message{Type: handshake.TypeEchoAddrReq}, AttemptUnexpectedMessage},
		{"dropped", nil, AttemptConnectionDropped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &pipeDialer{behaviour: remoteBehaviour{reply: tt.reply}}
			defer dialer.close()
			c := NewConnector(dialer, nil, nil)

			theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
			p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

			assert.Nil(t, p)
			requireAllFailed(t, err, tt.kind)
		})
	}
}

func TestConnectUnknownMessageTypeIsUnexpected(t *testing.T) {
	dialer := &pipeDialer{behaviour: remoteBehaviour{raw: []byte{0xff}}}
	defer dialer.close()
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	requireAllFailed(t, err, AttemptUnexpectedMessage)
}

func TestConnectInvalidUIDDiagnostics(t *testing.T) {
	dialer := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(strangerID, testNameHash)}}
	defer dialer.close()
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	connectErr := requireAllFailed(t, err, AttemptInvalidUID)
	assert.Equal(t, strangerID.String(), connectErr.Attempts[0].ReceivedUID)
	assert.Equal(t, theirID.String(), connectErr.Attempts[0].ExpectedUID)
}

func TestConnectExhaustionKeepsCompletionOrder(t *testing.T) {
	slow := errors.New("slow refused")
	fast := errors.New("fast refused")
	medium := errors.New("medium refused")

	delays := map[string]time.Duration{
		"127.0.0.1:1": 60 * time.Millisecond,
		"127.0.0.1:2": 0,
		"127.0.0.1:3": 30 * time.Millisecond,
	}
	causes := map[string]error{"127.0.0.1:1": slow, "127.0.0.1:2": fast, "127.0.0.1:3": medium}

	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		time.Sleep(delays[addr.String()])
		return nil, causes[addr.String()]
	})
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{
		ID:        theirID,
		ForDirect: []net.Addr{tcpAddr("127.0.0.1", 1), tcpAddr("127.0.0.1", 2), tcpAddr("127.0.0.1", 3)},
	}
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	connectErr := requireAllFailed(t, err, AttemptIo, AttemptIo, AttemptIo)
	assert.ErrorIs(t, connectErr.Attempts[0], fast)
	assert.ErrorIs(t, connectErr.Attempts[1], medium)
	assert.ErrorIs(t, connectErr.Attempts[2], slow)
	assert.Contains(t, err.Error(), "all 3 attempts")
}

func TestConnectFirstSuccessWins(t *testing.T) {
	good := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(theirID, testNameHash)}}
	defer good.close()

	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		if addr.String() == "127.0.0.1:1" {
			return nil, errors.New("refused")
		}
		return good.Dial(ctx, addr)
	})
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{
		ID:        theirID,
		ForDirect: []net.Addr{tcpAddr("127.0.0.1", 1), tcpAddr("127.0.0.1", 2)},
	}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, theirID, p.ID())
}

func TestConnectEmptyAttemptSet(t *testing.T) {
	c := NewConnector(failingDialer{}, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	assert.Nil(t, p)
	requireAllFailed(t, err)
}

func TestConnectDeadRelay(t *testing.T) {
	relaySide, ourSide := relay.NewBiChannelPair()
	require.NoError(t, relaySide.Close())

	rx := make(chan relay.Result)
	close(rx)

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{ID: theirID, P2PConnInfo: []byte("payload")}

	incoming := make(chan ConnectMessage)
	close(incoming)

	c := NewConnector(failingDialer{}, nil, nil)
	_, err := c.Connect(context.Background(), testNameHash, ours, theirs, incoming)

	requireAllFailed(t, err, AttemptDeadChannel)
	assert.ErrorIs(t, err, ErrDeadChannel)
}

func TestConnectRelayReceiverClosed(t *testing.T) {
	_, ourSide := relay.NewBiChannelPair()
	rx := make(chan relay.Result)
	close(rx)

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{ID: theirID, P2PConnInfo: []byte("payload")}

	c := NewConnector(failingDialer{}, nil, nil)
	_, err := c.Connect(context.Background(), testNameHash, ours, theirs, nil)

	requireAllFailed(t, err, AttemptDeadChannel)
}

func TestConnectRelayAssisted(t *testing.T) {
	relaySide, ourSide := relay.NewBiChannelPair()
	local, remote := net.Pipe()
	defer remote.Close()
	requests := fakeRemote(remote, remoteBehaviour{reply: connectReply(theirID, testNameHash)})

	rx := make(chan relay.Result, 1)
	rx <- relay.Result{Conn: local}

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{ID: theirID, P2PConnInfo: []byte("their relay payload")}

	c := NewConnector(failingDialer{}, nil, nil)
	p, err := c.Connect(context.Background(), testNameHash, ours, theirs, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, theirID, p.ID())
	assert.Equal(t, ourID, (<-requests).UID)

	payload, err := relaySide.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("their relay payload"), payload)
}

func TestConnectRelayFailurePassesThrough(t *testing.T) {
	_, ourSide := relay.NewBiChannelPair()
	cause := errors.New("nat traversal failed")

	rx := make(chan relay.Result, 1)
	rx <- relay.Result{Err: attemptError(AttemptRendezvousConnect, cause)}

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{ID: theirID, P2PConnInfo: []byte("payload")}

	c := NewConnector(failingDialer{}, nil, nil)
	_, err := c.Connect(context.Background(), testNameHash, ours, theirs, nil)

	requireAllFailed(t, err, AttemptRendezvousConnect)
	assert.ErrorIs(t, err, cause)
}

func TestConnectDirectIncoming(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	incoming := make(chan ConnectMessage, 1)
	incoming <- ConnectMessage{
		Socket:  transport.NewSocket(local),
		Request: handshake.ConnectRequest{UID: theirID, NameHash: testNameHash},
	}

	replies := make(chan *handshake.Message, 1)
	go func() {
		msg, err := handshake.Receive(transport.NewSocket(remote))
		if err == nil {
			replies <- msg
		}
	}()

	c := NewConnector(failingDialer{}, nil, nil)
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), RemoteConnectionInfo{ID: theirID}, incoming)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, theirID, p.ID())
	reply := <-replies
	assert.Equal(t, handshake.TypeConnect, reply.Type)
	assert.Equal(t, ourID, reply.Request.UID)
}

func TestConnectIncomingImpostorRejected(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	incoming := make(chan ConnectMessage, 1)
	incoming <- ConnectMessage{
		Socket:  transport.NewSocket(local),
		Request: handshake.ConnectRequest{UID: strangerID, NameHash: testNameHash},
	}
	close(incoming)

	c := NewConnector(failingDialer{}, nil, nil)
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), RemoteConnectionInfo{ID: theirID}, incoming)

	requireAllFailed(t, err, AttemptInvalidUID)

	_, err = transport.NewSocket(remote).ReadFrame()
	assert.Error(t, err, "rejected socket must be closed")
}

func TestConnectOverallTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		<-block
		return nil, errors.New("released")
	})
	c := NewConnector(dialer, nil, &Config{Timeout: 50 * time.Millisecond})

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 1)}}
	start := time.Now()
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectAttemptTimeout(t *testing.T) {
	dialer := &pipeDialer{behaviour: remoteBehaviour{silent: true}}
	defer dialer.close()
	c := NewConnector(dialer, nil, &Config{Timeout: 5 * time.Second, AttemptTimeout: 50 * time.Millisecond})

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	_, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	requireAllFailed(t, err, AttemptTimedOut)
	assert.ErrorIs(t, err, ErrAttemptTimedOut)
}

func TestConnectWhitelistFiltersDirectAddresses(t *testing.T) {
	dialer := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(theirID, testNameHash)}}
	defer dialer.close()
	config := DefaultConfig()
	config.WhitelistedNodeIPs = []net.IP{net.ParseIP("127.0.0.2")}
	c := NewConnector(dialer, nil, config)

	theirs := RemoteConnectionInfo{
		ID:        theirID,
		ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000), tcpAddr("127.0.0.2", 4000)},
	}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, []string{"127.0.0.2:4000"}, dialer.dialedAddrs())
}

func TestConnectOverTCPBetweenTwoConnectors(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	demux := NewDemux(time.Second)
	defer demux.Close()
	go func() { _ = demux.Serve(listener) }()

	incoming, unregister, err := demux.Register(ourID)
	require.NoError(t, err)
	defer unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		send func([]byte) error
		recv func() ([]byte, error)
		id   crypto.PublicID
		err  error
	}
	dialerSide := make(chan outcome, 1)
	go func() {
		c := NewConnector(nil, nil, nil)
		theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{listener.Addr()}}
		p, err := c.Connect(ctx, testNameHash, noRelay(ourID), theirs, nil)
		if err != nil {
			dialerSide <- outcome{err: err}
			return
		}
		dialerSide <- outcome{send: p.Send, recv: p.Recv, id: p.ID()}
	}()

	c := NewConnector(nil, nil, nil)
	p, err := c.Connect(ctx, testNameHash, noRelay(theirID), RemoteConnectionInfo{ID: ourID}, incoming)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, ourID, p.ID())

	other := <-dialerSide
	require.NoError(t, other.err)
	assert.Equal(t, theirID, other.id)

	require.NoError(t, other.send([]byte("hello over rendezvous")))
	got, err := p.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello over rendezvous"), got)
}

func TestConnectUpgradeFailureIsIo(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	fakeRemote(remote, remoteBehaviour{reply: connectReply(theirID, testNameHash)})
	conn := &trackedConn{Conn: local, noRemote: true}

	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		return conn, nil
	})
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrConnectIo)
	assert.ErrorIs(t, err, peer.ErrNoRemoteAddr)
	assert.True(t, conn.isClosed())
}

func TestConnectChooseConnectionFailure(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	fakeRemote(remote, remoteBehaviour{reply: connectReply(theirID, testNameHash)})
	conn := &trackedConn{Conn: local, failClear: true}

	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		return conn, nil
	})
	c := NewConnector(dialer, nil, nil)

	theirs := RemoteConnectionInfo{ID: theirID, ForDirect: []net.Addr{tcpAddr("127.0.0.1", 4000)}}
	p, err := c.Connect(context.Background(), testNameHash, noRelay(ourID), theirs, nil)

	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrChooseConnection)
	assert.ErrorIs(t, err, errClearDeadline)
	assert.True(t, conn.isClosed())
}

func TestConnectClosesLateRelayConnection(t *testing.T) {
	relaySide, ourSide := relay.NewBiChannelPair()
	late, lateRemote := net.Pipe()
	defer lateRemote.Close()
	conn := &trackedConn{Conn: late}

	proceed := make(chan struct{})
	negotiator := relay.NegotiatorFunc(func(ctx context.Context, ch relay.Channel) (net.Conn, error) {
		<-proceed
		return conn, nil
	})
	rx := StartRendezvousConnect(context.Background(), negotiator, relaySide)

	dialer := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(theirID, testNameHash)}}
	defer dialer.close()
	c := NewConnector(dialer, nil, nil)

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{
		ID:          theirID,
		ForDirect:   []net.Addr{tcpAddr("127.0.0.1", 4000)},
		P2PConnInfo: []byte("payload"),
	}
	p, err := c.Connect(context.Background(), testNameHash, ours, theirs, nil)
	require.NoError(t, err)
	defer p.Close()

	close(proceed)
	assert.Eventually(t, conn.isClosed, time.Second, 10*time.Millisecond,
		"relay connection negotiated after the race must be closed")
}

func TestConnectAbandonedHandshakeClosesConnection(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	conn := &trackedConn{Conn: local, noDeadlines: true}
	requests := fakeRemote(remote, remoteBehaviour{silent: true})

	rx := make(chan relay.Result, 1)
	rx <- relay.Result{Conn: conn}
	_, ourSide := relay.NewBiChannelPair()

	// The direct path answers once the relay handshake is stuck waiting.
	good := &pipeDialer{behaviour: remoteBehaviour{reply: connectReply(theirID, testNameHash)}}
	defer good.close()
	dialer := transport.DialerFunc(func(ctx context.Context, addr net.Addr) (net.Conn, error) {
		select {
		case <-requests:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return good.Dial(ctx, addr)
	})
	c := NewConnector(dialer, nil, nil)

	ours := LocalConnectionInfo{ID: ourID, ConnectionRx: rx, RendezvousChannel: ourSide}
	theirs := RemoteConnectionInfo{
		ID:          theirID,
		ForDirect:   []net.Addr{tcpAddr("127.0.0.1", 4000)},
		P2PConnInfo: []byte("payload"),
	}
	p, err := c.Connect(context.Background(), testNameHash, ours, theirs, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Eventually(t, conn.isClosed, time.Second, 10*time.Millisecond,
		"losing handshake must close a connection that ignores deadlines")
}
