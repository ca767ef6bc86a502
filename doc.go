// Package rendezvous connects two peers that only know each other through
// connection descriptors exchanged out-of-band.
//
// Both peers create a [Node], publish the descriptor returned by
// PrepareConnectionInfo through any channel they share (a chat message, a
// signalling server, a QR code) and then call Connect at the same time.
// Every known path is raced: direct dials to the remote's listeners,
// connections the remote opens toward us, and one relay-assisted NAT
// traversal attempt.
//
// # Getting Started
//
//	options := rendezvous.NewOptions()
//	options.NetworkName = "my-network"
//
//	node, err := rendezvous.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	ours, public, err := node.PrepareConnectionInfo(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data, _ := json.Marshal(public) // send to the remote
//
//	var theirs connect.RemoteConnectionInfo
//	_ = json.Unmarshal(received, &theirs)
//
//	p, err := node.Connect(ctx, ours, theirs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//	_ = p.Send([]byte("hello"))
//
// # Subpackages
//
//   - connect: the connection orchestrator, handshake validation and errors
//   - relay: relay channels and NAT traversal negotiators
//   - handshake: handshake messages and their wire codec
//   - transport: framed sockets, TCP and QUIC
//   - peer: the handle to a connected peer
//   - crypto: identities and network name hashes
//   - limits: frame and payload size limits
//
// # Logging
//
// All packages log through logrus with a "function" field. Connection
// attempts log at Debug, established connections at Info:
//
//	logrus.SetLevel(logrus.DebugLevel)
package rendezvous
