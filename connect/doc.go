// Package connect implements rendezvous connect: two peers that learned
// about each other out-of-band call Connect at the same time, and every
// known path between them is raced until one passes the handshake.
//
// Three kinds of attempt run concurrently:
//
//   - direct outgoing: one dial per address the remote advertised
//   - direct incoming: connections the remote opened toward us, delivered
//     by a [Demux] after their first handshake message was read
//   - relay assisted: one NAT-traversal attempt negotiated over a relay
//     channel (see [StartRendezvousConnect])
//
// Every candidate connection carries a Connect handshake message in each
// direction. A candidate wins only if the remote claimed the identity we
// expect and belongs to our network.
//
// # Error Model
//
// Failures of single attempts are [SingleConnectionError] values. They
// never surface on their own; if no attempt succeeds the caller receives a
// [ConnectError] of kind [ConnectAllFailed] listing them in completion
// order. Both types match their kind sentinels with errors.Is:
//
//	_, err := connector.Connect(ctx, nameHash, ours, theirs, incoming)
//	if errors.Is(err, connect.ErrAllConnectionsFailed) {
//	    // err also matches every attempt kind it contains
//	    dropped := errors.Is(err, connect.ErrConnectionDropped)
//	}
package connect
