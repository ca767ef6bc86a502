// Package relay implements the relay-assisted half of rendezvous
// connect: the relay channel two peers use to negotiate a connection they
// cannot open directly, and the negotiators that turn that channel into a
// working raw connection.
//
// # Relay Channel
//
// A [BiChannel] pair is an in-process bidirectional channel of byte
// payloads. One end is handed to a [Negotiator]; the other stays with the
// caller, which reads our negotiation payload from it (to publish it
// out-of-band) and later writes the remote's payload into it.
//
//	relaySide, ourSide := relay.NewBiChannelPair()
//	go negotiator.Negotiate(ctx, relaySide)
//	ours, _ := ourSide.Recv(ctx)   // publish to the remote
//	_ = ourSide.Send(ctx, theirs)  // payload received from the remote
//
// # Negotiators
//
//	Negotiator       │ Payload                          │ Resulting conn
//	─────────────────┼──────────────────────────────────┼─────────────────
//	TCPNegotiator    │ listen addresses + tie-breaker   │ TCP stream
//	ICENegotiator    │ ICE credentials + candidates     │ ICE (UDP) conn
//
// Both peers must use the same negotiator. Roles (dialer/listener, ICE
// controlling/controlled) are decided by comparing random tie-breakers
// carried in the payloads.
package relay
