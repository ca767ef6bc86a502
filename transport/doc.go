// Package transport provides the raw connection layer used by rendezvous
// connect: a framed [Socket] over any net.Conn, and dialers and listeners for
// the supported networks.
//
// # Framing
//
// Every message is sent as one frame:
//
//	[length (4, big-endian)][payload (length bytes)]
//
// The header and payload are written with a single Write so that
// datagram-backed connections (ICE) carry each frame in one packet. Reads go
// through a buffer large enough for the biggest frame for the same reason.
//
// # Networks
//
// Addresses select a dialer by their Network() value:
//
//	Network │ Dialer        │ Listener
//	────────┼───────────────┼──────────────
//	tcp     │ [TCPDialer]   │ [ListenTCP]
//	quic    │ [QUICDialer]  │ [ListenQUIC]
//
// [MultiDialer] dispatches to the registered dialer for an address:
//
//	dialer := transport.NewMultiDialer()
//	dialer.RegisterDialer(transport.NetworkQUIC, transport.NewQUICDialer(nil))
//	conn, err := dialer.Dial(ctx, addr)
//	if err != nil {
//	    return err
//	}
//	sock := transport.NewSocket(conn)
package transport
