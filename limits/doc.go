// Package limits provides centralized size constants and validation functions
// for rendezvous connect traffic.
//
// # Size Hierarchy
//
//   - MaxHandshakeMessage (128 bytes): upper bound for any handshake-phase
//     message. A Connect request is 65 bytes on the wire.
//   - MaxRelayPayload (16 KiB): upper bound for a single relay-negotiation
//     payload exchanged over the relay channel (ICE candidates, rendezvous
//     addresses).
//   - MaxFrameSize (64 KiB): absolute maximum for any framed message read
//     from a socket. Frames advertising a larger length are rejected before
//     any payload is allocated.
//
// Every check returns an error wrapping [ErrFrameEmpty] or
// [ErrFrameTooLarge] with the actual and maximum sizes.
package limits
