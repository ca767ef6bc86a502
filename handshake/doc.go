// Package handshake defines the messages exchanged on a raw connection before
// it is trusted, and their wire encoding.
//
// The first frame on every rendezvous connection must be a Connect message
// carrying the sender's claimed identity and network identity:
//
//	[type=0x01 (1)][uid (32)][name hash (32)]
//
// The remaining variants belong to neighbouring protocols (bootstrap,
// external address echo, connection choice). Receiving one of them as the
// first message of a rendezvous connection is a protocol violation.
package handshake
