// Package crypto provides the identity primitives used by rendezvous connect.
//
// Peers are identified by the Curve25519 public key of a NaCl box key pair,
// wrapped as a comparable [PublicID]. The logical network a peer belongs to
// is identified by a [NameHash], the SHA3-256 digest of the network name.
// Two peers only ever accept each other when both values match what they
// expect.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair (Curve25519)
//   - [PublicID]: 32-byte peer identity, rendered as lowercase hex
//   - [NameHash]: 32-byte network identity
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id := keys.ID()
//	network := crypto.NewNameHash("production")
//	fmt.Println(id.Short(), network)
package crypto
