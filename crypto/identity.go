package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// IDSize is the length in bytes of a PublicID and of a NameHash.
const IDSize = 32

// ErrInvalidIDLength indicates a hex identity of the wrong length.
var ErrInvalidIDLength = errors.New("invalid identity length")

// PublicID identifies a peer. It is the peer's Curve25519 public key and is
// safe to compare with ==.
type PublicID [IDSize]byte

// ParsePublicID parses the hexadecimal form produced by PublicID.String.
func ParsePublicID(s string) (PublicID, error) {
	var id PublicID
	if len(s) != hex.EncodedLen(IDSize) {
		return id, fmt.Errorf("%w: got %d hex characters, want %d", ErrInvalidIDLength, len(s), hex.EncodedLen(IDSize))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("parse public id: %w", err)
	}
	return id, nil
}

// String returns the lowercase hexadecimal form of the identity.
func (id PublicID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight hex characters, for log fields.
func (id PublicID) Short() string {
	return hex.EncodeToString(id[:4])
}

// IsZero reports whether the identity is unset.
func (id PublicID) IsZero() bool {
	return id == PublicID{}
}

// NameHash identifies the logical network a peer belongs to. Peers with
// different name hashes must never connect.
type NameHash [IDSize]byte

// NewNameHash derives the network identity for a network name.
func NewNameHash(networkName string) NameHash {
	return NameHash(sha3.Sum256([]byte(networkName)))
}

// String returns the lowercase hexadecimal form of the hash.
func (h NameHash) String() string {
	return hex.EncodeToString(h[:])
}
