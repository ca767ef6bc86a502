package connect

import (
	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/handshake"
)

// ValidateConnectRequest checks a remote's identity claim. The identity is
// checked before the network, so a request wrong in both reports
// AttemptInvalidUID.
func ValidateConnectRequest(expected crypto.PublicID, ours crypto.NameHash, req handshake.ConnectRequest) error {
	if err := validateConnectRequest(expected, ours, req); err != nil {
		return err
	}
	return nil
}

func validateConnectRequest(expected crypto.PublicID, ours crypto.NameHash, req handshake.ConnectRequest) *SingleConnectionError {
	if req.UID != expected {
		return &SingleConnectionError{
			Kind:        AttemptInvalidUID,
			ReceivedUID: req.UID.String(),
			ExpectedUID: expected.String(),
		}
	}
	if req.NameHash != ours {
		return &SingleConnectionError{
			Kind:     AttemptInvalidNameHash,
			NameHash: req.NameHash,
		}
	}
	return nil
}
