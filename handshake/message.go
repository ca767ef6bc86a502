package handshake

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/limits"
)

var (
	// ErrInvalidMessage indicates malformed handshake data
	ErrInvalidMessage = errors.New("invalid handshake message")
	// ErrUnknownMessageType indicates a type byte outside the known variants
	ErrUnknownMessageType = errors.New("unknown handshake message type")
)

// MessageType is the variant tag of a handshake message.
type MessageType uint8

const (
	// TypeConnect carries a ConnectRequest for rendezvous connect.
	TypeConnect MessageType = 0x01
	// TypeBootstrapRequest carries a ConnectRequest for bootstrapping.
	TypeBootstrapRequest MessageType = 0x02
	// TypeBootstrapGranted carries the identity of the granting peer.
	TypeBootstrapGranted MessageType = 0x03
	// TypeBootstrapDenied carries a one byte denial reason.
	TypeBootstrapDenied MessageType = 0x04
	// TypeEchoAddrReq asks the remote to report our external address.
	TypeEchoAddrReq MessageType = 0x05
	// TypeEchoAddrResp carries our address as seen by the remote.
	TypeEchoAddrResp MessageType = 0x06
	// TypeChooseConnection marks the connection a peer decided to keep.
	TypeChooseConnection MessageType = 0x07
)

// String returns a human-readable representation of the MessageType.
func (t MessageType) String() string {
	switch t {
	case TypeConnect:
		return "Connect"
	case TypeBootstrapRequest:
		return "BootstrapRequest"
	case TypeBootstrapGranted:
		return "BootstrapGranted"
	case TypeBootstrapDenied:
		return "BootstrapDenied"
	case TypeEchoAddrReq:
		return "EchoAddrReq"
	case TypeEchoAddrResp:
		return "EchoAddrResp"
	case TypeChooseConnection:
		return "ChooseConnection"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// DenyReason explains a BootstrapDenied message.
type DenyReason uint8

const (
	DenyInvalidNameHash DenyReason = iota + 1
	DenyNodeNotWhitelisted
	DenyClientNotWhitelisted
	DenyFailedExternalReachability
)

// ConnectRequest is the identity claim sent on every candidate connection.
type ConnectRequest struct {
	UID      crypto.PublicID
	NameHash crypto.NameHash
}

// connectRequestSize is the encoded size of a ConnectRequest.
const connectRequestSize = 2 * crypto.IDSize

// Message is a tagged handshake message. Only the fields belonging to Type
// are meaningful.
type Message struct {
	Type MessageType

	// Request is set for TypeConnect and TypeBootstrapRequest.
	Request ConnectRequest

	// UID is set for TypeBootstrapGranted.
	UID crypto.PublicID

	// Reason is set for TypeBootstrapDenied.
	Reason DenyReason

	// Addr is set for TypeEchoAddrResp.
	Addr string
}

// NewConnect wraps a ConnectRequest in a Connect message.
func NewConnect(req ConnectRequest) *Message {
	return &Message{Type: TypeConnect, Request: req}
}

// Serialize converts a message to its wire form.
// Wire format: [type(1)][variant payload]
func (m *Message) Serialize() ([]byte, error) {
	if m == nil {
		return nil, errors.New("handshake message cannot be nil")
	}

	switch m.Type {
	case TypeConnect, TypeBootstrapRequest:
		data := make([]byte, 1+connectRequestSize)
		data[0] = byte(m.Type)
		writeConnectRequest(data[1:], m.Request)
		return data, nil
	case TypeBootstrapGranted:
		data := make([]byte, 1+crypto.IDSize)
		data[0] = byte(m.Type)
		copy(data[1:], m.UID[:])
		return data, nil
	case TypeBootstrapDenied:
		return []byte{byte(m.Type), byte(m.Reason)}, nil
	case TypeEchoAddrReq, TypeChooseConnection:
		return []byte{byte(m.Type)}, nil
	case TypeEchoAddrResp:
		if len(m.Addr) > 255 {
			return nil, errors.New("echoed address too long (max 255 bytes)")
		}
		data := make([]byte, 2+len(m.Addr))
		data[0] = byte(m.Type)
		data[1] = byte(len(m.Addr))
		copy(data[2:], m.Addr)
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, m.Type)
	}
}

// ParseMessage converts wire bytes into a message.
func ParseMessage(data []byte) (*Message, error) {
	if err := limits.ValidateSize(data, limits.MaxHandshakeMessage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m := &Message{Type: MessageType(data[0])}
	body := data[1:]

	switch m.Type {
	case TypeConnect, TypeBootstrapRequest:
		if len(body) != connectRequestSize {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrInvalidMessage, m.Type, len(body), connectRequestSize)
		}
		m.Request = readConnectRequest(body)
	case TypeBootstrapGranted:
		if len(body) != crypto.IDSize {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrInvalidMessage, m.Type, len(body), crypto.IDSize)
		}
		copy(m.UID[:], body)
	case TypeBootstrapDenied:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want 1", ErrInvalidMessage, m.Type, len(body))
		}
		m.Reason = DenyReason(body[0])
	case TypeEchoAddrReq, TypeChooseConnection:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: %s carries no payload", ErrInvalidMessage, m.Type)
		}
	case TypeEchoAddrResp:
		if len(body) < 1 || len(body) != 1+int(body[0]) {
			return nil, fmt.Errorf("%w: bad %s address length", ErrInvalidMessage, m.Type)
		}
		m.Addr = string(body[1:])
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, m.Type)
	}

	return m, nil
}

// writeConnectRequest encodes req into dst, which must hold connectRequestSize bytes.
func writeConnectRequest(dst []byte, req ConnectRequest) {
	copy(dst[:crypto.IDSize], req.UID[:])
	copy(dst[crypto.IDSize:connectRequestSize], req.NameHash[:])
}

// readConnectRequest decodes a ConnectRequest from src.
func readConnectRequest(src []byte) ConnectRequest {
	var req ConnectRequest
	copy(req.UID[:], src[:crypto.IDSize])
	copy(req.NameHash[:], src[crypto.IDSize:connectRequestSize])
	return req
}
