package connect

import (
	"fmt"
	"strings"

	"github.com/opd-ai/rendezvous/crypto"
)

// AttemptErrorKind classifies the failure of a single connection attempt.
type AttemptErrorKind uint8

const (
	// AttemptIo is a fault opening or accepting the raw connection.
	AttemptIo AttemptErrorKind = iota + 1
	// AttemptSocket is a fault sending or receiving on a framed socket.
	AttemptSocket
	// AttemptConnectionDropped means the remote closed before answering.
	AttemptConnectionDropped
	// AttemptInvalidUID means the remote claimed an unexpected identity.
	AttemptInvalidUID
	// AttemptInvalidNameHash means the remote belongs to another network.
	AttemptInvalidNameHash
	// AttemptUnexpectedMessage means the first message was not Connect.
	AttemptUnexpectedMessage
	// AttemptTimedOut means the per-attempt ceiling expired.
	AttemptTimedOut
	// AttemptDeadChannel means the relay channel or its result receiver
	// went away.
	AttemptDeadChannel
	// AttemptRendezvousConnect means relay-assisted negotiation failed.
	AttemptRendezvousConnect
)

// String returns a human-readable representation of the AttemptErrorKind.
func (k AttemptErrorKind) String() string {
	switch k {
	case AttemptIo:
		return "Io"
	case AttemptSocket:
		return "Socket"
	case AttemptConnectionDropped:
		return "ConnectionDropped"
	case AttemptInvalidUID:
		return "InvalidUid"
	case AttemptInvalidNameHash:
		return "InvalidNameHash"
	case AttemptUnexpectedMessage:
		return "UnexpectedMessage"
	case AttemptTimedOut:
		return "TimedOut"
	case AttemptDeadChannel:
		return "DeadChannel"
	case AttemptRendezvousConnect:
		return "RendezvousConnect"
	default:
		return fmt.Sprintf("AttemptErrorKind(%d)", uint8(k))
	}
}

// SingleConnectionError is the failure of one connection attempt. Only the
// fields belonging to Kind are set.
type SingleConnectionError struct {
	Kind AttemptErrorKind

	// ReceivedUID and ExpectedUID are set for AttemptInvalidUID.
	ReceivedUID string
	ExpectedUID string

	// NameHash is set for AttemptInvalidNameHash.
	NameHash crypto.NameHash

	// Err is the cause for AttemptIo, AttemptSocket and
	// AttemptRendezvousConnect.
	Err error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrAttemptIo         = &SingleConnectionError{Kind: AttemptIo}
	ErrSocket            = &SingleConnectionError{Kind: AttemptSocket}
	ErrConnectionDropped = &SingleConnectionError{Kind: AttemptConnectionDropped}
	ErrInvalidUID        = &SingleConnectionError{Kind: AttemptInvalidUID}
	ErrInvalidNameHash   = &SingleConnectionError{Kind: AttemptInvalidNameHash}
	ErrUnexpectedMessage = &SingleConnectionError{Kind: AttemptUnexpectedMessage}
	ErrAttemptTimedOut   = &SingleConnectionError{Kind: AttemptTimedOut}
	ErrDeadChannel       = &SingleConnectionError{Kind: AttemptDeadChannel}
	ErrRendezvousConnect = &SingleConnectionError{Kind: AttemptRendezvousConnect}
)

func (e *SingleConnectionError) Error() string {
	switch e.Kind {
	case AttemptIo:
		return fmt.Sprintf("io error initiating/accepting connection: %v", e.Err)
	case AttemptSocket:
		return fmt.Sprintf("io error on socket: %v", e.Err)
	case AttemptConnectionDropped:
		return "the connection was dropped by the remote peer"
	case AttemptInvalidUID:
		return fmt.Sprintf("peer gave us an unexpected uid: %s != %s", e.ReceivedUID, e.ExpectedUID)
	case AttemptInvalidNameHash:
		return fmt.Sprintf("peer is from a different network, invalid name hash %s", e.NameHash)
	case AttemptUnexpectedMessage:
		return "peer sent us an unexpected message variant"
	case AttemptTimedOut:
		return "connection attempt timed out"
	case AttemptDeadChannel:
		return "communication channel was cancelled"
	case AttemptRendezvousConnect:
		return fmt.Sprintf("rendezvous connect failed: %v", e.Err)
	default:
		return fmt.Sprintf("connection attempt failed (%s)", e.Kind)
	}
}

func (e *SingleConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a SingleConnectionError of the same kind.
func (e *SingleConnectionError) Is(target error) bool {
	t, ok := target.(*SingleConnectionError)
	return ok && t.Kind == e.Kind
}

// attemptError builds a SingleConnectionError carrying a cause.
func attemptError(kind AttemptErrorKind, err error) *SingleConnectionError {
	return &SingleConnectionError{Kind: kind, Err: err}
}

// ConnectErrorKind classifies the failure of a whole connect operation.
type ConnectErrorKind uint8

const (
	// ConnectRequestedToSelf means the remote identity is our own.
	ConnectRequestedToSelf ConnectErrorKind = iota + 1
	// ConnectIo is a local fault turning the winning socket into a peer.
	ConnectIo
	// ConnectChooseConnection is a fault finalising the winning socket.
	ConnectChooseConnection
	// ConnectAllFailed means every attempt failed.
	ConnectAllFailed
	// ConnectTimedOut means the whole operation ran out of time.
	ConnectTimedOut
)

// String returns a human-readable representation of the ConnectErrorKind.
func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectRequestedToSelf:
		return "RequestedConnectToSelf"
	case ConnectIo:
		return "Io"
	case ConnectChooseConnection:
		return "ChooseConnection"
	case ConnectAllFailed:
		return "AllConnectionsFailed"
	case ConnectTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("ConnectErrorKind(%d)", uint8(k))
	}
}

// ConnectError is the failure of a connect operation.
type ConnectError struct {
	Kind ConnectErrorKind

	// Attempts lists the per-attempt failures in completion order for
	// ConnectAllFailed.
	Attempts []*SingleConnectionError

	// Err is the cause for ConnectIo, ConnectChooseConnection and
	// ConnectTimedOut.
	Err error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrRequestedConnectToSelf = &ConnectError{Kind: ConnectRequestedToSelf}
	ErrConnectIo              = &ConnectError{Kind: ConnectIo}
	ErrChooseConnection       = &ConnectError{Kind: ConnectChooseConnection}
	ErrAllConnectionsFailed   = &ConnectError{Kind: ConnectAllFailed}
	ErrTimedOut               = &ConnectError{Kind: ConnectTimedOut}
)

func (e *ConnectError) Error() string {
	switch e.Kind {
	case ConnectRequestedToSelf:
		return "requested a connection to ourselves"
	case ConnectIo:
		return fmt.Sprintf("io error initiating connection: %v", e.Err)
	case ConnectChooseConnection:
		return fmt.Sprintf("socket error when finalising handshake: %v", e.Err)
	case ConnectAllFailed:
		msgs := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			msgs[i] = a.Error()
		}
		return fmt.Sprintf("all %d attempts to connect to the remote peer failed: [%s]",
			len(e.Attempts), strings.Join(msgs, "; "))
	case ConnectTimedOut:
		return "connection attempt timed out"
	default:
		return fmt.Sprintf("connect failed (%s)", e.Kind)
	}
}

// Unwrap returns the cause followed by every attempt failure, so errors.Is
// and errors.As search the whole tree.
func (e *ConnectError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}

// Is reports whether target is a ConnectError of the same kind.
func (e *ConnectError) Is(target error) bool {
	t, ok := target.(*ConnectError)
	return ok && t.Kind == e.Kind
}
