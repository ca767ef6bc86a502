package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxHandshakeMessage bounds a single handshake-phase message.
	MaxHandshakeMessage = 128

	// MaxRelayPayload bounds a relay-negotiation payload.
	MaxRelayPayload = 16 * 1024

	// MaxFrameSize is the absolute maximum for a framed message.
	// This prevents memory exhaustion from hostile length prefixes.
	MaxFrameSize = 64 * 1024

	// FrameHeaderSize is the length prefix in front of every frame.
	FrameHeaderSize = 4
)

var (
	// ErrFrameEmpty indicates an empty frame or payload was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame or payload exceeds its maximum size
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateSize validates data against the specified maximum size.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateFrameSize validates a frame payload against MaxFrameSize.
func ValidateFrameSize(frame []byte) error {
	return ValidateLength(len(frame))
}

// ValidateLength validates an advertised frame length against MaxFrameSize.
// It is used on length prefixes before the payload is read.
func ValidateLength(n int) error {
	if n <= 0 {
		return ErrFrameEmpty
	}
	if n > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrFrameTooLarge, n, MaxFrameSize)
	}
	return nil
}

// ValidateRelayPayload validates a relay-negotiation payload.
func ValidateRelayPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrFrameEmpty
	}
	if len(payload) > MaxRelayPayload {
		return fmt.Errorf("%w: relay payload size %d exceeds limit %d", ErrFrameTooLarge, len(payload), MaxRelayPayload)
	}
	return nil
}
