package handshake

import (
	"fmt"
)

// FrameWriter writes one framed message.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// FrameReader reads one framed message. It returns io.EOF when the
// connection closed cleanly before a frame started.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Send serializes msg and writes it as a single frame.
func Send(w FrameWriter, msg *Message) error {
	data, err := msg.Serialize()
	if err != nil {
		return err
	}
	return w.WriteFrame(data)
}

// Receive reads one frame and parses it as a handshake message. Read errors,
// including io.EOF, are returned unchanged so callers can tell a dropped
// connection from a malformed message.
func Receive(r FrameReader) (*Message, error) {
	frame, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	msg, err := ParseMessage(frame)
	if err != nil {
		return nil, fmt.Errorf("parse handshake frame: %w", err)
	}
	return msg, nil
}
