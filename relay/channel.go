package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/rendezvous/limits"
)

// ErrChannelClosed is returned by Send and Recv once either end of the
// channel pair has been closed.
var ErrChannelClosed = errors.New("relay channel closed")

// defaultChannelCapacity is the per-direction buffer of a BiChannel pair.
const defaultChannelCapacity = 16

// Sender delivers relay payloads.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Receiver receives relay payloads.
type Receiver interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Channel is one end of a bidirectional relay channel.
type Channel interface {
	Sender
	Receiver
	Close() error
}

// link is shared by both ends of a pair; closing either end closes it.
type link struct {
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

// BiChannel is one end of an in-process channel pair.
type BiChannel struct {
	in   <-chan []byte
	out  chan<- []byte
	link *link
}

// NewBiChannelPair creates two connected channel ends. Payloads sent on one
// are received on the other.
func NewBiChannelPair() (*BiChannel, *BiChannel) {
	ab := make(chan []byte, defaultChannelCapacity)
	ba := make(chan []byte, defaultChannelCapacity)
	l := &link{done: make(chan struct{})}

	return &BiChannel{in: ba, out: ab, link: l}, &BiChannel{in: ab, out: ba, link: l}
}

// Send queues a copy of payload for the other end.
func (c *BiChannel) Send(ctx context.Context, payload []byte) error {
	if err := limits.ValidateRelayPayload(payload); err != nil {
		return fmt.Errorf("relay send: %w", err)
	}

	select {
	case <-c.link.done:
		return ErrChannelClosed
	default:
	}

	msg := append([]byte(nil), payload...)
	select {
	case c.out <- msg:
		return nil
	case <-c.link.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next payload. Payloads queued before the pair was closed
// are still delivered.
func (c *BiChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.link.done:
		select {
		case msg := <-c.in:
			return msg, nil
		default:
			return nil, ErrChannelClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the pair.
func (c *BiChannel) Close() error {
	c.link.close()
	return nil
}
