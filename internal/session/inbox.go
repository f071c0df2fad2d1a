package session

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/shared"
)

// Inbox is the inbound port for raw messages from the authorization window.
type Inbox interface {
	Messages() <-chan []byte
}

// ChannelInbox is an [Inbox] fed by [ChannelInbox.Post]. It stays open for the life of the process.
type ChannelInbox struct {
	ch chan []byte
}

func NewChannelInbox(size int) *ChannelInbox {
	if size < 0 {
		size = 0
	}
	return &ChannelInbox{ch: make(chan []byte, size)}
}

func (i *ChannelInbox) Messages() <-chan []byte {
	return i.ch
}

// Post queues raw for delivery, blocking while the buffer is full.
func (i *ChannelInbox) Post(ctx context.Context, raw []byte) error {
	msg := append([]byte(nil), raw...)
	select {
	case i.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: inbox post: %w", shared.ErrTimeout, ctx.Err())
	}
}
