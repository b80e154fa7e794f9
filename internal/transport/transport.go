// Package transport carries sync packets between the members of a room.
//
// Every implementation is best effort: packets may be dropped, delayed or
// duplicated, and nothing is ordered across reconnects. Callers must treat
// each packet as a full snapshot.
package transport

import (
	"context"
	"errors"

	"watchparty/internal/protocol"
)

var ErrClosed = errors.New("transport closed")

// Handler receives packets for a subscribed topic. It must not block.
type Handler func(packet protocol.SyncPacket)

type Channel interface {
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Publish(ctx context.Context, topic string, packet protocol.SyncPacket) error
}

type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
