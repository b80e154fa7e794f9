package transport

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"watchparty/internal/protocol"
)

const topicKeyPrefix = "watchparty:room:"

// RedisChannel publishes packets on Redis pub/sub, one channel per room.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func (c *RedisChannel) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	pubsub := c.client.Subscribe(ctx, topicKey(topic))
	// Wait for the subscription confirmation so no publish races the SUBSCRIBE.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			packet, err := protocol.DecodePacket([]byte(msg.Payload))
			if err != nil {
				log.Printf("redis transport: dropping packet on %s: %v", msg.Channel, err)
				continue
			}
			handler(packet)
		}
	}()

	return SubscriptionFunc(pubsub.Close), nil
}

func (c *RedisChannel) Publish(ctx context.Context, topic string, packet protocol.SyncPacket) error {
	data, err := protocol.EncodePacket(packet)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if err := c.client.Publish(ctx, topicKey(topic), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func topicKey(topic string) string {
	return topicKeyPrefix + topic
}
