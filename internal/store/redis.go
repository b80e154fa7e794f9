package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

const (
	stateKeyPrefix = "watchparty:state:"
	maxTxRetries   = 5
)

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Redis keeps room metadata as JSON values that expire after ttl without
// writes. A zero ttl keeps them forever.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// SaveState stores state. A room once closed stays closed, matching the
// Postgres upsert.
func (r *Redis) SaveState(ctx context.Context, state protocol.RoomState) error {
	return r.UpdateState(ctx, state.RoomID, func(current *protocol.RoomState) {
		closed := current.Closed
		*current = state
		current.Closed = state.Closed || closed
	})
}

// UpdateState applies update to the stored room under WATCH, retrying when a
// concurrent writer touches the key. A missing room starts from an empty
// state.
func (r *Redis) UpdateState(ctx context.Context, roomID string, update func(*protocol.RoomState)) error {
	key := stateKey(roomID)
	txf := func(tx *redis.Tx) error {
		state := protocol.RoomState{RoomID: roomID}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("unmarshal room %s: %w", roomID, err)
			}
		}
		update(&state)
		state.RoomID = roomID
		next, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal room %s: %w", roomID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save room %s: %w", roomID, err)
		}
		return nil
	}
	return fmt.Errorf("save room %s: %w", roomID, redis.TxFailedErr)
}

func (r *Redis) LoadState(ctx context.Context, roomID string) (protocol.RoomState, error) {
	data, err := r.client.Get(ctx, stateKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.RoomState{}, rooms.ErrRoomNotFound
	}
	if err != nil {
		return protocol.RoomState{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	var state protocol.RoomState
	if err := json.Unmarshal(data, &state); err != nil {
		return protocol.RoomState{}, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return state, nil
}

func stateKey(roomID string) string {
	return stateKeyPrefix + roomID
}
