package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

// Updater is implemented by stores that can read-modify-write a room
// atomically.
type Updater interface {
	UpdateState(ctx context.Context, roomID string, update func(*protocol.RoomState)) error
}

// WriteThrough persists a host's playback state straight into a StateStore,
// for hosts that share the store with the relay instead of sending STATE.
type WriteThrough struct {
	Store rooms.StateStore
	Clock clockwork.Clock
}

func (w WriteThrough) PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error {
	now := w.now()
	return w.update(ctx, roomID, func(state *protocol.RoomState) {
		state.Position = position
		state.IsPlaying = isPlaying
		state.UpdatedAt = now
	})
}

// CloseRoom marks the room closed so later joins are refused. No relay sees
// room_closed when packets travel over a shared bus.
func (w WriteThrough) CloseRoom(ctx context.Context, roomID string) error {
	now := w.now()
	return w.update(ctx, roomID, func(state *protocol.RoomState) {
		state.Closed = true
		state.IsPlaying = false
		state.UpdatedAt = now
	})
}

func (w WriteThrough) update(ctx context.Context, roomID string, fn func(*protocol.RoomState)) error {
	if u, ok := w.Store.(Updater); ok {
		return u.UpdateState(ctx, roomID, fn)
	}
	state, err := w.Store.LoadState(ctx, roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		state = protocol.RoomState{RoomID: roomID}
	} else if err != nil {
		return err
	}
	fn(&state)
	return w.Store.SaveState(ctx, state)
}

func (w WriteThrough) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now().UTC()
}
