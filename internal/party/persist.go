package party

import (
	"context"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/jonboulle/clockwork"
)

// Persister stores the host's playback state as durable room metadata.
// Only action packets reach it.
type Persister interface {
	PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error
}

type PersisterFunc func(ctx context.Context, roomID string, position float64, isPlaying bool) error

func (f PersisterFunc) PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error {
	return f(ctx, roomID, position, isPlaying)
}

// Flusher is implemented by persisters that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// RoomCloser is implemented by persisters that can mark the room closed in
// durable storage, for transports where no relay sees room_closed.
type RoomCloser interface {
	CloseRoom(ctx context.Context, roomID string) error
}

type pendingWrite struct {
	roomID    string
	position  float64
	isPlaying bool
}

// Debounced coalesces bursts of writes (rapid scrubbing) into at most one
// write per window. The latest state in a window wins.
type Debounced struct {
	target  Persister
	clock   clockwork.Clock
	window  time.Duration
	timeout time.Duration

	mu      sync.Mutex
	pending *pendingWrite
	armed   bool

	// writeMu orders writes at the target; a pending state is only taken
	// while holding it, so an older write never lands after a newer one.
	writeMu sync.Mutex
}

func NewDebounced(target Persister, clock clockwork.Clock, window time.Duration) *Debounced {
	return &Debounced{
		target:  target,
		clock:   clock,
		window:  window,
		timeout: 5 * time.Second,
	}
}

func (d *Debounced) PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = &pendingWrite{roomID: roomID, position: position, isPlaying: isPlaying}
	if d.armed {
		return nil
	}
	d.armed = true
	wake := d.clock.After(d.window)
	go func() {
		<-wake
		d.mu.Lock()
		d.armed = false
		d.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Flush(ctx); err != nil {
			ilog.EventInfo(ctx, "persist_failed", "error", err.Error())
		}
	}()
	return nil
}

// Flush writes the pending state, if any, immediately.
func (d *Debounced) Flush(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.flushLocked(ctx)
}

// CloseRoom writes any pending state and then forwards the closure when the
// target supports it.
func (d *Debounced) CloseRoom(ctx context.Context, roomID string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.flushLocked(ctx); err != nil {
		return err
	}
	closer, ok := d.target.(RoomCloser)
	if !ok {
		return nil
	}
	return closer.CloseRoom(ctx, roomID)
}

func (d *Debounced) flushLocked(ctx context.Context) error {
	d.mu.Lock()
	w := d.pending
	d.pending = nil
	d.mu.Unlock()
	if w == nil {
		return nil
	}
	return d.target.PersistRoomState(ctx, w.roomID, w.position, w.isPlaying)
}
