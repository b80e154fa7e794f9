package party

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"

	"watchparty/internal/protocol"
)

const sessionEndedNotice = "The host ended the watch party."

// NotifyCloseRoom ends the room from the host side. It sends room_closed
// right away, waits the close grace so the packet can reach every guest,
// then tears the session down. Callers may navigate away once it returns.
func (s *Session) NotifyCloseRoom(ctx context.Context) error {
	if s.role != RoleHost {
		return ErrNotHost
	}
	var began bool
	if err := s.call(ctx, func(ctx context.Context) {
		began = s.beginClose(ctx)
	}); err != nil {
		return err
	}
	if !began {
		// Someone else is already closing; wait for them.
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var waitErr error
	select {
	case <-s.clock.After(s.cfg.CloseGrace):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	err := s.call(context.Background(), func(ctx context.Context) {
		s.teardown(ctx, StateClosed)
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	return waitErr
}

// Unload is the emergency exit for a host that disappears without closing
// the room: guests get a best-effort pause at the current position. It is a
// no-op once NotifyCloseRoom has begun. Guests simply leave.
func (s *Session) Unload() {
	_ = s.call(context.Background(), func(ctx context.Context) {
		s.emergencyExit(ctx)
	})
}

// beginClose moves an active host to closing and sends the terminal packet.
func (s *Session) beginClose(ctx context.Context) bool {
	if s.role != RoleHost || s.state != StateActive || s.closing {
		return false
	}
	s.closing = true
	s.state = StateClosing
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	ilog.EventInfo(ctx, "room_closing", "room", s.roomID)
	s.publish(ctx, protocol.SyncPacket{
		Timestamp: s.player.GetCurrentTime(),
		SentAt:    s.clock.Now().UnixMilli(),
		VideoID:   s.videoID,
		Type:      protocol.PacketRoomClosed,
		Seq:       s.nextSeq(),
		Epoch:     s.epoch,
	})
	if closer, ok := s.persister.(RoomCloser); ok {
		closeCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		if err := closer.CloseRoom(closeCtx, s.roomID); err != nil {
			ilog.EventInfo(ctx, "persist_failed", "room", s.roomID, "error", err.Error())
		}
		cancel()
	}
	s.publishStatus(func(*Status) {})
	return true
}

func (s *Session) emergencyExit(ctx context.Context) {
	if s.state == StateClosed || s.state == StateLeft {
		return
	}
	if s.role == RoleGuest {
		s.teardown(ctx, StateLeft)
		return
	}
	// A "paused" packet after room_closed would contradict it.
	if s.closing {
		return
	}
	ilog.EventInfo(ctx, "host_unload", "room", s.roomID)
	s.publish(ctx, protocol.SyncPacket{
		IsPlaying: false,
		Timestamp: s.player.GetCurrentTime(),
		SentAt:    s.clock.Now().UnixMilli(),
		VideoID:   s.videoID,
		Type:      protocol.PacketAction,
		Seq:       s.nextSeq(),
		Epoch:     s.epoch,
	})
	s.teardown(ctx, StateClosed)
}

func (s *Session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// leave handles room_closed on a guest: stop reconciling immediately, show
// the notice, and run the room closed callback after the notice delay.
func (s *Session) leave(ctx context.Context) {
	ilog.EventInfo(ctx, "room_closed_received", "room", s.roomID)
	if s.onNotice != nil {
		s.onNotice(sessionEndedNotice)
	}
	wake := s.clock.After(s.cfg.LeaveNotice)
	s.teardown(ctx, StateLeft)

	go func() {
		select {
		case <-wake:
		case <-s.abort:
			return
		}
		select {
		case <-s.abort:
			return
		default:
		}
		if s.onRoomClosed != nil {
			s.onRoomClosed()
		}
	}()
}
