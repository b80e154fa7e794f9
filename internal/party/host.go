package party

import (
	"context"

	"github.com/RanFeng/ilog"

	"watchparty/internal/protocol"
)

// sample snapshots the local player into a packet of the given type.
func (s *Session) sample(packetType protocol.PacketType) protocol.SyncPacket {
	return protocol.SyncPacket{
		IsPlaying: s.player.GetPlayerState().Advancing(),
		Timestamp: s.player.GetCurrentTime(),
		SentAt:    s.clock.Now().UnixMilli(),
		VideoID:   s.videoID,
		Type:      packetType,
		Seq:       s.nextSeq(),
		Epoch:     s.epoch,
	}
}

// publish sends a packet and, for actions, writes the state through to the
// persister. Failures are logged and never retried; the next heartbeat
// carries the same information.
func (s *Session) publish(ctx context.Context, packet protocol.SyncPacket) {
	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	if err := s.channel.Publish(pubCtx, s.roomID, packet); err != nil {
		ilog.EventInfo(ctx, "broadcast_failed", "room", s.roomID, "type", string(packet.Type), "error", err.Error())
	}
	if packet.Type != protocol.PacketAction || s.persister == nil {
		return
	}
	if err := s.persister.PersistRoomState(pubCtx, s.roomID, packet.Timestamp, packet.IsPlaying); err != nil {
		ilog.EventInfo(ctx, "persist_failed", "room", s.roomID, "error", err.Error())
	}
}

func (s *Session) sendHeartbeat(ctx context.Context) {
	if s.role != RoleHost || s.closing || s.state != StateActive {
		return
	}
	s.publish(ctx, s.sample(protocol.PacketHeartbeat))
}

// handleLocalChange reacts to a local player transition and reports whether
// it was acted upon. On a guest, transitions inside a suppression window are
// echoes of our own corrections and are swallowed.
func (s *Session) handleLocalChange(ctx context.Context, state PlayerState) bool {
	if s.state != StateActive {
		return false
	}
	if s.role == RoleGuest {
		if s.clock.Now().Before(s.suppressUntil) {
			return false
		}
		s.overrides++
		s.publishStatus(func(*Status) {})
		ilog.EventInfo(ctx, "guest_local_change", "room", s.roomID, "state", state.String())
		return true
	}
	switch state {
	case PlayerPlaying, PlayerPaused, PlayerEnded:
		s.publish(ctx, s.sample(protocol.PacketAction))
		return true
	default:
		// Buffering and cueing are transient and would read as a pause downstream.
		return false
	}
}
