package party

import (
	"context"
	"math"
	"time"

	"github.com/RanFeng/ilog"

	"watchparty/internal/protocol"
)

const maxRetiredEpochs = 16

// handlePacket filters a received packet and hands it to reconciliation.
func (s *Session) handlePacket(ctx context.Context, packet protocol.SyncPacket) {
	if s.role == RoleHost || s.state != StateActive {
		return
	}
	if err := packet.Validate(); err != nil {
		ilog.EventInfo(ctx, "packet_dropped", "room", s.roomID, "reason", err.Error())
		return
	}
	if packet.Type == protocol.PacketRoomClosed {
		s.leave(ctx)
		return
	}
	if packet.VideoID != s.videoID {
		return
	}
	if !s.acceptSequence(packet) {
		ilog.EventInfo(ctx, "packet_dropped", "room", s.roomID, "reason", "stale", "seq", packet.Seq, "last", s.lastSeq)
		return
	}
	s.reconcile(packet)
}

func (s *Session) acceptSequence(packet protocol.SyncPacket) bool {
	if !s.cfg.EnforceSequence || packet.Seq == 0 {
		return true
	}
	if packet.Epoch != s.lastEpoch {
		if _, ok := s.retiredEpochs[packet.Epoch]; ok {
			return false
		}
		s.retireEpoch(s.lastEpoch)
		s.lastEpoch = packet.Epoch
		s.lastSeq = packet.Seq
		return true
	}
	if packet.Seq < s.lastSeq {
		return false
	}
	s.lastSeq = packet.Seq
	return true
}

// retireEpoch remembers a superseded host session so its late packets are
// dropped. Only the most recent maxRetiredEpochs are kept.
func (s *Session) retireEpoch(epoch string) {
	if epoch == "" {
		return
	}
	if s.retiredEpochs == nil {
		s.retiredEpochs = make(map[string]struct{})
	}
	s.retiredEpochs[epoch] = struct{}{}
	s.retiredOrder = append(s.retiredOrder, epoch)
	if len(s.retiredOrder) > maxRetiredEpochs {
		delete(s.retiredEpochs, s.retiredOrder[0])
		s.retiredOrder = s.retiredOrder[1:]
	}
}

// reconcile applies at most one corrective action for a packet and returns
// the drift band it was classified into.
func (s *Session) reconcile(packet protocol.SyncPacket) Band {
	now := s.clock.Now()
	latency := now.Sub(packet.SentTime())
	if latency < 0 {
		// Guest clock is behind the host's; treat as zero rather than rewinding.
		latency = 0
	}

	hostRealTime := packet.Timestamp
	if packet.IsPlaying {
		hostRealTime += latency.Seconds()
	}
	localTime := s.player.GetCurrentTime()
	isLocalPlaying := s.player.GetPlayerState().Advancing()
	diff := hostRealTime - localTime
	absDiff := math.Abs(diff)

	band := BandSynced
	mismatch := packet.IsPlaying != isLocalPlaying
	if mismatch {
		if packet.IsPlaying {
			s.player.PlayVideo()
		} else {
			s.player.PauseVideo()
			s.player.SeekTo(hostRealTime, true)
		}
		s.suppress(now, s.cfg.StateSuppressWindow)
	}

	switch {
	case packet.IsPlaying:
		band = Classify(absDiff, s.cfg)
		switch band {
		case BandSynced:
			s.setRate(1.0)
		case BandAdjusting:
			if diff > 0 {
				s.setRate(s.cfg.CatchUpRate)
			} else {
				s.setRate(s.cfg.SlowDownRate)
			}
		case BandBuffering:
			s.player.SeekTo(hostRealTime, true)
			s.setRate(1.0)
			s.suppress(now, s.cfg.SeekSuppressWindow)
		}
	case !mismatch && absDiff >= s.cfg.HardResyncThreshold:
		// Both paused but far apart: the host scrubbed while paused.
		s.player.SeekTo(hostRealTime, true)
		s.suppress(now, s.cfg.SeekSuppressWindow)
		band = BandBuffering
	}

	s.publishStatus(func(st *Status) {
		st.Band = band
		st.Latency = latency
		st.Drift = diff
	})
	return band
}

func (s *Session) setRate(rate float64) {
	if s.player.GetPlaybackRate() == rate {
		return
	}
	s.player.SetPlaybackRate(rate)
}

// suppress mutes local player events until now+window, never shortening an
// existing window.
func (s *Session) suppress(now time.Time, window time.Duration) {
	until := now.Add(window)
	if until.After(s.suppressUntil) {
		s.suppressUntil = until
	}
}
