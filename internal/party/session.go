// Package party keeps a room of independent players in approximate lockstep.
//
// One participant is the host. Its Session samples the local player and
// publishes full snapshots on a fixed interval and on every local state
// change. Every other participant runs a guest Session that reconciles
// each snapshot against its own player by holding, nudging the playback
// rate, or seeking.
//
// A Session is single threaded: packets, timer ticks, player events and
// lifecycle requests are all funneled through one loop started by Run, so
// none of its fields need locking apart from the published Status.
package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"watchparty/internal/protocol"
	"watchparty/internal/transport"
)

var (
	ErrNotHost       = errors.New("only the host can close the room")
	ErrSessionClosed = errors.New("session closed")
)

type Options struct {
	RoomID  string
	VideoID string
	Role    Role
	Player  Player
	Channel transport.Channel
	// Persister receives host action snapshots. Optional.
	Persister Persister
	Clock     clockwork.Clock
	// Config defaults to DefaultConfig when left zero.
	Config Config

	// OnRoomClosed runs on a guest once the leave notice has been shown.
	OnRoomClosed func()
	// OnNotice surfaces user-visible messages such as "session ended".
	OnNotice func(message string)
	// OnStatus is called after every reconciliation.
	OnStatus func(Status)
}

type Session struct {
	cfg          Config
	roomID       string
	role         Role
	player       Player
	channel      transport.Channel
	persister    Persister
	clock        clockwork.Clock
	onRoomClosed func()
	onNotice     func(string)
	onStatus     func(Status)

	inbox     chan func(context.Context)
	stop      chan struct{}
	stopOnce  sync.Once
	abort     chan struct{}
	abortOnce sync.Once
	finished  chan struct{}
	started   atomic.Bool

	// Owned by the loop.
	videoID       string
	state         LifecycleState
	closing       bool
	suppressUntil time.Time
	epoch         string
	seq           uint64
	lastEpoch     string
	lastSeq       uint64
	retiredEpochs map[string]struct{}
	retiredOrder  []string
	overrides     int
	sub           transport.Subscription
	heartbeat     clockwork.Ticker

	statusMu sync.RWMutex
	status   Status
}

func NewSession(opts Options) (*Session, error) {
	if opts.RoomID == "" {
		return nil, errors.New("room id is required")
	}
	if opts.Player == nil {
		return nil, errors.New("player is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("channel is required")
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Session{
		cfg:          cfg,
		roomID:       opts.RoomID,
		role:         opts.Role,
		player:       opts.Player,
		channel:      opts.Channel,
		persister:    opts.Persister,
		clock:        clock,
		onRoomClosed: opts.OnRoomClosed,
		onNotice:     opts.OnNotice,
		onStatus:     opts.OnStatus,
		inbox:        make(chan func(context.Context), cfg.InboxSize),
		stop:         make(chan struct{}),
		abort:        make(chan struct{}),
		finished:     make(chan struct{}),
		videoID:      opts.VideoID,
		state:        StateActive,
	}
	if s.role == RoleHost {
		s.epoch = uuid.NewString()
	}
	s.status = Status{Role: s.role, State: StateActive, Band: BandSynced}
	return s, nil
}

// Run subscribes to the room and processes events until the session ends
// or ctx is cancelled. It must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.finished)

	sub, err := s.channel.Subscribe(ctx, s.roomID, s.deliver)
	if err != nil {
		s.shutdown()
		return fmt.Errorf("subscribe room %s: %w", s.roomID, err)
	}
	s.sub = sub

	var tick <-chan time.Time
	if s.role == RoleHost {
		s.heartbeat = s.clock.NewTicker(s.cfg.HeartbeatInterval)
		tick = s.heartbeat.Chan()
	}
	ilog.EventInfo(ctx, "session_started", "room", s.roomID, "role", s.role.String(), "video", s.videoID)

	for {
		select {
		case <-ctx.Done():
			s.teardown(context.Background(), s.terminalState())
			return ctx.Err()
		case <-s.stop:
			return nil
		case fn := <-s.inbox:
			fn(ctx)
		case <-tick:
			s.sendHeartbeat(ctx)
		}
	}
}

// Status returns the latest reconciliation outcome.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} {
	return s.stop
}

// PlayerStateChanged feeds a local player state transition into the session.
func (s *Session) PlayerStateChanged(state PlayerState) {
	s.post(func(ctx context.Context) {
		s.handleLocalChange(ctx, state)
	})
}

// PlayerSeeked reports a user scrub on the local player.
func (s *Session) PlayerSeeked() {
	s.post(func(ctx context.Context) {
		s.handleLocalChange(ctx, s.player.GetPlayerState())
	})
}

// SetVideo switches the video the session follows or announces.
func (s *Session) SetVideo(ctx context.Context, videoID string) error {
	return s.enqueue(ctx, func(context.Context) {
		s.videoID = videoID
	})
}

// Close tears the session down without any room level signalling.
func (s *Session) Close() error {
	s.abortOnce.Do(func() { close(s.abort) })
	if !s.started.Load() {
		s.shutdown()
		return nil
	}
	err := s.enqueue(context.Background(), func(ctx context.Context) {
		s.teardown(ctx, s.terminalState())
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	select {
	case <-s.stop:
	case <-s.finished:
	}
	return nil
}

func (s *Session) terminalState() LifecycleState {
	if s.role == RoleHost {
		return StateClosed
	}
	return StateLeft
}

// deliver is the transport handler. It never blocks; a full inbox drops the
// packet, which the next heartbeat recovers from.
func (s *Session) deliver(packet protocol.SyncPacket) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.inbox <- func(ctx context.Context) { s.handlePacket(ctx, packet) }:
	default:
		ilog.EventInfo(context.Background(), "packet_dropped", "room", s.roomID, "reason", "inbox_full")
	}
}

func (s *Session) post(fn func(context.Context)) {
	select {
	case <-s.stop:
	case s.inbox <- fn:
	default:
		ilog.EventInfo(context.Background(), "player_event_dropped", "room", s.roomID, "reason", "inbox_full")
	}
}

func (s *Session) enqueue(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-s.stop:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	if err := s.enqueue(ctx, func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.finished:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) publishStatus(update func(*Status)) {
	s.statusMu.Lock()
	update(&s.status)
	s.status.State = s.state
	s.status.LocalOverrides = s.overrides
	s.status.UpdatedAt = s.clock.Now()
	snapshot := s.status
	s.statusMu.Unlock()
	if s.onStatus != nil {
		s.onStatus(snapshot)
	}
}

// teardown cancels the heartbeat, unsubscribes and stops the loop. It is
// idempotent.
func (s *Session) teardown(ctx context.Context, final LifecycleState) {
	select {
	case <-s.stop:
		return
	default:
	}
	s.state = final
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			ilog.EventInfo(ctx, "unsubscribe_failed", "room", s.roomID, "error", err.Error())
		}
		s.sub = nil
	}
	if f, ok := s.persister.(Flusher); ok {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		if err := f.Flush(flushCtx); err != nil {
			ilog.EventInfo(ctx, "persist_failed", "room", s.roomID, "error", err.Error())
		}
		cancel()
	}
	s.publishStatus(func(*Status) {})
	ilog.EventInfo(ctx, "session_ended", "room", s.roomID, "role", s.role.String(), "state", string(final))
	s.shutdown()
}

func (s *Session) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}
