package party

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"watchparty/internal/protocol"
	"watchparty/internal/transport"
)

var testEpoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type playerCall struct {
	name string
	arg  float64
}

// fakePlayer records every control call; reads are counted separately.
type fakePlayer struct {
	mu       sync.Mutex
	position float64
	state    PlayerState
	rate     float64
	calls    []playerCall
	reads    int
}

func newFakePlayer(position float64, state PlayerState) *fakePlayer {
	return &fakePlayer{position: position, state: state, rate: 1}
}

func (p *fakePlayer) GetCurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.position
}

func (p *fakePlayer) GetPlayerState() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.state
}

func (p *fakePlayer) GetPlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.rate
}

func (p *fakePlayer) PlayVideo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, playerCall{name: "play"})
	p.state = PlayerPlaying
}

func (p *fakePlayer) PauseVideo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, playerCall{name: "pause"})
	p.state = PlayerPaused
}

func (p *fakePlayer) SeekTo(seconds float64, allowSeekAhead bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, playerCall{name: "seek", arg: seconds})
	p.position = seconds
}

func (p *fakePlayer) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, playerCall{name: "rate", arg: rate})
	p.rate = rate
}

func (p *fakePlayer) Calls() []playerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playerCall(nil), p.calls...)
}

func (p *fakePlayer) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePlayer) callsNamed(name string) []playerCall {
	var out []playerCall
	for _, c := range p.Calls() {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// recordingChannel keeps every published packet and hands subscribers
// nothing unless a test calls Deliver.
type recordingChannel struct {
	mu           sync.Mutex
	published    []protocol.SyncPacket
	publishErr   error
	handler      transport.Handler
	unsubscribed bool
	notify       chan protocol.SyncPacket
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{notify: make(chan protocol.SyncPacket, 32)}
}

func (c *recordingChannel) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return transport.SubscriptionFunc(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.unsubscribed = true
		return nil
	}), nil
}

func (c *recordingChannel) Publish(ctx context.Context, topic string, packet protocol.SyncPacket) error {
	c.mu.Lock()
	c.published = append(c.published, packet)
	err := c.publishErr
	c.mu.Unlock()
	select {
	case c.notify <- packet:
	default:
	}
	return err
}

// Deliver hands packet to the subscriber, reporting false if there is none yet.
func (c *recordingChannel) Deliver(packet protocol.SyncPacket) bool {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(packet)
	return true
}

func (c *recordingChannel) Published() []protocol.SyncPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.SyncPacket(nil), c.published...)
}

func (c *recordingChannel) Unsubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

type persistCall struct {
	roomID    string
	position  float64
	isPlaying bool
}

type recordingPersister struct {
	mu     sync.Mutex
	writes []persistCall
	err    error
	notify chan persistCall
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{notify: make(chan persistCall, 32)}
}

func (p *recordingPersister) PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error {
	call := persistCall{roomID: roomID, position: position, isPlaying: isPlaying}
	p.mu.Lock()
	p.writes = append(p.writes, call)
	err := p.err
	p.mu.Unlock()
	select {
	case p.notify <- call:
	default:
	}
	return err
}

func (p *recordingPersister) Writes() []persistCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistCall(nil), p.writes...)
}

var errPublish = errors.New("publish failed")

type fixture struct {
	clock     clockwork.FakeClock
	player    *fakePlayer
	channel   *recordingChannel
	persister *recordingPersister
	session   *Session
}

func newFixture(t *testing.T, role Role, player *fakePlayer, mutators ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clockwork.NewFakeClockAt(testEpoch),
		player:    player,
		channel:   newRecordingChannel(),
		persister: newRecordingPersister(),
	}
	opts := Options{
		RoomID:    "room_1",
		VideoID:   "vid_1",
		Role:      role,
		Player:    player,
		Channel:   f.channel,
		Persister: f.persister,
		Clock:     f.clock,
		Config:    DefaultConfig(),
	}
	for _, mutate := range mutators {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	f.session = s
	return f
}

// packet builds a snapshot stamped with the fixture clock's current time.
func (f *fixture) packet(packetType protocol.PacketType, timestamp float64, playing bool) protocol.SyncPacket {
	return protocol.SyncPacket{
		IsPlaying: playing,
		Timestamp: timestamp,
		SentAt:    f.clock.Now().UnixMilli(),
		VideoID:   "vid_1",
		Type:      packetType,
	}
}
