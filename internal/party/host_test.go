package party

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty/internal/protocol"
)

func TestHeartbeatSamplesPlayer(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(42.25, PlayerPlaying))

	f.session.sendHeartbeat(context.Background())

	published := f.channel.Published()
	require.Len(t, published, 1)
	p := published[0]
	assert.Equal(t, protocol.PacketHeartbeat, p.Type)
	assert.True(t, p.IsPlaying)
	assert.Equal(t, 42.25, p.Timestamp)
	assert.Equal(t, testEpoch.UnixMilli(), p.SentAt)
	assert.Equal(t, "vid_1", p.VideoID)
	assert.Equal(t, uint64(1), p.Seq)
	assert.NotEmpty(t, p.Epoch)
	assert.Empty(t, f.persister.Writes(), "heartbeats must not be persisted")
}

func TestHeartbeatSequenceIncreases(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(1, PlayerPlaying))
	ctx := context.Background()

	f.session.sendHeartbeat(ctx)
	f.session.sendHeartbeat(ctx)
	f.session.handleLocalChange(ctx, PlayerPaused)

	published := f.channel.Published()
	require.Len(t, published, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{published[0].Seq, published[1].Seq, published[2].Seq})
	assert.Equal(t, published[0].Epoch, published[2].Epoch)
}

func TestHeartbeatTreatsBufferingAsPaused(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(7, PlayerBuffering))

	f.session.sendHeartbeat(context.Background())

	published := f.channel.Published()
	require.Len(t, published, 1)
	assert.False(t, published[0].IsPlaying)
}

func TestHeartbeatNotSentByGuest(t *testing.T) {
	f := newFixture(t, RoleGuest, newFakePlayer(7, PlayerPlaying))

	f.session.sendHeartbeat(context.Background())

	assert.Empty(t, f.channel.Published())
}

func TestLocalTransitionSendsActionAndPersists(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(12.5, PlayerPlaying))

	handled := f.session.handleLocalChange(context.Background(), PlayerPlaying)

	require.True(t, handled)
	published := f.channel.Published()
	require.Len(t, published, 1)
	assert.Equal(t, protocol.PacketAction, published[0].Type)
	assert.Equal(t, []persistCall{{roomID: "room_1", position: 12.5, isPlaying: true}}, f.persister.Writes())
}

func TestLocalTransientStatesSendNothing(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(12.5, PlayerBuffering))
	ctx := context.Background()

	assert.False(t, f.session.handleLocalChange(ctx, PlayerBuffering))
	assert.False(t, f.session.handleLocalChange(ctx, PlayerCued))
	assert.False(t, f.session.handleLocalChange(ctx, PlayerUnstarted))
	assert.Empty(t, f.channel.Published())
}

func TestPublishFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(3, PlayerPaused))
	f.channel.publishErr = errPublish

	assert.NotPanics(t, func() {
		f.session.handleLocalChange(context.Background(), PlayerPaused)
	})
	assert.Len(t, f.channel.Published(), 1)
	assert.Equal(t, []persistCall{{roomID: "room_1", position: 3, isPlaying: false}}, f.persister.Writes())
}

func TestPersistFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(3, PlayerPaused))
	f.persister.err = errPublish

	f.session.handleLocalChange(context.Background(), PlayerPaused)

	assert.Len(t, f.channel.Published(), 1)
	assert.Equal(t, StateActive, f.session.Status().State)
}

func TestHeartbeatSuppressedWhileClosing(t *testing.T) {
	f := newFixture(t, RoleHost, newFakePlayer(3, PlayerPlaying))
	ctx := context.Background()

	require.True(t, f.session.beginClose(ctx))
	f.session.sendHeartbeat(ctx)

	published := f.channel.Published()
	require.Len(t, published, 1)
	assert.Equal(t, protocol.PacketRoomClosed, published[0].Type)
}
