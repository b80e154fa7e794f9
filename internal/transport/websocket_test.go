package transport_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty/internal/httpapi"
	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
	"watchparty/internal/transport"
)

func TestWSChannelRelaysThroughServer(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(httpapi.NewServer(manager).Router())
	defer srv.Close()

	ctx := context.Background()
	host, err := manager.CreateRoom(ctx, "Host", "vid_1")
	require.NoError(t, err)
	guest, err := manager.JoinRoom(ctx, host.RoomID, "Guest")
	require.NoError(t, err)

	hostCh, err := transport.DialRoom(ctx, srv.URL, host.RoomID, host.Token)
	require.NoError(t, err)
	defer hostCh.Close()
	assert.Equal(t, host.RoomID, hostCh.RoomState().RoomID)
	assert.Equal(t, "vid_1", hostCh.RoomState().VideoID)

	guestCh, err := transport.DialRoom(ctx, srv.URL, host.RoomID, guest.Token)
	require.NoError(t, err)
	defer guestCh.Close()

	received := make(chan protocol.SyncPacket, 4)
	_, err = guestCh.Subscribe(ctx, host.RoomID, func(p protocol.SyncPacket) { received <- p })
	require.NoError(t, err)

	packet := protocol.SyncPacket{
		IsPlaying: true,
		Timestamp: 61.5,
		SentAt:    time.Now().UnixMilli(),
		VideoID:   "vid_1",
		Type:      protocol.PacketAction,
		Seq:       1,
		Epoch:     "e1",
	}
	require.NoError(t, hostCh.Publish(ctx, host.RoomID, packet))

	select {
	case got := <-received:
		assert.Equal(t, packet, got)
	case <-time.After(2 * time.Second):
		t.Fatal("guest never received the packet")
	}

	require.NoError(t, hostCh.PersistRoomState(ctx, host.RoomID, 61.5, true))
	require.Eventually(t, func() bool {
		state, err := manager.GetState(ctx, host.RoomID)
		return err == nil && state.Position == 61.5 && state.IsPlaying
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSChannelRejectsOtherTopics(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(httpapi.NewServer(manager).Router())
	defer srv.Close()

	ctx := context.Background()
	host, err := manager.CreateRoom(ctx, "Host", "vid_1")
	require.NoError(t, err)
	ch, err := transport.DialRoom(ctx, srv.URL, host.RoomID, host.Token)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Subscribe(ctx, "room_other", func(protocol.SyncPacket) {})
	assert.Error(t, err)
	assert.Error(t, ch.Publish(ctx, "room_other", protocol.SyncPacket{}))
}

func TestDialRoomBadToken(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(httpapi.NewServer(manager).Router())
	defer srv.Close()

	host, err := manager.CreateRoom(context.Background(), "Host", "vid_1")
	require.NoError(t, err)

	_, err = transport.DialRoom(context.Background(), srv.URL, host.RoomID, "wrong")
	assert.Error(t, err)
}
