package hertzapi

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty/internal/rooms"
)

func perform(h *server.Hertz, method, path, body string) *ut.ResponseRecorder {
	return ut.PerformRequest(h.Engine, method, path,
		&ut.Body{Body: bytes.NewBufferString(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func TestRouterCreateAndJoin(t *testing.T) {
	h := NewRouter(server.New(), rooms.NewManager())

	w := perform(h, consts.MethodPost, "/api/rooms", `{"displayName":"Host","videoId":"vid_1"}`)
	resp := w.Result()
	require.Equal(t, consts.StatusCreated, resp.StatusCode(), string(resp.Body()))
	var host rooms.Session
	require.NoError(t, json.Unmarshal(resp.Body(), &host))
	assert.True(t, host.IsHost)

	w = perform(h, consts.MethodPost, "/api/rooms/"+host.RoomID+"/join", `{"displayName":"Guest"}`)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())

	w = perform(h, consts.MethodGet, "/api/rooms/"+host.RoomID, "")
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
}

func TestRouterErrors(t *testing.T) {
	h := NewRouter(server.New(), rooms.NewManager())

	w := perform(h, consts.MethodPost, "/api/rooms", `{"displayName":"Host"}`)
	assert.Equal(t, consts.StatusBadRequest, w.Result().StatusCode())

	w = perform(h, consts.MethodPost, "/api/rooms/room_missing/join", `{"displayName":"Guest"}`)
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "room_not_found")

	w = perform(h, consts.MethodGet, "/ws/rooms/room_missing", "")
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())
}

func TestRouterCloseRoom(t *testing.T) {
	manager := rooms.NewManager()
	h := NewRouter(server.New(), manager)
	host, err := manager.CreateRoom(context.Background(), "Host", "vid_1")
	require.NoError(t, err)
	guest, err := manager.JoinRoom(context.Background(), host.RoomID, "Guest")
	require.NoError(t, err)

	w := perform(h, consts.MethodPost, "/api/rooms/"+host.RoomID+"/close?token="+guest.Token, "")
	assert.Equal(t, consts.StatusForbidden, w.Result().StatusCode())

	w = perform(h, consts.MethodPost, "/api/rooms/"+host.RoomID+"/close?token="+host.Token, "")
	require.Equal(t, consts.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = perform(h, consts.MethodPost, "/api/rooms/"+host.RoomID+"/join", `{"displayName":"Late"}`)
	assert.Equal(t, consts.StatusGone, w.Result().StatusCode())
}
