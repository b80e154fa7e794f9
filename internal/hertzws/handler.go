package hertzws

import (
	"context"
	"log"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

const (
	// 读超时，收到pong时刷新
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Handler WebSocket处理器
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	roomID := ctx.Param("roomId")
	token := ctx.Query("token")

	if token == "" {
		log.Printf("WebSocket: missing token for room %s", roomID)
		ctx.String(401, "missing token")
		return
	}

	// 查找房间和参与者
	room, participant, err := h.manager.LookupParticipant(roomID, token)
	if err != nil {
		log.Printf("WebSocket: lookup failed for room %s: %v", roomID, err)
		ctx.String(401, err.Error())
		return
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		connCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		participant.BindConnection(conn)
		go participant.SendLoop()
		go keepAlive(connCtx, conn)

		// 发送房间状态
		participant.Send(protocol.Envelope{
			Kind: protocol.KindRoomState,
			Data: protocol.RoomStatePayload{Room: room.StateSnapshot()},
		})

		h.readLoop(connCtx, room, participant, conn)

		// 连接关闭后清理
		room.DetachParticipant(participant.ID)
		h.manager.CleanupRoom(room)
	})
	if err != nil {
		log.Printf("WebSocket: upgrade failed for room %s: %v", roomID, err)
	}
}

// readLoop 读取WebSocket消息循环
func (h *Handler) readLoop(ctx context.Context, room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket: read error: %v", err)
			}
			return
		}
		// 只处理文本消息
		if msgType != websocket.TextMessage {
			continue
		}
		h.manager.HandleMessage(ctx, room, participant, data)
	}
}

// keepAlive 定时发送ping，观众端通常不发消息
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
