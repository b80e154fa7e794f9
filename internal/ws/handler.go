package ws

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.Upgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, err := extractRoomID(r.URL.Path)
	if err != nil {
		log.Printf("WebSocket: invalid room path: %s", r.URL.Path)
		http.Error(w, "invalid room path", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		log.Printf("WebSocket: missing token for room %s", roomID)
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	room, participant, err := h.manager.LookupParticipant(roomID, token)
	if err != nil {
		log.Printf("WebSocket: lookup failed for room %s: %v", roomID, err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the client.
		log.Printf("WebSocket: upgrade failed for room %s: %v", roomID, err)
		return
	}

	participant.BindConnection(conn)
	go participant.SendLoop()

	participant.Send(protocol.Envelope{
		Kind: protocol.KindRoomState,
		Data: protocol.RoomStatePayload{Room: room.StateSnapshot()},
	})

	h.readLoop(r, room, participant, conn)
	room.DetachParticipant(participant.ID)
	h.manager.CleanupRoom(room)
}

func (h *Handler) readLoop(r *http.Request, room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket: read error for room %s: %v", room.ID(), err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.manager.HandleMessage(r.Context(), room, participant, data)
	}
}

func extractRoomID(path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "ws" || parts[1] != "rooms" || parts[2] == "" {
		return "", errors.New("invalid path")
	}
	return parts[2], nil
}
