package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"watchparty/internal/protocol"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidToken        = errors.New("invalid token")
)

// StateStore keeps room metadata beyond the lifetime of the process.
type StateStore interface {
	SaveState(ctx context.Context, state protocol.RoomState) error
	LoadState(ctx context.Context, roomID string) (protocol.RoomState, error)
}

type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	store StateStore
	clock clockwork.Clock
}

type Option func(*Manager)

func WithStore(store StateStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

type Session struct {
	RoomID string             `json:"roomId"`
	UserID string             `json:"userId"`
	Token  string             `json:"token"`
	IsHost bool               `json:"isHost"`
	State  protocol.RoomState `json:"state"`
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms: make(map[string]*Room),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CreateRoom(ctx context.Context, displayName, videoID string) (*Session, error) {
	roomID := generateID("room")
	userID := generateID("user")
	token := uuid.NewString()

	room := NewRoom(roomID, userID, videoID, m.now())
	if err := room.AttachParticipant(userID, displayName, token, true); err != nil {
		return nil, err
	}

	state := room.StateSnapshot()
	if err := m.save(ctx, state); err != nil {
		return nil, fmt.Errorf("save room %s: %w", roomID, err)
	}

	m.mu.Lock()
	m.rooms[roomID] = room
	m.mu.Unlock()

	ilog.EventInfo(ctx, "room_created", "room", roomID, "video", videoID)
	return &Session{
		RoomID: roomID,
		UserID: userID,
		Token:  token,
		IsHost: true,
		State:  state,
	}, nil
}

func (m *Manager) JoinRoom(ctx context.Context, roomID, displayName string) (*Session, error) {
	room, err := m.room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	userID := generateID("user")
	token := uuid.NewString()
	if err := room.AttachParticipant(userID, displayName, token, false); err != nil {
		return nil, err
	}

	ilog.EventInfo(ctx, "participant_joined", "room", roomID, "user", userID)
	return &Session{
		RoomID: roomID,
		UserID: userID,
		Token:  token,
		IsHost: false,
		State:  room.StateSnapshot(),
	}, nil
}

// GetState answers from memory first and falls back to the store, so rooms
// that outlived a restart stay readable.
func (m *Manager) GetState(ctx context.Context, roomID string) (protocol.RoomState, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return room.StateSnapshot(), nil
	}
	if m.store == nil {
		return protocol.RoomState{}, ErrRoomNotFound
	}
	return m.store.LoadState(ctx, roomID)
}

func (m *Manager) LookupParticipant(roomID, token string) (*Room, *Participant, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	participant, err := room.FindByToken(token)
	if err != nil {
		return nil, nil, err
	}
	return room, participant, nil
}

// HandleMessage dispatches one inbound websocket frame from participant.
func (m *Manager) HandleMessage(ctx context.Context, room *Room, participant *Participant, data []byte) {
	inbound, err := protocol.DecodeEnvelope(data)
	if err != nil {
		sendError(participant, "invalid_message", err.Error())
		return
	}

	switch inbound.Kind {
	case protocol.KindSync:
		packet, err := protocol.DecodePacket(inbound.Data)
		if err != nil {
			sendError(participant, "invalid_packet", err.Error())
			return
		}
		state, err := room.Relay(participant.ID, packet, m.now())
		if err != nil {
			sendError(participant, "unauthorized", err.Error())
			return
		}
		if packet.Type == protocol.PacketRoomClosed {
			m.recordClosed(ctx, room, state)
		}
	case protocol.KindState:
		var payload protocol.StatePayload
		if err := json.Unmarshal(inbound.Data, &payload); err != nil {
			sendError(participant, "invalid_state", err.Error())
			return
		}
		if payload.IssuedAt.IsZero() {
			payload.IssuedAt = m.now()
		}
		state, err := room.ApplyState(participant.ID, payload)
		if err != nil {
			sendError(participant, "unauthorized", err.Error())
			return
		}
		if err := m.save(ctx, state); err != nil {
			ilog.EventInfo(ctx, "room_save_failed", "room", room.ID(), "error", err.Error())
			sendError(participant, "state_failed", err.Error())
		}
	case protocol.KindSyncRequest:
		participant.Send(protocol.Envelope{
			Kind: protocol.KindRoomState,
			Data: protocol.RoomStatePayload{Room: room.StateSnapshot()},
		})
	default:
		sendError(participant, "unknown_kind", "unsupported message type")
	}
}

// CloseRoom ends a room on behalf of its host without a websocket, e.g. from
// a host whose page is already gone. Guests receive room_closed as usual.
func (m *Manager) CloseRoom(ctx context.Context, roomID, token string) (protocol.RoomState, error) {
	room, participant, err := m.LookupParticipant(roomID, token)
	if err != nil {
		return protocol.RoomState{}, err
	}
	if room.Closed() {
		return room.StateSnapshot(), nil
	}
	snapshot := room.StateSnapshot()
	now := m.now()
	state, err := room.Relay(participant.ID, protocol.SyncPacket{
		Timestamp: snapshot.Position,
		SentAt:    now.UnixMilli(),
		VideoID:   snapshot.VideoID,
		Type:      protocol.PacketRoomClosed,
	}, now)
	if err != nil {
		return protocol.RoomState{}, err
	}
	m.recordClosed(ctx, room, state)
	return state, nil
}

func (m *Manager) recordClosed(ctx context.Context, room *Room, state protocol.RoomState) {
	ilog.EventInfo(ctx, "room_closed", "room", room.ID())
	if err := m.save(ctx, state); err != nil {
		ilog.EventInfo(ctx, "room_save_failed", "room", room.ID(), "error", err.Error())
	}
}

func (m *Manager) CleanupRoom(room *Room) {
	if room == nil {
		return
	}
	if room.ParticipantCount() > 0 {
		return
	}
	roomID := room.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rooms[roomID]
	if ok && current == room {
		delete(m.rooms, roomID)
	}
}

// room finds a live room, reviving it from the store when needed.
func (m *Manager) room(ctx context.Context, roomID string) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}
	if m.store == nil {
		return nil, ErrRoomNotFound
	}
	state, err := m.store.LoadState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state.Closed {
		return nil, ErrRoomClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[roomID]; ok {
		return current, nil
	}
	room = restoreRoom(state)
	m.rooms[roomID] = room
	return room, nil
}

func (m *Manager) save(ctx context.Context, state protocol.RoomState) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveState(ctx, state)
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}

func sendError(participant *Participant, code, message string) {
	participant.Send(protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{Code: code, Message: message},
	})
}

func generateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}
