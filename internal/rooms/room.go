package rooms

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchparty/internal/protocol"
)

var (
	ErrUnauthorizedControl = errors.New("only host can control playback")
	ErrRoomClosed          = errors.New("room closed")
)

// Conn is the write side of a participant's websocket. Both the gorilla and
// the hertz upgraders hand out connections that satisfy it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Room struct {
	id           string
	ownerID      string
	videoID      string
	isPlaying    bool
	position     float64
	closed       bool
	updatedAt    time.Time
	participants map[string]*Participant
	tokenIndex   map[string]string
	mu           sync.RWMutex
}

type Participant struct {
	ID          string
	Name        string
	Token       string
	IsHost      bool
	send        chan []byte
	detached    bool
	connectedAt time.Time
	room        *Room

	connMu sync.Mutex
	conn   Conn
}

func NewRoom(roomID, ownerID, videoID string, now time.Time) *Room {
	return &Room{
		id:           roomID,
		ownerID:      ownerID,
		videoID:      videoID,
		updatedAt:    now,
		participants: make(map[string]*Participant),
		tokenIndex:   make(map[string]string),
	}
}

// restoreRoom rebuilds a room from stored metadata. It has no participants
// until someone joins again.
func restoreRoom(state protocol.RoomState) *Room {
	room := NewRoom(state.RoomID, state.OwnerID, state.VideoID, state.UpdatedAt)
	room.isPlaying = state.IsPlaying
	room.position = state.Position
	room.closed = state.Closed
	return room
}

func (r *Room) AttachParticipant(userID, name, token string, isHost bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if participant, exists := r.participants[userID]; exists {
		delete(r.tokenIndex, participant.Token)
		participant.Token = token
		r.tokenIndex[token] = userID
		return nil
	}

	r.participants[userID] = &Participant{
		ID:          userID,
		Name:        name,
		Token:       token,
		IsHost:      isHost,
		send:        make(chan []byte, 32),
		connectedAt: time.Now().UTC(),
		room:        r,
	}
	r.tokenIndex[token] = userID
	if isHost {
		r.ownerID = userID
	}
	return nil
}

func (r *Room) FindByToken(token string) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.tokenIndex[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	participant, ok := r.participants[userID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return participant, nil
}

func (r *Room) StateSnapshot() protocol.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() protocol.RoomState {
	return protocol.RoomState{
		RoomID:    r.id,
		VideoID:   r.videoID,
		IsPlaying: r.isPlaying,
		Position:  r.position,
		OwnerID:   r.ownerID,
		Closed:    r.closed,
		UpdatedAt: r.updatedAt,
	}
}

func (r *Room) Broadcast(envelope protocol.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, participant := range r.participants {
		participant.enqueueLocked(data)
	}
}

// Relay fans a host packet out to every other participant. A room_closed
// packet also marks the room closed so later joins are refused.
func (r *Room) Relay(senderID string, packet protocol.SyncPacket, now time.Time) (protocol.RoomState, error) {
	data, err := json.Marshal(protocol.Envelope{Kind: protocol.KindSync, Data: packet})
	if err != nil {
		return protocol.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.participants[senderID]
	if !ok || !sender.IsHost {
		return protocol.RoomState{}, ErrUnauthorizedControl
	}
	if packet.Type == protocol.PacketRoomClosed {
		r.closed = true
		r.isPlaying = false
		r.updatedAt = now
	}
	for id, participant := range r.participants {
		if id == senderID {
			continue
		}
		participant.enqueueLocked(data)
	}
	return r.snapshotLocked(), nil
}

// ApplyState records the host's playback state as durable room metadata.
func (r *Room) ApplyState(senderID string, state protocol.StatePayload) (protocol.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[senderID]
	if !ok || !participant.IsHost {
		return protocol.RoomState{}, ErrUnauthorizedControl
	}

	r.position = state.Position
	r.isPlaying = state.IsPlaying
	r.updatedAt = state.IssuedAt
	return r.snapshotLocked(), nil
}

func (r *Room) DetachParticipant(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if participant, ok := r.participants[participantID]; ok {
		if participant.Token != "" {
			delete(r.tokenIndex, participant.Token)
		}
		participant.detached = true
		close(participant.send)
		delete(r.participants, participantID)
	}
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) ID() string {
	return r.id
}

func (p *Participant) BindConnection(conn Conn) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.conn = conn
}

// SendLoop writes queued messages until the participant is detached or a
// write fails.
func (p *Participant) SendLoop() {
	defer p.Close()
	for msg := range p.send {
		conn := p.connection()
		if conn == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (p *Participant) Close() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Participant) connection() Conn {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.conn
}

func (p *Participant) Send(envelope protocol.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	p.room.mu.RLock()
	defer p.room.mu.RUnlock()
	p.enqueueLocked(data)
}

// enqueueLocked drops the message when the participant is slow or gone.
// Callers hold the room lock.
func (p *Participant) enqueueLocked(data []byte) {
	if p.detached {
		return
	}
	select {
	case p.send <- data:
	default:
	}
}
