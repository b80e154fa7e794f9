package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"watchparty/internal/protocol"
)

// WSChannel is a client connection to the relay server for a single room.
// The topic passed to Subscribe and Publish must be the room it was dialed for.
type WSChannel struct {
	roomID string
	conn   *websocket.Conn

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	state    protocol.RoomState
	onState  func(protocol.RoomState)

	readOnce sync.Once
	done     chan struct{}
}

// DialRoom connects to ws(s)://host/ws/rooms/{roomID}?token=... derived from baseURL.
func DialRoom(ctx context.Context, baseURL, roomID, token string) (*WSChannel, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   base.Host,
		Path:   "/ws/rooms/" + roomID,
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ctxDial, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctxDial, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room %s: %w", roomID, err)
	}

	c := &WSChannel{
		roomID:   roomID,
		conn:     conn,
		handlers: make(map[int]Handler),
		done:     make(chan struct{}),
	}

	// The relay always opens with a ROOM_STATE snapshot.
	ctxRead, cancelRead := context.WithTimeout(ctx, 10*time.Second)
	defer cancelRead()
	var first protocol.InboundEnvelope
	if err := wsjson.Read(ctxRead, conn, &first); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "no initial state")
		return nil, fmt.Errorf("read initial state: %w", err)
	}
	c.handleEnvelope(first)

	return c, nil
}

// OnRoomState registers a callback for ROOM_STATE snapshots pushed by the relay.
func (c *WSChannel) OnRoomState(fn func(protocol.RoomState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// RoomState returns the last snapshot received from the relay.
func (c *WSChannel) RoomState() protocol.RoomState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *WSChannel) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if topic != c.roomID {
		return nil, fmt.Errorf("websocket channel bound to room %s, not %s", c.roomID, topic)
	}
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	c.readOnce.Do(func() {
		go c.readLoop()
	})

	return SubscriptionFunc(func() error {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
		return nil
	}), nil
}

func (c *WSChannel) Publish(ctx context.Context, topic string, packet protocol.SyncPacket) error {
	if topic != c.roomID {
		return fmt.Errorf("websocket channel bound to room %s, not %s", c.roomID, topic)
	}
	return c.write(ctx, protocol.Envelope{Kind: protocol.KindSync, Data: packet})
}

// PersistRoomState asks the relay to store the host's playback state.
func (c *WSChannel) PersistRoomState(ctx context.Context, roomID string, position float64, isPlaying bool) error {
	if roomID != c.roomID {
		return fmt.Errorf("websocket channel bound to room %s, not %s", c.roomID, roomID)
	}
	return c.write(ctx, protocol.Envelope{
		Kind: protocol.KindState,
		Data: protocol.StatePayload{
			Position:  position,
			IsPlaying: isPlaying,
			IssuedAt:  time.Now().UTC(),
		},
	})
}

// RequestSync asks the relay to resend the current room snapshot.
func (c *WSChannel) RequestSync(ctx context.Context) error {
	return c.write(ctx, protocol.Envelope{
		Kind: protocol.KindSyncRequest,
		Data: protocol.SyncRequest{RoomID: c.roomID},
	})
}

func (c *WSChannel) write(ctx context.Context, envelope protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	ctxWrite, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctxWrite, c.conn, envelope)
}

// Done is closed once the connection has stopped reading.
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

func (c *WSChannel) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "leaving room")
	c.readOnce.Do(func() {
		close(c.done)
	})
	return err
}

func (c *WSChannel) readLoop() {
	defer func() {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}()
	for {
		var inbound protocol.InboundEnvelope
		if err := wsjson.Read(context.Background(), c.conn, &inbound); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Printf("websocket transport: read error for room %s: %v", c.roomID, err)
			}
			return
		}
		c.handleEnvelope(inbound)
	}
}

func (c *WSChannel) handleEnvelope(inbound protocol.InboundEnvelope) {
	switch inbound.Kind {
	case protocol.KindSync:
		packet, err := protocol.DecodePacket(inbound.Data)
		if err != nil {
			log.Printf("websocket transport: dropping packet for room %s: %v", c.roomID, err)
			return
		}
		c.mu.RLock()
		handlers := make([]Handler, 0, len(c.handlers))
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
		c.mu.RUnlock()
		for _, h := range handlers {
			h(packet)
		}
	case protocol.KindRoomState:
		var payload protocol.RoomStatePayload
		if err := decodeData(inbound, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.state = payload.Room
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(payload.Room)
		}
	case protocol.KindError:
		var payload protocol.ErrorPayload
		if err := decodeData(inbound, &payload); err == nil {
			log.Printf("websocket transport: relay error for room %s: %s: %s", c.roomID, payload.Code, payload.Message)
		}
	}
}

func decodeData(inbound protocol.InboundEnvelope, v interface{}) error {
	return json.Unmarshal(inbound.Data, v)
}
