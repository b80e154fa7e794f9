package protocol

import (
	"encoding/json"
	"time"
)

// PacketType distinguishes periodic snapshots from host triggered ones.
type PacketType string

const (
	PacketHeartbeat  PacketType = "heartbeat"
	PacketAction     PacketType = "action"
	PacketRoomClosed PacketType = "room_closed"
)

// SyncPacket is a full playback snapshot published by the host of a room.
type SyncPacket struct {
	IsPlaying bool       `json:"isPlaying" jsonschema:"description=True only while the host player is advancing"`
	Timestamp float64    `json:"timestamp" jsonschema:"description=Host playback position in seconds,minimum=0"`
	SentAt    int64      `json:"sentAt" jsonschema:"description=Host wall clock at send time in Unix milliseconds"`
	VideoID   string     `json:"videoId"`
	Type      PacketType `json:"type" jsonschema:"enum=heartbeat,enum=action,enum=room_closed"`
	// Seq and Epoch are optional; peers that omit them are never dropped as stale.
	Seq   uint64 `json:"seq,omitempty" jsonschema:"description=Per epoch send counter starting at 1"`
	Epoch string `json:"epoch,omitempty" jsonschema:"description=Random id of the host session that sent the packet"`
}

// SentTime returns SentAt as a time.Time.
func (p SyncPacket) SentTime() time.Time {
	return time.UnixMilli(p.SentAt)
}

// RoomState is the durable room metadata the host writes through on actions.
type RoomState struct {
	RoomID    string    `json:"roomId"`
	VideoID   string    `json:"videoId"`
	IsPlaying bool      `json:"isPlaying"`
	Position  float64   `json:"position"`
	OwnerID   string    `json:"ownerId"`
	Closed    bool      `json:"closed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StatePayload struct {
	Position  float64   `json:"position"`
	IsPlaying bool      `json:"isPlaying"`
	IssuedAt  time.Time `json:"issuedAt"`
}

type RoomStatePayload struct {
	Room RoomState `json:"room"`
}

type SyncRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	KindSync        = "SYNC"
	KindState       = "STATE"
	KindRoomState   = "ROOM_STATE"
	KindSyncRequest = "SYNC_REQUEST"
	KindError       = "ERROR"
)

type Envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

type InboundEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}
