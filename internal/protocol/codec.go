package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidPacket = errors.New("invalid sync packet")

// Validate reports whether p is well formed enough to reconcile against.
func (p SyncPacket) Validate() error {
	switch p.Type {
	case PacketHeartbeat, PacketAction:
		if p.VideoID == "" {
			return fmt.Errorf("%w: missing videoId", ErrInvalidPacket)
		}
		if math.IsNaN(p.Timestamp) || math.IsInf(p.Timestamp, 0) || p.Timestamp < 0 {
			return fmt.Errorf("%w: bad timestamp %v", ErrInvalidPacket, p.Timestamp)
		}
	case PacketRoomClosed:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPacket, p.Type)
	}
	if p.SentAt <= 0 {
		return fmt.Errorf("%w: missing sentAt", ErrInvalidPacket)
	}
	return nil
}

func EncodePacket(p SyncPacket) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePacket parses and validates a packet.
func DecodePacket(data []byte) (SyncPacket, error) {
	var p SyncPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return SyncPacket{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if err := p.Validate(); err != nil {
		return SyncPacket{}, err
	}
	return p, nil
}

// DecodeEnvelope unwraps a {kind,data} frame.
func DecodeEnvelope(data []byte) (InboundEnvelope, error) {
	var inbound InboundEnvelope
	if err := json.Unmarshal(data, &inbound); err != nil {
		return InboundEnvelope{}, err
	}
	return inbound, nil
}
