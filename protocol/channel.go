package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for channel frames that are not a valid envelope.
var ErrInvalidMessage = errors.New("invalid channel message")

// ChannelMessage is the frame delivered on a per-order WebSocket channel.
type ChannelMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StatusEvent is a decoded channel frame.
type StatusEvent struct {
	Type  string
	Order Order
	Data  json.RawMessage
}

// DecodeStatusEvent parses a channel frame. The type is carried through but
// not interpreted; data must be a valid order.
func DecodeStatusEvent(frame []byte) (StatusEvent, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return StatusEvent{}, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}
	var msg ChannelMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return StatusEvent{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(msg.Data) == 0 || bytes.Equal(msg.Data, []byte("null")) {
		return StatusEvent{}, fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	o, err := DecodeOrder(msg.Data)
	if err != nil {
		return StatusEvent{}, err
	}
	return StatusEvent{Type: msg.Type, Order: o, Data: msg.Data}, nil
}

// EncodeChannelMessage builds a channel frame carrying o.
func EncodeChannelMessage(msgType string, o Order) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ChannelMessage{Type: msgType, Data: data})
}
