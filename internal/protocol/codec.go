package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrMissingType = errors.New("message has no type")
	ErrUnknownType = errors.New("unknown message type")
)

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b, nil
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode: %w", err)
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	if !msg.Type.Known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}
