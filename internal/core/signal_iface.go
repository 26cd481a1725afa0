package core

import "github.com/dkeye/voicemesh/internal/protocol"

// Frame is a raw encoded signal payload.
type Frame []byte

// SignalConnection abstracts a signaling transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalSender delivers one message to the relay. Addressing is carried by
// the message fields.
type SignalSender interface {
	Send(protocol.Message) error
}
