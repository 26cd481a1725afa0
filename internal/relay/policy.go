package relay

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackpressure(user domain.UserID, msg protocol.Type) BackpressureAction
}

// SimplePolicy drops a slow member's connection. Its client reconnects and
// receives a fresh room list, which beats silently missing negotiation.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(domain.UserID, protocol.Type) BackpressureAction {
	return KickMember
}

// LenientPolicy keeps slow members and drops the frame instead.
type LenientPolicy struct{}

func (LenientPolicy) OnBackpressure(domain.UserID, protocol.Type) BackpressureAction {
	return DropFrame
}
