package voice

import "fmt"

type SessionState int

const (
	StateIdle SessionState = iota
	StateJoining
	StateActive
	StateLeaving
)

var sessionStateNames = [...]string{"idle", "joining", "active", "leaving"}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LinkState is the negotiation progress of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOfferReceived
	LinkAnswering
	LinkAwaitingAnswer
	LinkConnected
	LinkClosed
)

var linkStateNames = [...]string{"new", "offer-received", "answering", "awaiting-answer", "connected", "closed"}

func (s LinkState) String() string {
	if int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

func (s LinkState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
