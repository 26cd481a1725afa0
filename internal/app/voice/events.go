package voice

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Event is anything published on the Bus. Name is the wire name used by
// event streams.
type Event interface {
	Name() string
}

type Joined struct {
	Room domain.RoomID `json:"roomId"`
}

type Left struct {
	Room domain.RoomID `json:"roomId"`
}

// JoinFailed reports a join that never became, or stopped being, a session.
type JoinFailed struct {
	Room   domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
	Err    error         `json:"-"`
}

type ParticipantJoined struct {
	Room domain.RoomID `json:"roomId"`
	Peer domain.UserID `json:"userId"`
}

type ParticipantLeft struct {
	Room domain.RoomID `json:"roomId"`
	Peer domain.UserID `json:"userId"`
}

type MuteChanged struct {
	Muted bool `json:"muted"`
}

type DeafenChanged struct {
	Deafened bool `json:"deafened"`
}

type InviteReceived struct {
	Invite domain.Invite `json:"invite"`
}

type RoomsChanged struct {
	Rooms []domain.Room `json:"rooms"`
}

type LinkStateChanged struct {
	Peer  domain.UserID `json:"userId"`
	State LinkState     `json:"state"`
}

func (Joined) Name() string            { return "joined" }
func (Left) Name() string              { return "left" }
func (JoinFailed) Name() string        { return "join-failed" }
func (ParticipantJoined) Name() string { return "participant-joined" }
func (ParticipantLeft) Name() string   { return "participant-left" }
func (MuteChanged) Name() string       { return "mute-changed" }
func (DeafenChanged) Name() string     { return "deafen-changed" }
func (InviteReceived) Name() string    { return "invite-received" }
func (RoomsChanged) Name() string      { return "rooms-changed" }
func (LinkStateChanged) Name() string  { return "link-state-changed" }

type subscription struct {
	id int
	fn func(Event)
}

// Bus fans events out to listeners in registration order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscription
}

func NewBus() *Bus { return &Bus{} }

// SubscribeAll registers fn for every event and returns its cancel func.
func (b *Bus) SubscribeAll(fn func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribe registers fn for events of type E only.
func Subscribe[E Event](b *Bus, fn func(E)) func() {
	return b.SubscribeAll(func(e Event) {
		if ev, ok := e.(E); ok {
			fn(ev)
		}
	})
}

// Publish delivers e to every listener on the caller's goroutine.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "voice").Str("event", e.Name()).Interface("panic", r).Msg("listener panic")
		}
	}()
	s.fn(e)
}
