package voice

import (
	"github.com/dkeye/voicemesh/internal/app/directory"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

// ToggleMute flips the outgoing track and returns the new muted flag. The
// flag also applies to the next capture when idle.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	defer m.unlock()
	m.muted = !m.muted
	if m.audio != nil {
		m.audio.SetTrackEnabled(!m.muted)
	}
	m.emit(MuteChanged{Muted: m.muted})
	return m.muted
}

// ToggleDeafen silences every remote sink, including sinks attached later.
func (m *Manager) ToggleDeafen() bool {
	m.mu.Lock()
	defer m.unlock()
	m.deafened = !m.deafened
	for _, l := range m.links {
		if l.sink != nil {
			l.sink.SetMuted(m.deafened)
		}
	}
	m.emit(DeafenChanged{Deafened: m.deafened})
	return m.deafened
}

func (m *Manager) CreateRoom(name string, capacity int, owner directory.Owner) error {
	return m.dir.CreateRoom(name, capacity, owner)
}

func (m *Manager) Rooms() []domain.Room { return m.dir.List() }

// Invite asks the relay to invite target into the active room.
func (m *Manager) Invite(target domain.UserID) error {
	if err := target.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return ErrNotActive
	}
	return m.signal.Send(protocol.Invite(target, m.room, m.self.Username))
}
