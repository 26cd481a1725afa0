package voice

import (
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// HandleMessage applies one message from the relay. It never panics; a
// failure affects only the message at hand.
func (m *Manager) HandleMessage(msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "voice").Str("type", string(msg.Type)).Interface("panic", r).Msg("handler panic")
		}
	}()

	switch msg.Type {
	case protocol.TypeRoomCreated:
		if msg.Room != nil {
			m.dir.OnRoomCreated(*msg.Room)
		}
	case protocol.TypeRoomUpdated:
		if msg.Room != nil {
			m.dir.OnRoomUpdated(*msg.Room)
		}
	case protocol.TypeRoomRemoved:
		m.dir.OnRoomRemoved(msg.RoomID)
	case protocol.TypeRoomList:
		m.dir.Replace(msg.Rooms)
	case protocol.TypeUserJoined:
		m.onUserJoined(msg)
	case protocol.TypeUserLeft:
		m.onUserLeft(msg)
	case protocol.TypeOffer:
		m.onOffer(msg)
	case protocol.TypeAnswer:
		m.onAnswer(msg)
	case protocol.TypeICECandidate:
		m.onCandidate(msg)
	case protocol.TypeRoomInvite:
		m.onInvite(msg)
	case protocol.TypeError:
		m.onRelayError(msg)
	default:
		log.Debug().Str("module", "voice").Str("type", string(msg.Type)).Msg("unexpected message")
	}
}

func (m *Manager) onInvite(msg protocol.Message) {
	if msg.Room == nil || msg.Room.ID == "" {
		log.Debug().Str("module", "voice").Msg("invite without room discarded")
		return
	}
	m.bus.Publish(InviteReceived{Invite: domain.Invite{Room: *msg.Room, InviterName: msg.InviterName}})
}

func (m *Manager) onRelayError(msg protocol.Message) {
	logger := log.With().Str("module", "voice").Str("code", string(msg.Code)).Str("room", string(msg.RoomID)).Logger()
	if msg.Code != protocol.CodeJoinRejected {
		logger.Warn().Str("reason", msg.Reason).Msg("relay error")
		return
	}

	m.mu.Lock()
	defer m.unlock()
	if m.state != StateActive || msg.RoomID != m.room {
		logger.Debug().Msg("stale join rejection")
		return
	}
	m.teardownLocked(false)
	err := fmt.Errorf("%w: %s", ErrJoinRejected, msg.Reason)
	logger.Warn().Err(err).Msg("join rejected")
	m.emit(JoinFailed{Room: msg.RoomID, Reason: err.Error(), Err: err})
}
