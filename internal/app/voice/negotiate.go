package voice

import (
	"context"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func peerLog(peer domain.UserID) zerolog.Logger {
	return log.With().Str("module", "voice").Str("peer", string(peer)).Logger()
}

// inRoomLocked reports whether msg concerns the active room and a remote peer.
func (m *Manager) inRoomLocked(room domain.RoomID, peer domain.UserID) bool {
	return m.state == StateActive && room == m.room && peer != "" && peer != m.self.ID
}

func (m *Manager) addParticipantLocked(peer domain.UserID) {
	if _, ok := m.roster[peer]; ok {
		return
	}
	m.roster[peer] = struct{}{}
	m.emit(ParticipantJoined{Room: m.room, Peer: peer})
}

func (m *Manager) negotiation(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

// onUserJoined makes us the offerer towards a peer that joined after us.
func (m *Manager) onUserJoined(msg protocol.Message) {
	peer := msg.UserID
	logger := peerLog(peer)

	m.mu.Lock()
	if !m.inRoomLocked(msg.RoomID, peer) {
		m.unlock()
		logger.Debug().Str("room", string(msg.RoomID)).Msg("user-joined discarded")
		return
	}
	m.addParticipantLocked(peer)
	if _, ok := m.links[peer]; ok {
		m.unlock()
		return
	}
	link, err := m.newLinkLocked(peer)
	if err != nil {
		m.unlock()
		logger.Warn().Err(err).Msg("link not created")
		return
	}
	ctx, cancel := m.negotiation(m.sessCtx)
	defer cancel()
	m.unlock()

	offer, err := link.conn.CreateOffer(ctx)

	m.mu.Lock()
	defer m.unlock()
	if !m.currentLocked(link, LinkNew) {
		logger.Debug().Msg("offer superseded")
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("offer failed")
		m.dropLinkLocked(link)
		return
	}
	if err := m.signal.Send(protocol.Offer(m.self.ID, peer, m.room, offer.SDP)); err != nil {
		logger.Warn().Err(err).Msg("offer not sent")
		m.dropLinkLocked(link)
		return
	}
	m.setStateLocked(link, LinkAwaitingAnswer)
	m.flushOutboxLocked(link)
}

// onOffer answers a peer that discovered us. When both sides offered at
// once, the greater user id keeps its own offer.
func (m *Manager) onOffer(msg protocol.Message) {
	peer := msg.From
	logger := peerLog(peer)

	m.mu.Lock()
	if !m.inRoomLocked(msg.RoomID, peer) {
		m.unlock()
		logger.Debug().Msg("offer discarded")
		return
	}
	if existing, ok := m.links[peer]; ok {
		switch existing.state {
		case LinkNew, LinkAwaitingAnswer:
			if m.self.ID > peer {
				m.unlock()
				logger.Debug().Msg("glare, keeping own offer")
				return
			}
			logger.Debug().Msg("glare, yielding to remote offer")
			m.dropLinkLocked(existing)
		default:
			m.unlock()
			logger.Debug().Str("state", existing.state.String()).Msg("offer discarded")
			return
		}
	}
	m.addParticipantLocked(peer)
	link, err := m.newLinkLocked(peer)
	if err != nil {
		m.unlock()
		logger.Warn().Err(err).Msg("link not created")
		return
	}
	m.setStateLocked(link, LinkOfferReceived)
	m.setStateLocked(link, LinkAnswering)
	ctx, cancel := m.negotiation(m.sessCtx)
	defer cancel()
	m.unlock()

	answer, err := link.conn.AcceptOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})

	m.mu.Lock()
	defer m.unlock()
	if !m.currentLocked(link, LinkAnswering) {
		logger.Debug().Msg("answer superseded")
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("answer failed")
		m.dropLinkLocked(link)
		return
	}
	if err := m.signal.Send(protocol.Answer(m.self.ID, peer, m.room, answer.SDP)); err != nil {
		logger.Warn().Err(err).Msg("answer not sent")
		m.dropLinkLocked(link)
		return
	}
	// Connected once the answer is out; the transport reports real failures.
	m.setStateLocked(link, LinkConnected)
	m.flushOutboxLocked(link)
}

func (m *Manager) onAnswer(msg protocol.Message) {
	peer := msg.From
	logger := peerLog(peer)

	m.mu.Lock()
	defer m.unlock()
	link, ok := m.links[peer]
	if !m.inRoomLocked(msg.RoomID, peer) || !ok || link.state != LinkAwaitingAnswer {
		logger.Debug().Msg("stale answer discarded")
		return
	}
	if err := link.conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		logger.Warn().Err(err).Msg("answer rejected by transport")
		m.dropLinkLocked(link)
		return
	}
	m.setStateLocked(link, LinkConnected)
}

func (m *Manager) onCandidate(msg protocol.Message) {
	peer := msg.From
	logger := peerLog(peer)

	m.mu.Lock()
	defer m.unlock()
	link, ok := m.links[peer]
	if !m.inRoomLocked(msg.RoomID, peer) || !ok || link.state == LinkClosed || msg.Candidate == nil {
		logger.Debug().Msg("candidate discarded")
		return
	}
	if err := link.conn.AddICECandidate(*msg.Candidate); err != nil {
		logger.Debug().Err(err).Msg("candidate rejected")
	}
}

func (m *Manager) onUserLeft(msg protocol.Message) {
	peer := msg.UserID

	m.mu.Lock()
	defer m.unlock()
	if !m.inRoomLocked(msg.RoomID, peer) {
		logger := peerLog(peer)
		logger.Debug().Msg("user-left discarded")
		return
	}
	if link, ok := m.links[peer]; ok {
		m.dropLinkLocked(link)
	}
	if _, ok := m.roster[peer]; ok {
		delete(m.roster, peer)
		m.emit(ParticipantLeft{Room: m.room, Peer: peer})
	}
}

// onTransportState closes a link on any terminal connectivity signal.
func (m *Manager) onTransportState(link *peerLink, s core.TransportState) {
	m.mu.Lock()
	defer m.unlock()
	if m.links[link.peer] != link {
		return
	}
	logger := peerLog(link.peer)
	logger.Debug().Str("transport", s.String()).Msg("transport state")
	if s.Terminal() {
		logger.Info().Str("transport", s.String()).Msg("link lost")
		m.dropLinkLocked(link)
	}
}

func (m *Manager) onLocalCandidate(link *peerLink, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.unlock()
	if m.links[link.peer] != link || link.state == LinkClosed {
		return
	}
	if !link.signalled {
		link.outbox = append(link.outbox, c)
		return
	}
	m.sendCandidateLocked(link, c)
}

func (m *Manager) flushOutboxLocked(link *peerLink) {
	link.signalled = true
	for _, c := range link.outbox {
		m.sendCandidateLocked(link, c)
	}
	link.outbox = nil
}

func (m *Manager) sendCandidateLocked(link *peerLink, c webrtc.ICECandidateInit) {
	if err := m.signal.Send(protocol.ICECandidate(m.self.ID, link.peer, m.room, c)); err != nil {
		logger := peerLog(link.peer)
		logger.Debug().Err(err).Msg("candidate not sent")
	}
}

func (m *Manager) onRemoteTrack(link *peerLink, track *webrtc.TrackRemote) {
	m.mu.Lock()
	defer m.unlock()
	if m.links[link.peer] != link || link.state == LinkClosed || m.output == nil {
		return
	}
	if link.sink != nil {
		link.sink.Close()
	}
	link.sink = m.output.Attach(link.peer, track)
	link.sink.SetMuted(m.deafened)
}
