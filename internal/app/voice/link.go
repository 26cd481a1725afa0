package voice

import (
	"sort"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// peerLink is the media connection to one remote participant. Guarded by
// Manager.mu.
type peerLink struct {
	peer  domain.UserID
	state LinkState
	conn  core.MediaConnection
	sink  core.AudioSink

	// signalled is set once our offer or answer went out; local candidates
	// gathered before that wait in outbox.
	signalled bool
	outbox    []webrtc.ICECandidateInit
}

func (l *peerLink) close() {
	l.state = LinkClosed
	l.outbox = nil
	if l.sink != nil {
		l.sink.Close()
		l.sink = nil
	}
	l.conn.Close()
}

// LinkInfo is a read-only view of one peer link.
type LinkInfo struct {
	Peer  domain.UserID `json:"userId"`
	State LinkState     `json:"state"`
}

func (m *Manager) linksLocked() []LinkInfo {
	out := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, LinkInfo{Peer: l.peer, State: l.state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (m *Manager) participantsLocked() []domain.UserID {
	out := make([]domain.UserID, 0, len(m.roster))
	for id := range m.roster {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// currentLocked reports whether link is still the table entry for its peer
// and is in the expected state.
func (m *Manager) currentLocked(link *peerLink, want LinkState) bool {
	return m.links[link.peer] == link && link.state == want
}

func (m *Manager) setStateLocked(link *peerLink, s LinkState) {
	link.state = s
	m.emit(LinkStateChanged{Peer: link.peer, State: s})
}

// newLinkLocked creates and registers a link for peer with the local audio attached.
func (m *Manager) newLinkLocked(peer domain.UserID) (*peerLink, error) {
	conn, err := m.peers.NewMediaConnection(peer)
	if err != nil {
		return nil, err
	}
	if err := conn.AddLocalAudio(m.audio); err != nil {
		conn.Close()
		return nil, err
	}
	link := &peerLink{peer: peer, state: LinkNew, conn: conn}
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) { m.onLocalCandidate(link, c) })
	conn.OnStateChange(func(s core.TransportState) { m.onTransportState(link, s) })
	conn.OnTrack(func(t *webrtc.TrackRemote) { m.onRemoteTrack(link, t) })
	m.links[peer] = link
	m.emit(LinkStateChanged{Peer: peer, State: LinkNew})
	return link, nil
}

// dropLinkLocked closes link and removes it from the table if it is still there.
func (m *Manager) dropLinkLocked(link *peerLink) {
	if m.links[link.peer] == link {
		delete(m.links, link.peer)
	}
	if link.state == LinkClosed {
		return
	}
	link.close()
	m.emit(LinkStateChanged{Peer: link.peer, State: LinkClosed})
}

func (m *Manager) closeAllLinksLocked() {
	for peer, link := range m.links {
		link.close()
		delete(m.links, peer)
	}
}
