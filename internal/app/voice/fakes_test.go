package voice

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	sent   []protocol.Message
	failOn map[protocol.Type]error
}

func (s *fakeSignal) Send(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[m.Type]; err != nil {
		return err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignal) all() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.sent...)
}

func (s *fakeSignal) ofType(t protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range s.all() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSignal) types() []protocol.Type {
	var out []protocol.Type
	for _, m := range s.all() {
		out = append(out, m.Type)
	}
	return out
}

type fakeAudio struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (a *fakeAudio) Track() webrtc.TrackLocal { return nil }

func (a *fakeAudio) SetTrackEnabled(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = v
}

func (a *fakeAudio) TrackEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

func (a *fakeAudio) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type fakeCapture struct {
	mu     sync.Mutex
	err    error
	hook   func(ctx context.Context)
	audios []*fakeAudio
}

func (c *fakeCapture) AcquireLocalAudio(ctx context.Context) (core.LocalAudio, error) {
	if c.hook != nil {
		c.hook(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := &fakeAudio{enabled: true}
	c.audios = append(c.audios, a)
	return a, nil
}

func (c *fakeCapture) last() *fakeAudio {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.audios) == 0 {
		return nil
	}
	return c.audios[len(c.audios)-1]
}

type fakeConn struct {
	peer domain.UserID

	mu         sync.Mutex
	audio      core.LocalAudio
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(core.TransportState)
	onTrack    func(*webrtc.TrackRemote)

	// during runs inside offer or answer generation, with the manager unlocked.
	during   func()
	genErr   error
	applyErr error
}

func (c *fakeConn) AddLocalAudio(a core.LocalAudio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = a
	return nil
}

func (c *fakeConn) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if c.during != nil {
		c.during()
	}
	if c.genErr != nil {
		return webrtc.SessionDescription{}, c.genErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + string(c.peer)}, nil
}

func (c *fakeConn) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.remote = append(c.remote, offer)
	c.mu.Unlock()
	if c.during != nil {
		c.during()
	}
	if c.genErr != nil {
		return webrtc.SessionDescription{}, c.genErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + string(c.peer)}, nil
}

func (c *fakeConn) ApplyAnswer(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applyErr != nil {
		return c.applyErr
	}
	c.remote = append(c.remote, sd)
	return nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnStateChange(fn func(core.TransportState))      { c.onState = fn }
func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote))            { c.onTrack = fn }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeConnector struct {
	mu    sync.Mutex
	conns map[domain.UserID][]*fakeConn
	// prepare configures a connection before the manager sees it.
	prepare func(*fakeConn)
	err     error
}

func (f *fakeConnector) NewMediaConnection(peer domain.UserID) (core.MediaConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{peer: peer}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns == nil {
		f.conns = make(map[domain.UserID][]*fakeConn)
	}
	f.conns[peer] = append(f.conns[peer], c)
	return c, nil
}

func (f *fakeConnector) latest(peer domain.UserID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[peer]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (f *fakeConnector) count(peer domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[peer])
}

type fakeSink struct {
	mu     sync.Mutex
	peer   domain.UserID
	muted  bool
	closed bool
}

func (s *fakeSink) SetMuted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = v
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

type fakeOutput struct {
	mu    sync.Mutex
	sinks []*fakeSink
}

func (o *fakeOutput) Attach(peer domain.UserID, _ *webrtc.TrackRemote) core.AudioSink {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &fakeSink{peer: peer}
	o.sinks = append(o.sinks, s)
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Name())
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type harness struct {
	m      *Manager
	sig    *fakeSignal
	cap    *fakeCapture
	peers  *fakeConnector
	out    *fakeOutput
	events *eventLog
}

func newHarness(t *testing.T, self domain.UserID) *harness {
	t.Helper()
	h := &harness{
		sig:    &fakeSignal{},
		cap:    &fakeCapture{},
		peers:  &fakeConnector{},
		out:    &fakeOutput{},
		events: &eventLog{},
	}
	m, err := NewManager(Options{
		Self:    domain.User{ID: self, Username: "user-" + string(self)},
		Signal:  h.sig,
		Capture: h.cap,
		Peers:   h.peers,
		Output:  h.out,
	})
	require.NoError(t, err)
	m.Events().SubscribeAll(h.events.record)
	h.m = m
	return h
}

func (h *harness) join(t *testing.T, room domain.RoomID) {
	t.Helper()
	require.NoError(t, h.m.JoinRoom(context.Background(), room))
	require.Equal(t, StateActive, h.m.State())
}

func (h *harness) userJoined(room domain.RoomID, peer domain.UserID) {
	h.m.HandleMessage(protocol.UserJoined(room, peer))
}

func (h *harness) userLeft(room domain.RoomID, peer domain.UserID) {
	h.m.HandleMessage(protocol.UserLeft(room, peer))
}

func (h *harness) answerFrom(room domain.RoomID, peer domain.UserID) {
	h.m.HandleMessage(protocol.Answer(peer, h.m.self.ID, room, "answer-from-"+string(peer)))
}

func (h *harness) offerFrom(room domain.RoomID, peer domain.UserID) {
	h.m.HandleMessage(protocol.Offer(peer, h.m.self.ID, room, "offer-from-"+string(peer)))
}

func (h *harness) linkState(peer domain.UserID) (LinkState, bool) {
	for _, l := range h.m.Links() {
		if l.Peer == peer {
			return l.State, true
		}
	}
	return 0, false
}
