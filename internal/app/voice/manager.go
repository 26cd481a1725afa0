// Package voice drives the local voice session: room membership, the
// per-peer negotiation state machine and the table of peer links.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/app/directory"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Self    domain.User
	Signal  core.SignalSender
	Capture core.MediaCapture
	Peers   core.PeerConnector
	// Output may be nil, remote audio is then ignored.
	Output core.AudioOutput
	// Directory defaults to a new one bound to Signal.
	Directory *directory.Directory
	// NegotiationTimeout bounds offer and answer generation. Zero means unbounded.
	NegotiationTimeout time.Duration
}

// Manager is the single authority for the local session. Every handler runs
// under mu; events raised meanwhile are delivered after mu is released.
type Manager struct {
	self    domain.User
	signal  core.SignalSender
	capture core.MediaCapture
	peers   core.PeerConnector
	output  core.AudioOutput
	dir     *directory.Directory
	bus     *Bus
	timeout time.Duration

	// opMu serializes JoinRoom and LeaveRoom.
	opMu sync.Mutex

	mu       sync.Mutex
	state    SessionState
	room     domain.RoomID
	audio    core.LocalAudio
	links    map[domain.UserID]*peerLink
	roster   map[domain.UserID]struct{}
	muted    bool
	deafened bool
	// generation changes on every session start and teardown.
	generation uint64
	sessCtx    context.Context
	sessCancel context.CancelFunc
	pending    []Event
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Signal == nil || opts.Capture == nil || opts.Peers == nil {
		return nil, errors.New("voice: signal, capture and peers are required")
	}
	if err := opts.Self.ID.Validate(); err != nil {
		return nil, fmt.Errorf("voice: self: %w", err)
	}
	dir := opts.Directory
	if dir == nil {
		dir = directory.New(opts.Signal)
	}
	m := &Manager{
		self:    opts.Self,
		signal:  opts.Signal,
		capture: opts.Capture,
		peers:   opts.Peers,
		output:  opts.Output,
		dir:     dir,
		bus:     NewBus(),
		timeout: opts.NegotiationTimeout,
		links:   make(map[domain.UserID]*peerLink),
		roster:  make(map[domain.UserID]struct{}),
	}
	dir.OnChange(func(rooms []domain.Room) { m.bus.Publish(RoomsChanged{Rooms: rooms}) })
	return m, nil
}

func (m *Manager) Events() *Bus { return m.bus }

func (m *Manager) Directory() *directory.Directory { return m.dir }

func (m *Manager) Self() domain.User { return m.self }

// JoinRoom makes id the active room, leaving any other room first.
func (m *Manager) JoinRoom(ctx context.Context, id domain.RoomID) error {
	if id == "" {
		return ErrNoRoom
	}
	m.abortPendingJoin()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == StateActive && m.room == id {
		m.unlock()
		return nil
	}
	if m.state == StateActive {
		prev := m.room
		m.teardownLocked(true)
		m.emit(Left{Room: prev})
	}
	m.state = StateJoining
	m.room = id
	m.generation++
	gen := m.generation
	m.sessCtx, m.sessCancel = context.WithCancel(context.Background())
	acqCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(m.sessCtx, stop)
	defer unhook()
	m.unlock()

	logger := log.With().Str("module", "voice").Str("room", string(id)).Logger()
	logger.Debug().Msg("acquiring local audio")
	audio, err := m.capture.AcquireLocalAudio(acqCtx)

	m.mu.Lock()
	defer m.unlock()
	if m.generation != gen || m.state != StateJoining {
		if audio != nil {
			audio.Stop()
		}
		if m.state == StateJoining {
			m.teardownLocked(false)
			logger.Info().Msg("join aborted")
			m.emit(JoinFailed{Room: id, Reason: ErrJoinAborted.Error(), Err: ErrJoinAborted})
		}
		return ErrJoinAborted
	}
	if err != nil {
		m.teardownLocked(false)
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			var capErr *core.CapabilityError
			if !errors.As(err, &capErr) {
				err = &core.CapabilityError{Err: err}
			}
		}
		logger.Warn().Err(err).Msg("join aborted, local audio unavailable")
		m.emit(JoinFailed{Room: id, Reason: err.Error(), Err: err})
		return err
	}

	audio.SetTrackEnabled(!m.muted)
	m.audio = audio
	if err := m.signal.Send(protocol.JoinRoom(id, m.self.ID)); err != nil {
		m.teardownLocked(false)
		err = fmt.Errorf("send join: %w", err)
		logger.Error().Err(err).Msg("join aborted")
		m.emit(JoinFailed{Room: id, Reason: err.Error(), Err: err})
		return err
	}
	m.state = StateActive
	logger.Info().Msg("joined")
	m.emit(Joined{Room: id})
	return nil
}

// LeaveRoom ends the active session. Calling it while idle does nothing.
func (m *Manager) LeaveRoom() {
	m.abortPendingJoin()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.unlock()
	if m.state != StateActive {
		return
	}
	room := m.room
	m.teardownLocked(true)
	log.Info().Str("module", "voice").Str("room", string(room)).Msg("left")
	m.emit(Left{Room: room})
}

// abortPendingJoin cancels a join still acquiring local audio. It runs
// before opMu is taken, since the pending join holds it.
func (m *Manager) abortPendingJoin() {
	m.mu.Lock()
	defer m.unlock()
	if m.state != StateJoining {
		return
	}
	m.generation++
	if m.sessCancel != nil {
		m.sessCancel()
	}
}

// Close leaves the active room, if any.
func (m *Manager) Close() { m.LeaveRoom() }

// teardownLocked closes every link, stops capture and returns to Idle. With
// notify set the relay is told we left.
func (m *Manager) teardownLocked(notify bool) {
	room := m.room
	m.state = StateLeaving
	if m.sessCancel != nil {
		m.sessCancel()
		m.sessCancel = nil
	}
	m.closeAllLinksLocked()
	if m.audio != nil {
		m.audio.Stop()
		m.audio = nil
	}
	if notify {
		if err := m.signal.Send(protocol.LeaveRoom(room, m.self.ID)); err != nil {
			log.Warn().Err(err).Str("module", "voice").Str("room", string(room)).Msg("leave notice not sent")
		}
	}
	clear(m.roster)
	m.room = ""
	m.generation++
	m.state = StateIdle
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	Self         domain.UserID   `json:"userId"`
	State        SessionState    `json:"state"`
	Room         domain.RoomID   `json:"roomId,omitempty"`
	Muted        bool            `json:"muted"`
	Deafened     bool            `json:"deafened"`
	Participants []domain.UserID `json:"participants"`
	Links        []LinkInfo      `json:"links"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Self:         m.self.ID,
		State:        m.state,
		Room:         m.room,
		Muted:        m.muted,
		Deafened:     m.deafened,
		Participants: m.participantsLocked(),
		Links:        m.linksLocked(),
	}
}

func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Links() []LinkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linksLocked()
}

func (m *Manager) Participants() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participantsLocked()
}

func (m *Manager) emit(e Event) {
	m.pending = append(m.pending, e)
}

// unlock releases mu and then delivers the events raised while it was held.
func (m *Manager) unlock() {
	events := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, e := range events {
		m.bus.Publish(e)
	}
}
