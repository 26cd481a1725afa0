package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const callbackQueueSize = 64

// Connection wraps one PeerConnection. pion callbacks are funneled through
// an ordered queue and delivered from a dedicated goroutine.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.UserID
	logger zerolog.Logger

	// mu guards the remote description flag and candidates waiting for it.
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	hmu     sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(core.TransportState)
	onTrack func(*webrtc.TrackRemote)

	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func newConnection(pc *webrtc.PeerConnection, peer domain.UserID) *Connection {
	c := &Connection{
		pc:     pc,
		peer:   peer,
		logger: log.With().Str("module", "rtc").Str("peer", string(peer)).Logger(),
		queue:  make(chan func(), callbackQueueSize),
		done:   make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		ts, ok := transportState(s)
		if !ok {
			return
		}
		c.enqueue(func() {
			if fn := c.stateHandler(); fn != nil {
				fn(ts)
			}
		})
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		c.enqueue(func() {
			if fn := c.iceHandler(); fn != nil {
				fn(ci)
			}
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.enqueue(func() {
			if fn := c.trackHandler(); fn != nil {
				fn(track)
			}
		})
	})

	go c.deliver()
	return c
}

func transportState(s webrtc.PeerConnectionState) (core.TransportState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed, true
	}
	return 0, false
}

func (c *Connection) enqueue(fn func()) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case <-c.done:
	case c.queue <- fn:
	}
}

func (c *Connection) deliver() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.queue:
			select {
			case <-c.done:
				return
			default:
			}
			fn()
		}
	}
}

// AddLocalAudio attaches the shared outgoing track. RTCP from the sender is
// drained so interceptors keep working.
func (c *Connection) AddLocalAudio(a core.LocalAudio) error {
	sender, err := c.pc.AddTrack(a.Track())
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *Connection) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.setRemote(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddICECandidate holds candidates until a remote description exists.
func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		return nil
	}
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) setRemote(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	c.remoteSet = true
	for _, ci := range c.pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Debug().Err(err).Msg("buffered candidate rejected")
		}
	}
	c.pending = nil
	return nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnStateChange(fn func(core.TransportState)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onState = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onTrack = fn
}

func (c *Connection) iceHandler() func(webrtc.ICECandidateInit) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.onICE
}

func (c *Connection) stateHandler() func(core.TransportState) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.onState
}

func (c *Connection) trackHandler() func(*webrtc.TrackRemote) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.onTrack
}

// Close stops callback delivery and closes the PeerConnection. Callbacks
// still queued are dropped.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		if err := c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
			return
		}
		c.logger.Info().Msg("closed")
	})
}
