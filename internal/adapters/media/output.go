package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }
func (discard) Close() error               { return nil }

// Output plays remote audio into one Ogg file per participant under dir, or
// drops it when dir is empty.
type Output struct {
	dir string
}

func NewOutput(recordDir string) *Output {
	return &Output{dir: recordDir}
}

func (o *Output) Attach(peer domain.UserID, track *webrtc.TrackRemote) core.AudioSink {
	logger := log.With().Str("module", "media").Str("peer", string(peer)).Logger()
	w, err := o.writer(peer)
	if err != nil {
		logger.Warn().Err(err).Msg("recording disabled for peer")
		w = discard{}
	}
	s := newSink(w, logger)
	if track == nil {
		return s
	}
	go s.run(func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	return s
}

func (o *Output) writer(peer domain.UserID) (rtpWriter, error) {
	if o.dir == "" {
		return discard{}, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(o.dir, fileName(peer))
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return w, nil
}

func fileName(peer domain.UserID) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, string(peer))
	if safe == "" {
		safe = "peer"
	}
	return safe + ".ogg"
}

// Sink writes RTP from one remote track; muted packets are dropped.
type Sink struct {
	logger zerolog.Logger
	muted  atomic.Bool

	mu      sync.Mutex
	w       rtpWriter
	written int
}

func newSink(w rtpWriter, logger zerolog.Logger) *Sink {
	return &Sink{w: w, logger: logger}
}

func (s *Sink) SetMuted(v bool) { s.muted.Store(v) }

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	if err := s.w.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close sink")
	}
	s.w = nil
}

// run reads until the source fails or the sink is closed.
func (s *Sink) run(read func() (*rtp.Packet, error)) {
	defer s.Close()
	for {
		pkt, err := read()
		if err != nil {
			s.logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		if !s.write(pkt) {
			return
		}
	}
}

func (s *Sink) write(pkt *rtp.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return false
	}
	if s.muted.Load() {
		return true
	}
	if err := s.w.WriteRTP(pkt); err != nil {
		s.logger.Warn().Err(err).Msg("write rtp")
		return true
	}
	s.written++
	return true
}

func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
