// Package media provides the local audio capture and remote audio sinks.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

// SourceSilence selects generated Opus silence instead of a file.
const SourceSilence = "silence"

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// frameSource yields encoded Opus payloads with their duration.
type frameSource interface {
	next() ([]byte, time.Duration, error)
	close() error
}

// Capture produces the local audio track from a looped Ogg/Opus file or
// from silence.
type Capture struct {
	source string
}

func NewCapture(source string) *Capture {
	if source == "" {
		source = SourceSilence
	}
	return &Capture{source: source}
}

func (c *Capture) AcquireLocalAudio(ctx context.Context) (core.LocalAudio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := c.open()
	if err != nil {
		return nil, &core.CapabilityError{Err: err}
	}
	track, err := webrtc.NewTrackLocalStaticSample(rtc.OpusCapability(), "audio", "voicemesh-"+uuid.NewString())
	if err != nil {
		_ = src.close()
		return nil, &core.CapabilityError{Err: err}
	}
	a := &LocalAudio{track: track, src: src, done: make(chan struct{})}
	a.enabled.Store(true)
	go a.pump()
	log.Info().Str("module", "media").Str("source", c.source).Msg("local audio acquired")
	return a, nil
}

func (c *Capture) open() (frameSource, error) {
	if c.source == SourceSilence {
		return silence{}, nil
	}
	return openOgg(c.source)
}

// LocalAudio is the live outgoing track. When disabled it keeps pacing but
// sends silence.
type LocalAudio struct {
	track   *webrtc.TrackLocalStaticSample
	src     frameSource
	enabled atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func (a *LocalAudio) Track() webrtc.TrackLocal { return a.track }

func (a *LocalAudio) SetTrackEnabled(v bool) { a.enabled.Store(v) }

func (a *LocalAudio) TrackEnabled() bool { return a.enabled.Load() }

func (a *LocalAudio) Stop() {
	a.once.Do(func() {
		close(a.done)
	})
}

func (a *LocalAudio) pump() {
	defer func() {
		if err := a.src.close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("close audio source")
		}
	}()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-timer.C:
		}
		data, dur, err := a.src.next()
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("audio source failed, sending silence")
			_ = a.src.close()
			a.src = silence{}
			data, dur = opusSilence, frameDuration
		}
		if !a.enabled.Load() {
			data = opusSilence
		}
		if err := a.track.WriteSample(media.Sample{Data: data, Duration: dur}); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("write sample")
		}
		timer.Reset(dur)
	}
}

type silence struct{}

func (silence) next() ([]byte, time.Duration, error) { return opusSilence, frameDuration, nil }
func (silence) close() error                         { return nil }

// oggFile loops over the pages of an Ogg/Opus file.
type oggFile struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture source: %w", err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", path, err)
	}
	return &oggFile{f: f, r: r}, nil
}

func (o *oggFile) next() ([]byte, time.Duration, error) {
	page, header, err := o.r.ParseNextPage()
	if errors.Is(err, io.EOF) {
		if err := o.rewind(); err != nil {
			return nil, 0, err
		}
		page, header, err = o.r.ParseNextPage()
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read ogg page: %w", err)
	}
	dur := frameDuration
	if header.GranulePosition > o.lastGranule {
		samples := header.GranulePosition - o.lastGranule
		dur = time.Duration(samples) * time.Second / 48000
	}
	o.lastGranule = header.GranulePosition
	return page, dur, nil
}

func (o *oggFile) rewind() error {
	if _, err := o.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(o.f)
	if err != nil {
		return err
	}
	o.r = r
	o.lastGranule = 0
	return nil
}

func (o *oggFile) close() error { return o.f.Close() }
