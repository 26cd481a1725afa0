package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// TransportState is the connectivity of one media connection.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the connection can no longer carry media.
func (s TransportState) Terminal() bool {
	return s == TransportDisconnected || s == TransportFailed || s == TransportClosed
}

// MediaCapture acquires the local audio stream.
type MediaCapture interface {
	// AcquireLocalAudio may block on the device; failures are *CapabilityError.
	AcquireLocalAudio(ctx context.Context) (LocalAudio, error)
}

// LocalAudio is the live outgoing stream shared by every link of a session.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	SetTrackEnabled(bool)
	TrackEnabled() bool
	// Stop releases the device. Only the session owner calls it.
	Stop()
}

type PeerConnector interface {
	NewMediaConnection(peer domain.UserID) (MediaConnection, error)
}

// MediaConnection is one peer-to-peer media session.
// Callbacks are delivered asynchronously, in order, never on the caller's stack.
type MediaConnection interface {
	AddLocalAudio(LocalAudio) error
	// CreateOffer generates and applies a local offer.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the applied local answer.
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote candidate, buffering it until the
	// remote description is known.
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(TransportState))
	OnTrack(func(*webrtc.TrackRemote))
	Close()
}

// AudioOutput plays remote audio.
type AudioOutput interface {
	Attach(peer domain.UserID, track *webrtc.TrackRemote) AudioSink
}

type AudioSink interface {
	SetMuted(bool)
	Close()
}
