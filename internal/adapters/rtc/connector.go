package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const opusPayloadType = 111

type Config struct {
	ICEServers []webrtc.ICEServer

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// ICEServers builds the server list from flat STUN and TURN url lists. TURN
// entries share one credential pair.
func ICEServers(stun, turn []string, username, credential string) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if len(stun) > 0 {
		out = append(out, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: credential,
		})
	}
	return out
}

// Connector opens one PeerConnection per remote participant, sharing a
// single API with Opus registered.
type Connector struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewConnector(cfg Config) (*Connector, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: OpusCapability(),
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		settingEngine.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	return &Connector{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		cfg: webrtc.Configuration{
			ICEServers:    cfg.ICEServers,
			BundlePolicy:  webrtc.BundlePolicyMaxBundle,
			RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		},
	}, nil
}

func (c *Connector) NewMediaConnection(peer domain.UserID) (core.MediaConnection, error) {
	return c.open(peer)
}

func (c *Connector) open(peer domain.UserID) (*Connection, error) {
	pc, err := c.api.NewPeerConnection(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("peer connection for %s: %w", peer, err)
	}
	return newConnection(pc, peer), nil
}

// OpusCapability is the single audio codec negotiated by every link.
func OpusCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}
