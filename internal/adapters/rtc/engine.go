package rtc

import (
	"context"
	"fmt"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TrackProvider is implemented by media handles that carry pion tracks.
type TrackProvider interface {
	LocalTracks() []webrtc.TrackLocal
}

// TrackHandler is told about every remote track of a call, together with the
// local media of that call.
type TrackHandler func(remote domain.SessionID, media core.MediaHandle, track *webrtc.TrackRemote)

type EngineConfig struct {
	STUNServers []string
	// Net replaces the host network, e.g. with a pion vnet in tests.
	Net     transport.Net
	OnTrack TrackHandler
}

// Engine creates one pion PeerConnection per call.
type Engine struct {
	api     *webrtc.API
	config  webrtc.Configuration
	onTrack TrackHandler
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(),
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	var rtcCfg webrtc.Configuration
	if len(cfg.STUNServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	return &Engine{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config:  rtcCfg,
		onTrack: cfg.OnTrack,
	}, nil
}

func (e *Engine) NewTransport(_ context.Context, remote domain.SessionID, media core.MediaHandle, events core.TransportEvents) (core.Transport, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Connection{pc: pc, remote: remote, media: media, events: events, onTrack: e.onTrack}

	if err := c.addMedia(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.start()
	log.Debug().Str("module", "webrtc").Str("remote", string(remote)).Msg("peer connection created")
	return c, nil
}
