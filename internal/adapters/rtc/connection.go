package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errPeerFailed = errors.New("peer connection failed")

// Connection is a core.Transport over one pion PeerConnection. Descriptions
// and candidates travel as the JSON pion uses for them, which is also what browsers send.
type Connection struct {
	pc      *webrtc.PeerConnection
	remote  domain.SessionID
	media   core.MediaHandle
	events  core.TransportEvents
	onTrack TrackHandler

	closing  atomic.Bool
	terminal sync.Once
}

func (c *Connection) addMedia() error {
	if c.media == nil {
		return nil
	}
	if tp, ok := c.media.(TrackProvider); ok {
		for _, t := range tp.LocalTracks() {
			sender, err := c.pc.AddTrack(t)
			if err != nil {
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			go drainRTCP(sender)
		}
		return nil
	}
	// No pion tracks: still negotiate receive-only media so the remote can send.
	for _, kind := range c.media.Kinds() {
		codec := webrtc.RTPCodecTypeAudio
		if kind == domain.TrackVideo {
			codec = webrtc.RTPCodecTypeVideo
		}
		if _, err := c.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP reads RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) start() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Msg("marshal candidate")
			return
		}
		c.events.OnCandidate(b)
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.events.OnEstablished()
		case webrtc.PeerConnectionStateFailed:
			c.terminal.Do(func() { c.events.OnFailed(errPeerFailed) })
		case webrtc.PeerConnectionStateClosed:
			if !c.closing.Load() {
				c.terminal.Do(c.events.OnClosed)
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(c.remote, c.media, track)
		}
	})
}

func (c *Connection) Offer(context.Context) (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *Connection) Answer(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *Connection) ApplyAnswer(raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("%w: candidate: %v", domain.ErrMalformedMessage, err)
	}
	return c.pc.AddICECandidate(ci)
}

// Close does not report OnClosed: the owner already knows.
func (c *Connection) Close() error {
	c.closing.Store(true)
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	return nil
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("%w: description: %v", domain.ErrMalformedMessage, err)
	}
	if sd.Type != want || sd.SDP == "" {
		return sd, fmt.Errorf("%w: expected %s description", domain.ErrMalformedMessage, want)
	}
	return sd, nil
}
