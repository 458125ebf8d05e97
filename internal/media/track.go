package media

import (
	"sync/atomic"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
)

// LocalTrack is one outgoing track. While muted, packets written to it are dropped.
type LocalTrack struct {
	Kind  domain.TrackKind
	Track *webrtc.TrackLocalStaticRTP

	state   atomic.Int32 // Zero by default (TrackStateOk)
	written atomic.Uint64
	dropped atomic.Uint64
}

func NewLocalTrack(kind domain.TrackKind, streamID string) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	t, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{Kind: kind, Track: t}, nil
}

func (lt *LocalTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

func (lt *LocalTrack) MarkOk() {
	lt.state.Store(int32(TrackStateOk))
}

func (lt *LocalTrack) MarkMuted() {
	lt.state.Store(int32(TrackStateMuted))
}

func (lt *LocalTrack) Write(pkt *rtp.Packet) error {
	if lt.GetState() == TrackStateMuted {
		lt.dropped.Add(1)
		return nil
	}
	if err := lt.Track.WriteRTP(pkt); err != nil {
		return err
	}
	lt.written.Add(1)
	return nil
}

// Stats returns the number of packets sent and dropped while muted.
func (lt *LocalTrack) Stats() (written, dropped uint64) {
	return lt.written.Load(), lt.dropped.Load()
}
