// Package media is the local capture side of the headless peer. It has no
// devices: tracks are fed by whatever writes RTP into them, such as the echo loopback.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Handle is the set of tracks acquired for one call.
type Handle struct {
	tracks map[domain.TrackKind]*LocalTrack
}

func (h *Handle) Kinds() []domain.TrackKind {
	out := make([]domain.TrackKind, 0, 2)
	for _, k := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if _, ok := h.tracks[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (h *Handle) Track(kind domain.TrackKind) (*LocalTrack, bool) {
	t, ok := h.tracks[kind]
	return t, ok
}

// LocalTracks lists the pion tracks to add to a peer connection.
func (h *Handle) LocalTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(h.tracks))
	for _, k := range h.Kinds() {
		out = append(out, h.tracks[k].Track)
	}
	return out
}

// Source hands out fresh tracks for every call.
type Source struct {
	streamID string
	allowed  map[domain.TrackKind]bool

	mu      sync.Mutex
	current *Handle
}

func NewSource(streamID string, audio, video bool) *Source {
	return &Source{
		streamID: streamID,
		allowed: map[domain.TrackKind]bool{
			domain.TrackAudio: audio,
			domain.TrackVideo: video,
		},
	}
}

func (s *Source) Acquire(context.Context) (core.MediaHandle, error) {
	h := &Handle{tracks: make(map[domain.TrackKind]*LocalTrack)}
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if !s.allowed[kind] {
			continue
		}
		t, err := NewLocalTrack(kind, s.streamID)
		if err != nil {
			return nil, fmt.Errorf("create %s track: %w", kind, err)
		}
		h.tracks[kind] = t
	}
	if len(h.tracks) == 0 {
		return nil, fmt.Errorf("%w: audio and video disabled", domain.ErrMediaAccessDenied)
	}

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
	log.Debug().Str("module", "media").Int("tracks", len(h.tracks)).Msg("media acquired")
	return h, nil
}

func (s *Source) SetTrackEnabled(kind domain.TrackKind, enabled bool) error {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h == nil {
		return domain.ErrNoLocalMedia
	}
	t, ok := h.Track(kind)
	if !ok {
		return fmt.Errorf("%w: no %s track", domain.ErrNoLocalMedia, kind)
	}
	if enabled {
		t.MarkOk()
	} else {
		t.MarkMuted()
	}
	return nil
}
