package media

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RTPReader is the read side of a remote track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type loop struct {
	src    RTPReader
	dst    *LocalTrack
	cancel context.CancelFunc
}

// run copies packets from the remote track into the local one until the
// source ends or ctx is canceled.
func (l *loop) run(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("loopback ctx done")
			return
		default:
		}
		pkt, _, err := l.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("loopback read RTP error, stopping")
			}
			return
		}
		if err := l.dst.Write(pkt); err != nil {
			logger.Warn().Err(err).Msg("loopback write RTP error, stopping")
			return
		}
	}
}

// Echo sends every received track back to the caller on the matching local track.
type Echo struct {
	mu    sync.Mutex
	loops map[echoKey]*loop
}

type echoKey struct {
	remote domain.SessionID
	kind   domain.TrackKind
}

func NewEcho() *Echo {
	return &Echo{loops: make(map[echoKey]*loop)}
}

// Start begins echoing src into dst, replacing an older loop for the same remote and kind.
func (e *Echo) Start(ctx context.Context, remote domain.SessionID, src RTPReader, dst *LocalTrack) {
	logger := log.With().
		Str("module", "media.echo").
		Str("remote", string(remote)).
		Str("kind", string(dst.Kind)).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	l := &loop{src: src, dst: dst, cancel: cancel}
	key := echoKey{remote: remote, kind: dst.Kind}

	e.mu.Lock()
	if old, ok := e.loops[key]; ok {
		logger.Info().Msg("replacing existing loopback")
		old.cancel()
	}
	e.loops[key] = l
	e.mu.Unlock()

	logger.Info().Msg("starting loopback")
	go func() {
		l.run(ctx, &logger)
		e.mu.Lock()
		if e.loops[key] == l {
			delete(e.loops, key)
		}
		e.mu.Unlock()
	}()
}

// Stop cancels every loop echoing to remote.
func (e *Echo) Stop(remote domain.SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, l := range e.loops {
		if key.remote == remote {
			l.cancel()
			delete(e.loops, key)
		}
	}
}

func (e *Echo) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}
