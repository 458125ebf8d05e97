// Package call runs the call state machine of one identity.
//
// An Endpoint is an actor: user commands, inbound signaling messages, transport
// events and timer firings are queued to a single goroutine and each is handled
// to completion before the next one starts. No state is shared with other
// endpoints, so nothing here locks.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultInboxSize      = 64

	maxPendingCandidates = 64
)

type Config struct {
	Local      domain.SessionID
	Sender     core.Sender
	Transports core.TransportFactory
	// Media may be nil until BindMedia is called.
	Media      core.MediaSource
	Arbitrator app.Arbitrator
	Notifier   core.Notifier
	// ConnectTimeout bounds the wait from initiate/accept until media is established.
	ConnectTimeout time.Duration
	InboxSize      int
}

type Endpoint struct {
	local          domain.SessionID
	sender         core.Sender
	transports     core.TransportFactory
	arbitrator     app.Arbitrator
	notifier       core.Notifier
	connectTimeout time.Duration
	log            zerolog.Logger

	ctx       context.Context
	inbox     chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	media core.MediaSource
	sess  *session
	gen   uint64
}

// session is the live call plus the plumbing the state machine needs for it.
type session struct {
	domain.CallSession
	gen       uint64
	transport core.Transport
	offer     json.RawMessage
	remoteSet bool
	pending   []json.RawMessage
	timer     *time.Timer
}

func NewEndpoint(ctx context.Context, cfg Config) (*Endpoint, error) {
	if cfg.Local == "" {
		return nil, errors.New("endpoint: local id is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("endpoint: sender is required")
	}
	if cfg.Transports == nil {
		return nil, errors.New("endpoint: transport factory is required")
	}
	if cfg.Arbitrator == nil {
		cfg.Arbitrator = app.SimplePolicy{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}

	e := &Endpoint{
		local:          cfg.Local,
		sender:         cfg.Sender,
		transports:     cfg.Transports,
		arbitrator:     cfg.Arbitrator,
		notifier:       cfg.Notifier,
		connectTimeout: cfg.ConnectTimeout,
		log:            log.With().Str("module", "call").Str("sid", string(cfg.Local)).Logger(),
		ctx:            ctx,
		inbox:          make(chan func(), cfg.InboxSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		media:          cfg.Media,
	}
	go e.loop(ctx)
	return e, nil
}

func (e *Endpoint) Local() domain.SessionID { return e.local }

func (e *Endpoint) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.hangup(domain.ReasonShutdown, true)
			return
		case <-e.stop:
			e.hangup(domain.ReasonShutdown, true)
			return
		case task := <-e.inbox:
			task()
		}
	}
}

// Close hangs up any call in progress and stops the endpoint.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() { close(e.stop) })
	<-e.done
}

// do runs fn on the loop goroutine and waits for its result.
func (e *Endpoint) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	task := func() { reply <- fn() }
	select {
	case e.inbox <- task:
	case <-e.done:
		return domain.ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return domain.ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues task without waiting for it to run.
func (e *Endpoint) post(task func()) {
	select {
	case e.inbox <- task:
	case <-e.done:
	}
}

// Deliver is the channel handler for messages addressed to this endpoint.
// It never blocks: a full inbox is reported as backpressure to the sender.
func (e *Endpoint) Deliver(msg domain.SignalMessage) error {
	select {
	case <-e.done:
		return domain.ErrRecipientUnavailable
	default:
	}
	select {
	case e.inbox <- func() { e.handleSignal(msg) }:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Initiate dials remote. It fails with ErrNoLocalMedia when no media source is
// bound and with ErrBusy when a call is already in progress.
func (e *Endpoint) Initiate(ctx context.Context, remote domain.SessionID) error {
	return e.do(ctx, func() error { return e.initiate(ctx, remote) })
}

// Respond accepts or declines the ringing call.
func (e *Endpoint) Respond(ctx context.Context, accept bool) error {
	return e.do(ctx, func() error {
		if e.sess == nil || e.sess.State != domain.StateRinging {
			return domain.ErrNoIncomingCall
		}
		if !accept {
			e.hangup(domain.ReasonDeclined, true)
			return nil
		}
		return e.answer(ctx)
	})
}

// Hangup ends the current call. Without a call it does nothing.
func (e *Endpoint) Hangup(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.hangup(domain.ReasonHangup, true)
		return nil
	})
}

// ToggleMute flips the audio track of the current call and reports whether it is now muted.
func (e *Endpoint) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := e.do(ctx, func() error {
		next, err := e.toggle(domain.TrackAudio)
		muted = next
		return err
	})
	return muted, err
}

// ToggleCamera flips the video track of the current call and reports whether it is now off.
func (e *Endpoint) ToggleCamera(ctx context.Context) (bool, error) {
	var off bool
	err := e.do(ctx, func() error {
		next, err := e.toggle(domain.TrackVideo)
		off = next
		return err
	})
	return off, err
}

// BindMedia sets the media source used by later calls. nil unbinds it.
func (e *Endpoint) BindMedia(ctx context.Context, src core.MediaSource) error {
	return e.do(ctx, func() error {
		e.media = src
		return nil
	})
}

// Session returns a copy of the current call, or an idle session when there is none.
func (e *Endpoint) Session(ctx context.Context) (domain.CallSession, error) {
	var out domain.CallSession
	err := e.do(ctx, func() error {
		if e.sess == nil {
			out = domain.CallSession{Local: e.local, State: domain.StateIdle}
			return nil
		}
		out = e.sess.CallSession
		return nil
	})
	return out, err
}

func (e *Endpoint) toggle(kind domain.TrackKind) (bool, error) {
	if e.sess == nil {
		return false, domain.ErrNoActiveCall
	}
	if e.media == nil {
		return false, domain.ErrNoLocalMedia
	}
	t := &e.sess.Toggles
	flag := &t.Muted
	if kind == domain.TrackVideo {
		flag = &t.CameraOff
	}
	next := !*flag
	if err := e.media.SetTrackEnabled(kind, !next); err != nil {
		return *flag, fmt.Errorf("set %s track: %w", kind, err)
	}
	*flag = next
	e.log.Info().Str("kind", string(kind)).Bool("off", next).Msg("track toggled")
	return next, nil
}
