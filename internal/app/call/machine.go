package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
)

// Everything in this file runs on the loop goroutine.

func (e *Endpoint) initiate(ctx context.Context, remote domain.SessionID) error {
	if remote == "" || remote == e.local {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTarget, remote)
	}
	if e.sess != nil {
		return fmt.Errorf("%w: already %s with %s", domain.ErrBusy, e.sess.State, e.sess.Remote)
	}
	handle, err := e.acquireMedia(ctx)
	if err != nil {
		return err
	}

	e.gen++
	gen := e.gen
	tr, err := e.transports.NewTransport(ctx, remote, handle, &transportEvents{e: e, gen: gen})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportFailed, err)
	}
	offer, err := tr.Offer(ctx)
	if err != nil {
		closeTransport(e, tr)
		return fmt.Errorf("%w: create offer: %v", domain.ErrTransportFailed, err)
	}

	e.sess = &session{
		CallSession: domain.CallSession{
			Local:     e.local,
			Remote:    remote,
			Direction: domain.DirectionOutgoing,
			CreatedAt: time.Now().UTC(),
		},
		gen:       gen,
		transport: tr,
	}
	e.setState(domain.StateDialing, domain.ReasonNone)
	e.armTimer(e.sess)

	if err := e.sender.Send(domain.SignalMessage{
		Kind:    domain.SignalOffer,
		From:    e.local,
		To:      remote,
		Payload: offer,
	}); err != nil {
		e.finish(reasonFor(err))
		return err
	}
	return nil
}

// answer moves the ringing session to connecting. Any failure ends the call.
func (e *Endpoint) answer(ctx context.Context) error {
	s := e.sess
	handle, err := e.acquireMedia(ctx)
	if err != nil {
		e.hangup(reasonFor(err), true)
		return err
	}
	tr, err := e.transports.NewTransport(ctx, s.Remote, handle, &transportEvents{e: e, gen: s.gen})
	if err != nil {
		e.hangup(domain.ReasonTransportFailed, true)
		return fmt.Errorf("%w: %v", domain.ErrTransportFailed, err)
	}
	s.transport = tr
	answer, err := tr.Answer(ctx, s.offer)
	if err != nil {
		e.hangup(domain.ReasonTransportFailed, true)
		return fmt.Errorf("%w: apply offer: %v", domain.ErrTransportFailed, err)
	}
	s.offer = nil
	s.remoteSet = true

	if err := e.sender.Send(domain.SignalMessage{
		Kind:    domain.SignalAnswer,
		From:    e.local,
		To:      s.Remote,
		Payload: answer,
	}); err != nil {
		e.finish(reasonFor(err))
		return err
	}
	e.setState(domain.StateConnecting, domain.ReasonNone)
	e.armTimer(s)
	e.flushCandidates(s)
	return nil
}

func (e *Endpoint) acquireMedia(ctx context.Context) (core.MediaHandle, error) {
	if e.media == nil {
		return nil, domain.ErrNoLocalMedia
	}
	h, err := e.media.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoLocalMedia) || errors.Is(err, domain.ErrMediaAccessDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}
	return h, nil
}

func (e *Endpoint) handleSignal(msg domain.SignalMessage) {
	l := e.log.With().Str("kind", string(msg.Kind)).Str("from", string(msg.From)).Logger()
	if err := msg.Validate(); err != nil {
		l.Warn().Err(err).Msg("dropping malformed message")
		return
	}
	if msg.To != e.local {
		l.Warn().Str("to", string(msg.To)).Msg("dropping misrouted message")
		return
	}

	switch msg.Kind {
	case domain.SignalOffer:
		e.onOffer(msg)
	case domain.SignalAnswer:
		e.onAnswer(msg)
	case domain.SignalCandidate:
		e.onCandidate(msg)
	case domain.SignalHangup:
		e.onHangup(msg)
	}
}

func (e *Endpoint) onOffer(msg domain.SignalMessage) {
	var current *domain.CallSession
	if e.sess != nil {
		c := e.sess.CallSession
		current = &c
	}
	d := e.arbitrator.Evaluate(msg, current)
	e.log.Info().
		Str("from", string(msg.From)).
		Str("action", string(d.Action)).
		Str("reason", string(d.Reason)).
		Msg("incoming offer")

	switch d.Action {
	case domain.ActionReject:
		// In glare the other side answers our offer, so its offer just goes away.
		if d.Reason == domain.ReasonGlare {
			return
		}
		if d.Reason == domain.ReasonDuplicate {
			// A re-sent offer replaces the one not yet answered; past ringing it is stale.
			if e.sess.State == domain.StateRinging {
				e.sess.offer = msg.Payload
			}
			return
		}
		e.send(domain.NewHangup(e.local, msg.From, d.Reason))
	case domain.ActionSupersede:
		if d.Reason == domain.ReasonGlare {
			// Drop our own dial without telling the remote: its offer replaces it,
			// and dialing it was consent enough to answer.
			e.finish(domain.ReasonGlare)
			e.ring(msg)
			if err := e.answer(e.ctx); err != nil {
				e.log.Warn().Err(err).Msg("glare auto-answer failed")
			}
			return
		}
		e.hangup(domain.ReasonSuperseded, true)
		e.ring(msg)
	case domain.ActionAccept:
		e.ring(msg)
	}
}

func (e *Endpoint) ring(msg domain.SignalMessage) {
	e.gen++
	e.sess = &session{
		CallSession: domain.CallSession{
			Local:     e.local,
			Remote:    msg.From,
			Direction: domain.DirectionIncoming,
			CreatedAt: time.Now().UTC(),
		},
		gen:   e.gen,
		offer: msg.Payload,
	}
	e.setState(domain.StateRinging, domain.ReasonNone)
	e.armTimer(e.sess)
}

func (e *Endpoint) onAnswer(msg domain.SignalMessage) {
	s := e.sess
	if s == nil || s.Remote != msg.From || s.State != domain.StateDialing {
		e.log.Debug().Str("from", string(msg.From)).Msg("stale answer ignored")
		return
	}
	if err := s.transport.ApplyAnswer(msg.Payload); err != nil {
		e.log.Warn().Err(err).Str("from", string(msg.From)).Msg("dropping unusable answer")
		return
	}
	s.remoteSet = true
	e.setState(domain.StateConnecting, domain.ReasonNone)
	e.flushCandidates(s)
}

func (e *Endpoint) onCandidate(msg domain.SignalMessage) {
	s := e.sess
	if s == nil || s.Remote != msg.From {
		e.log.Debug().Str("from", string(msg.From)).Msg("stale candidate ignored")
		return
	}
	if !s.remoteSet || s.transport == nil {
		if len(s.pending) >= maxPendingCandidates {
			e.log.Warn().Str("from", string(msg.From)).Msg("candidate buffer full, dropping")
			return
		}
		s.pending = append(s.pending, msg.Payload)
		return
	}
	if err := s.transport.AddCandidate(msg.Payload); err != nil {
		e.log.Warn().Err(err).Str("from", string(msg.From)).Msg("dropping unusable candidate")
	}
}

func (e *Endpoint) onHangup(msg domain.SignalMessage) {
	s := e.sess
	if s == nil || s.Remote != msg.From {
		e.log.Debug().Str("from", string(msg.From)).Msg("hangup for no call ignored")
		return
	}
	reason := msg.Reason
	if reason == domain.ReasonNone {
		reason = domain.ReasonHangup
	}
	e.finish(reason)
}

func (e *Endpoint) flushCandidates(s *session) {
	for _, c := range s.pending {
		if err := s.transport.AddCandidate(c); err != nil {
			e.log.Warn().Err(err).Msg("dropping unusable buffered candidate")
		}
	}
	s.pending = nil
}

func (e *Endpoint) onLocalCandidate(gen uint64, candidate json.RawMessage) {
	s := e.current(gen)
	if s == nil {
		return
	}
	err := e.sender.Send(domain.SignalMessage{
		Kind:    domain.SignalCandidate,
		From:    e.local,
		To:      s.Remote,
		Payload: candidate,
	})
	if errors.Is(err, domain.ErrRecipientUnavailable) {
		e.finish(domain.ReasonUnavailable)
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("candidate not delivered")
	}
}

func (e *Endpoint) onEstablished(gen uint64) {
	s := e.current(gen)
	if s == nil || s.State != domain.StateConnecting {
		return
	}
	s.stopTimer()
	e.setState(domain.StateActive, domain.ReasonNone)
}

func (e *Endpoint) onTransportFailed(gen uint64, err error) {
	if e.current(gen) == nil {
		return
	}
	e.log.Warn().Err(err).Msg("transport failed")
	e.hangup(domain.ReasonTransportFailed, true)
}

func (e *Endpoint) onTransportClosed(gen uint64) {
	if e.current(gen) == nil {
		return
	}
	e.hangup(domain.ReasonTransportClosed, true)
}

func (e *Endpoint) onTimeout(gen uint64) {
	s := e.current(gen)
	if s == nil || s.State == domain.StateActive {
		return
	}
	e.log.Warn().Err(domain.ErrConnectTimeout).Str("state", string(s.State)).Msg("call did not connect in time")
	e.hangup(domain.ReasonTimeout, true)
}

// current returns the live session if gen still refers to it.
func (e *Endpoint) current(gen uint64) *session {
	if e.sess == nil || e.sess.gen != gen {
		return nil
	}
	return e.sess
}

// hangup ends the current call, telling the remote first when notify is set.
// Calling it without a call is a no-op.
func (e *Endpoint) hangup(reason domain.Reason, notify bool) {
	s := e.sess
	if s == nil {
		return
	}
	if notify {
		e.send(domain.NewHangup(e.local, s.Remote, reason))
	}
	e.finish(reason)
}

// finish walks the current session through ending to idle and releases everything it holds.
func (e *Endpoint) finish(reason domain.Reason) {
	s := e.sess
	if s == nil {
		return
	}
	e.setState(domain.StateEnding, reason)
	s.stopTimer()
	if s.transport != nil {
		closeTransport(e, s.transport)
	}
	if e.media != nil {
		if s.Toggles.Muted {
			_ = e.media.SetTrackEnabled(domain.TrackAudio, true)
		}
		if s.Toggles.CameraOff {
			_ = e.media.SetTrackEnabled(domain.TrackVideo, true)
		}
	}
	e.sess = nil
	e.emit(domain.Notification{
		Local:     e.local,
		Remote:    s.Remote,
		State:     domain.StateIdle,
		Direction: s.Direction,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

func (e *Endpoint) setState(state domain.CallState, reason domain.Reason) {
	s := e.sess
	s.State = state
	e.emit(domain.Notification{
		Local:     e.local,
		Remote:    s.Remote,
		State:     state,
		Direction: s.Direction,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

func (e *Endpoint) emit(n domain.Notification) {
	e.log.Info().
		Str("remote", string(n.Remote)).
		Str("state", string(n.State)).
		Str("reason", string(n.Reason)).
		Msg("call state")
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
}

// send is for messages whose delivery failure changes nothing locally.
func (e *Endpoint) send(msg domain.SignalMessage) {
	if err := e.sender.Send(msg); err != nil {
		e.log.Debug().Err(err).Str("kind", string(msg.Kind)).Str("to", string(msg.To)).Msg("signal not delivered")
	}
}

func (e *Endpoint) armTimer(s *session) {
	s.stopTimer()
	gen := s.gen
	s.timer = time.AfterFunc(e.connectTimeout, func() {
		e.post(func() { e.onTimeout(gen) })
	})
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// closeTransport does not wait: a transport may be blocked delivering an event to this loop.
func closeTransport(e *Endpoint, tr core.Transport) {
	go func() {
		if err := tr.Close(); err != nil {
			e.log.Debug().Err(err).Msg("transport close")
		}
	}()
}

func reasonFor(err error) domain.Reason {
	switch {
	case errors.Is(err, domain.ErrRecipientUnavailable):
		return domain.ReasonUnavailable
	case errors.Is(err, domain.ErrNoLocalMedia):
		return domain.ReasonNoMedia
	case errors.Is(err, domain.ErrMediaAccessDenied):
		return domain.ReasonMediaDenied
	case errors.Is(err, domain.ErrConnectTimeout):
		return domain.ReasonTimeout
	default:
		return domain.ReasonTransportFailed
	}
}

// transportEvents tags events with the session generation they belong to,
// so events from a torn-down transport are ignored.
type transportEvents struct {
	e   *Endpoint
	gen uint64
}

func (t *transportEvents) OnCandidate(candidate json.RawMessage) {
	t.e.post(func() { t.e.onLocalCandidate(t.gen, candidate) })
}

func (t *transportEvents) OnEstablished() {
	t.e.post(func() { t.e.onEstablished(t.gen) })
}

func (t *transportEvents) OnFailed(err error) {
	t.e.post(func() { t.e.onTransportFailed(t.gen, err) })
}

func (t *transportEvents) OnClosed() {
	t.e.post(func() { t.e.onTransportClosed(t.gen) })
}
