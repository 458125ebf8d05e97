package orch

import (
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// Route sends msg on behalf of from. The sender field is always overwritten so
// a client cannot speak for another identity.
func (o *Orchestrator) Route(from domain.SessionID, msg domain.SignalMessage) error {
	msg.From = from
	if err := o.Channel.Send(msg); err != nil {
		return err
	}
	o.track(msg)
	return nil
}

// track follows only the envelope: who is negotiating with whom.
func (o *Orchestrator) track(msg domain.SignalMessage) {
	switch msg.Kind {
	case domain.SignalOffer, domain.SignalAnswer:
		o.link(msg.From, msg.To)
	case domain.SignalHangup:
		o.unlink(msg.From, msg.To)
	}
}

func (o *Orchestrator) link(a, b domain.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range [][2]domain.SessionID{{a, b}, {b, a}} {
		set, ok := o.links[p[0]]
		if !ok {
			set = make(map[domain.SessionID]struct{})
			o.links[p[0]] = set
		}
		set[p[1]] = struct{}{}
	}
}

func (o *Orchestrator) unlink(a, b domain.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unlinkLocked(a, b)
	o.unlinkLocked(b, a)
}

func (o *Orchestrator) unlinkLocked(a, b domain.SessionID) {
	set, ok := o.links[a]
	if !ok {
		return
	}
	delete(set, b)
	if len(set) == 0 {
		delete(o.links, a)
	}
}

// Counterparts lists the identities sid is currently negotiating or talking with.
func (o *Orchestrator) Counterparts(sid domain.SessionID) []domain.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.SessionID, 0, len(o.links[sid]))
	for p := range o.links[sid] {
		out = append(out, p)
	}
	return out
}

// hangupCounterparts runs on deregister and ends every call sid was part of.
func (o *Orchestrator) hangupCounterparts(sid domain.SessionID) {
	o.mu.Lock()
	peers := o.links[sid]
	delete(o.links, sid)
	for p := range peers {
		o.unlinkLocked(p, sid)
	}
	o.mu.Unlock()

	for p := range peers {
		err := o.Channel.Send(domain.NewHangup(sid, p, domain.ReasonDisconnected))
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("remote", string(p)).
			Err(err).
			Msg("hangup on disconnect")
	}
}
