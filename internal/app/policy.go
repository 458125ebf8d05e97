package app

import "github.com/anurag-chakravarti/peerjs-video-call/internal/domain"

// Arbitrator decides what happens to an incoming offer given the identity's
// current call. It only establishes eligibility; consent to answer is still
// the user's.
type Arbitrator interface {
	Evaluate(offer domain.SignalMessage, current *domain.CallSession) domain.Decision
}

// SimplePolicy accepts when idle, resolves glare by id order and refuses
// everything else as busy.
type SimplePolicy struct {
	// AllowOverride lets an offer flagged with Override preempt the current call.
	AllowOverride bool
}

func (p SimplePolicy) Evaluate(offer domain.SignalMessage, current *domain.CallSession) domain.Decision {
	if current == nil || current.State.Terminal() {
		return domain.Decision{Action: domain.ActionAccept}
	}

	// Both sides dialed each other. The lower id answers; the higher id keeps
	// its outgoing call, which may already be past dialing when the offer lands.
	if current.Direction == domain.DirectionOutgoing && current.Remote == offer.From {
		if current.State == domain.StateDialing && current.Local < offer.From {
			return domain.Decision{Action: domain.ActionSupersede, Reason: domain.ReasonGlare}
		}
		return domain.Decision{Action: domain.ActionReject, Reason: domain.ReasonGlare}
	}

	// The caller we are already handling offered again.
	if current.Direction == domain.DirectionIncoming && current.Remote == offer.From {
		return domain.Decision{Action: domain.ActionReject, Reason: domain.ReasonDuplicate}
	}

	if offer.Override && p.AllowOverride {
		return domain.Decision{Action: domain.ActionSupersede, Reason: domain.ReasonSuperseded}
	}
	return domain.Decision{Action: domain.ActionReject, Reason: domain.ReasonBusy}
}
