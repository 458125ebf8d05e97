package domain

import (
	"encoding/json"
	"fmt"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalHangup    SignalKind = "hangup"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalHangup:
		return true
	}
	return false
}

// Reason explains why a call ended or was refused.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonHangup          Reason = "hangup"
	ReasonDeclined        Reason = "declined"
	ReasonBusy            Reason = "busy"
	ReasonGlare           Reason = "glare"
	ReasonDuplicate       Reason = "duplicate"
	ReasonSuperseded      Reason = "superseded"
	ReasonTimeout         Reason = "connect_timeout"
	ReasonUnavailable     Reason = "recipient_unavailable"
	ReasonTransportFailed Reason = "transport_failed"
	ReasonTransportClosed Reason = "transport_closed"
	ReasonMediaDenied     Reason = "media_access_denied"
	ReasonNoMedia         Reason = "no_local_media"
	ReasonDisconnected    Reason = "disconnected"
	ReasonShutdown        Reason = "shutdown"
)

// SignalMessage is one session-setup message between two identities.
// Payload is relayed as is; nothing on the routing path looks inside it.
type SignalMessage struct {
	Kind     SignalKind      `json:"type"`
	From     SessionID       `json:"from"`
	To       SessionID       `json:"to"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Reason   Reason          `json:"reason,omitempty"`
	Override bool            `json:"override,omitempty"`
}

func (m SignalMessage) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	if m.From == "" || m.To == "" {
		return fmt.Errorf("%w: missing sender or recipient", ErrMalformedMessage)
	}
	if m.From == m.To {
		return fmt.Errorf("%w: sender equals recipient", ErrMalformedMessage)
	}
	switch m.Kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
		if len(m.Payload) == 0 {
			return fmt.Errorf("%w: %s without payload", ErrMalformedMessage, m.Kind)
		}
	}
	return nil
}

func NewHangup(from, to SessionID, reason Reason) SignalMessage {
	return SignalMessage{Kind: SignalHangup, From: from, To: to, Reason: reason}
}
