package domain

import "time"

type CallState string

const (
	StateIdle       CallState = "idle"
	StateDialing    CallState = "dialing"
	StateRinging    CallState = "ringing"
	StateConnecting CallState = "connecting"
	StateActive     CallState = "active"
	StateEnding     CallState = "ending"
)

// Terminal reports whether a session in this state no longer counts as a call.
func (s CallState) Terminal() bool {
	return s == StateIdle || s == StateEnding || s == ""
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaToggleState holds the mute/camera flags of one call.
type MediaToggleState struct {
	Muted     bool `json:"muted"`
	CameraOff bool `json:"camera_off"`
}

// CallSession is one logical call between two identities.
type CallSession struct {
	Local     SessionID        `json:"local"`
	Remote    SessionID        `json:"remote"`
	State     CallState        `json:"state"`
	Direction Direction        `json:"direction"`
	CreatedAt time.Time        `json:"created_at"`
	Toggles   MediaToggleState `json:"toggles"`
}

// Notification is emitted to the control surface on every state change.
type Notification struct {
	Local     SessionID `json:"local"`
	Remote    SessionID `json:"remote,omitempty"`
	State     CallState `json:"state"`
	Direction Direction `json:"direction,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type Action string

const (
	ActionAccept    Action = "accept"
	ActionReject    Action = "reject"
	ActionSupersede Action = "supersede"
)

// Decision is the arbitrator's verdict on an incoming offer.
type Decision struct {
	Action Action
	Reason Reason
}
