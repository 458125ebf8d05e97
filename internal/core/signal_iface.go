package core

import "github.com/anurag-chakravarti/peerjs-video-call/internal/domain"

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Sender delivers a signaling message towards its recipient.
type Sender interface {
	Send(msg domain.SignalMessage) error
}

// Handler consumes messages addressed to one identity.
// It runs on the sender's goroutine and must not block.
type Handler func(msg domain.SignalMessage) error
