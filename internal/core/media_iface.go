package core

import (
	"context"
	"encoding/json"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
)

// MediaHandle is local media acquired for one call.
type MediaHandle interface {
	Kinds() []domain.TrackKind
}

// MediaSource is the capture side. The core never manages devices itself,
// it only gates calls on Acquire and flips tracks on and off.
type MediaSource interface {
	// Acquire fails with domain.ErrMediaAccessDenied when capture is not permitted.
	Acquire(ctx context.Context) (MediaHandle, error)
	SetTrackEnabled(kind domain.TrackKind, enabled bool) error
}

// TransportEvents is how a transport reports back. Implementations may call
// these from any goroutine.
type TransportEvents interface {
	OnCandidate(candidate json.RawMessage)
	OnEstablished()
	OnFailed(err error)
	OnClosed()
}

// Transport is the media connection engine for one call. Payloads are opaque
// to everything but the transport itself.
type Transport interface {
	// Offer creates the local description for an outgoing call.
	Offer(ctx context.Context) (json.RawMessage, error)
	// Answer applies a remote offer and returns the local answer.
	Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	// Close tears down the connection, including a handshake in progress.
	Close() error
}

type TransportFactory interface {
	NewTransport(ctx context.Context, remote domain.SessionID, media MediaHandle, events TransportEvents) (Transport, error)
}
