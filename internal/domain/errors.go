package domain

import "errors"

var (
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrIdentityExhausted    = errors.New("identity generation exhausted")
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	ErrNoLocalMedia         = errors.New("no local media")
	ErrMediaAccessDenied    = errors.New("media access denied")
	ErrConnectTimeout       = errors.New("connect timeout")
	ErrBusy                 = errors.New("busy")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrBackpressure         = errors.New("backpressure")
	ErrRateLimited          = errors.New("rate limited")

	ErrInvalidTarget   = errors.New("invalid target")
	ErrNoIncomingCall  = errors.New("no incoming call")
	ErrNoActiveCall    = errors.New("no active call")
	ErrEndpointClosed  = errors.New("endpoint closed")
	ErrTransportFailed = errors.New("transport failed")
)

// ErrorCode maps an error to the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrIdentityExhausted):
		return "identity_exhausted"
	case errors.Is(err, ErrRecipientUnavailable):
		return "recipient_unavailable"
	case errors.Is(err, ErrNoLocalMedia):
		return "no_local_media"
	case errors.Is(err, ErrMediaAccessDenied):
		return "media_access_denied"
	case errors.Is(err, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrNoIncomingCall):
		return "no_incoming_call"
	case errors.Is(err, ErrNoActiveCall):
		return "no_active_call"
	case errors.Is(err, ErrEndpointClosed):
		return "endpoint_closed"
	case errors.Is(err, ErrTransportFailed):
		return "transport_failed"
	default:
		return "internal"
	}
}
