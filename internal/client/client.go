// Package client is the Go side of the signaling WebSocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait   = 5 * time.Second
	welcomeWait = 10 * time.Second
)

// frame is every server frame flattened into one shape.
type frame struct {
	Type      string           `json:"type"`
	ID        domain.SessionID `json:"id,omitempty"`
	From      domain.SessionID `json:"from,omitempty"`
	To        domain.SessionID `json:"to,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Reason    domain.Reason    `json:"reason,omitempty"`
	Override  bool             `json:"override,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
	Connected int              `json:"connected,omitempty"`
}

var codeErrors = map[string]error{
	"capacity_exceeded":     domain.ErrCapacityExceeded,
	"identity_exhausted":    domain.ErrIdentityExhausted,
	"recipient_unavailable": domain.ErrRecipientUnavailable,
	"malformed_message":     domain.ErrMalformedMessage,
	"backpressure":          domain.ErrBackpressure,
	"rate_limited":          domain.ErrRateLimited,
}

func errorFromFrame(f frame) error {
	if err, ok := codeErrors[f.Code]; ok {
		return fmt.Errorf("%w: %s", err, f.Error)
	}
	return fmt.Errorf("server error %s: %s", f.Code, f.Error)
}

// Client holds one signaling connection and the identity the server assigned to it.
type Client struct {
	ws *websocket.Conn
	id domain.SessionID

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial connects and waits for the welcome frame.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := ws.SetReadDeadline(time.Now().Add(welcomeWait)); err != nil {
		_ = ws.Close()
		return nil, err
	}
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch f.Type {
	case "welcome":
	case "error":
		_ = ws.Close()
		return nil, errorFromFrame(f)
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: expected welcome, got %q", domain.ErrMalformedMessage, f.Type)
	}
	log.Info().Str("module", "client").Str("sid", string(f.ID)).Msg("connected")
	return &Client{ws: ws, id: f.ID}, nil
}

func (c *Client) ID() domain.SessionID { return c.id }

// Send implements core.Sender. The server fills in the sender; delivery
// failures come back later as error frames.
func (c *Client) Send(msg domain.SignalMessage) error {
	msg.From = c.id
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.write(msg)
}

func (c *Client) WhoAmI() error {
	return c.write(map[string]string{"type": "whoami"})
}

func (c *Client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Run reads frames until the connection ends or ctx is canceled. Signaling
// messages go to h. A recipient_unavailable error is turned into a hangup from
// that recipient, so a call towards a vanished peer ends like any other.
func (c *Client) Run(ctx context.Context, h core.Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(f, h)
	}
}

func (c *Client) dispatch(f frame, h core.Handler) {
	l := log.With().Str("module", "client").Str("sid", string(c.id)).Str("type", f.Type).Logger()
	switch domain.SignalKind(f.Type) {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate, domain.SignalHangup:
		msg := domain.SignalMessage{
			Kind:     domain.SignalKind(f.Type),
			From:     f.From,
			To:       f.To,
			Payload:  f.Payload,
			Reason:   f.Reason,
			Override: f.Override,
		}
		if err := h(msg); err != nil {
			l.Warn().Err(err).Str("from", string(f.From)).Msg("message not handled")
		}
		return
	}

	switch f.Type {
	case "error":
		err := errorFromFrame(f)
		if errors.Is(err, domain.ErrRecipientUnavailable) && f.To != "" {
			l.Info().Str("to", string(f.To)).Msg("recipient unavailable")
			if err := h(domain.NewHangup(f.To, c.id, domain.ReasonUnavailable)); err != nil {
				l.Warn().Err(err).Msg("unavailable hangup not handled")
			}
			return
		}
		l.Warn().Err(err).Str("to", string(f.To)).Msg("server error")
	case "whoami":
		l.Info().Int("connected", f.Connected).Msg("whoami")
	case "pong":
		l.Debug().Msg("pong")
	default:
		l.Warn().Msg("unknown frame")
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}
