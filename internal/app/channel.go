package app

import (
	"fmt"
	"sync"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// Channel routes signaling messages to the handler subscribed for the recipient.
// It never looks at payloads and never queues for absent recipients.
type Channel struct {
	mu     sync.RWMutex
	routes map[domain.SessionID]core.Handler
}

func NewChannel() *Channel {
	return &Channel{routes: make(map[domain.SessionID]core.Handler)}
}

// Subscribe registers h for messages addressed to sid, replacing any previous handler.
func (c *Channel) Subscribe(sid domain.SessionID, h core.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[sid] = h
	log.Debug().Str("module", "app.channel").Str("sid", string(sid)).Msg("subscribed")
}

func (c *Channel) Unsubscribe(sid domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routes[sid]; ok {
		delete(c.routes, sid)
		log.Debug().Str("module", "app.channel").Str("sid", string(sid)).Msg("route dropped")
	}
}

func (c *Channel) Subscribed(sid domain.SessionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[sid]
	return ok
}

// Send delivers msg on the caller's goroutine. Messages from one sender are
// therefore seen by the recipient in the order they were sent.
func (c *Channel) Send(msg domain.SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	c.mu.RLock()
	h, ok := c.routes[msg.To]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecipientUnavailable, msg.To)
	}
	if err := h(msg); err != nil {
		return fmt.Errorf("deliver %s to %s: %w", msg.Kind, msg.To, err)
	}
	log.Debug().
		Str("module", "app.channel").
		Str("kind", string(msg.Kind)).
		Str("from", string(msg.From)).
		Str("to", string(msg.To)).
		Msg("routed")
	return nil
}
