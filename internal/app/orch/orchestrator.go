package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator ties the registry and the channel together for the server:
// connect and disconnect of identities, plus routing of client messages.
type Orchestrator struct {
	Registry *app.Registry
	Channel  *app.Channel

	mu    sync.Mutex
	links map[domain.SessionID]map[domain.SessionID]struct{}
}

func New(reg *app.Registry, ch *app.Channel) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Channel:  ch,
		links:    make(map[domain.SessionID]map[domain.SessionID]struct{}),
	}
	reg.OnRelease(o.hangupCounterparts)
	reg.OnRelease(ch.Unsubscribe)
	return o
}

// Connect registers a new identity for conn. The caller subscribes a handler
// once it is ready to deliver.
func (o *Orchestrator) Connect(conn core.SignalConnection, cancel context.CancelFunc) (domain.SessionID, error) {
	sid, err := o.Registry.Register()
	if err != nil {
		return "", err
	}
	if !o.Registry.Bind(sid, conn, cancel) {
		return "", fmt.Errorf("bind %s: %w", sid, domain.ErrRecipientUnavailable)
	}
	return sid, nil
}

func (o *Orchestrator) Subscribe(sid domain.SessionID, h core.Handler) {
	o.Channel.Subscribe(sid, h)
}

// Disconnect releases sid. Anyone in a call with it gets a hangup.
func (o *Orchestrator) Disconnect(sid domain.SessionID) {
	if o.Registry.Deregister(sid) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
	}
}

// Kick closes the client's connection; its read loop then disconnects it.
func (o *Orchestrator) Kick(sid domain.SessionID) bool {
	return o.Registry.Cancel(sid)
}

// KickAll closes every client connection. Used on shutdown, since hijacked
// websockets outlive http.Server.Shutdown.
func (o *Orchestrator) KickAll() int {
	n := 0
	for _, sid := range o.Registry.IDs() {
		if o.Kick(sid) {
			n++
		}
	}
	return n
}
