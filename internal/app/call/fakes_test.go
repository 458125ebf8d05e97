package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{}

func (fakeHandle) Kinds() []domain.TrackKind {
	return []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}
}

type fakeMedia struct {
	mu      sync.Mutex
	denied  bool
	enabled map[domain.TrackKind]bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{enabled: map[domain.TrackKind]bool{
		domain.TrackAudio: true,
		domain.TrackVideo: true,
	}}
}

func (m *fakeMedia) Acquire(context.Context) (core.MediaHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return nil, domain.ErrMediaAccessDenied
	}
	return fakeHandle{}, nil
}

func (m *fakeMedia) SetTrackEnabled(kind domain.TrackKind, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[kind] = enabled
	return nil
}

func (m *fakeMedia) Enabled(kind domain.TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

type fakeTransport struct {
	remote domain.SessionID
	events core.TransportEvents

	mu         sync.Mutex
	offer      json.RawMessage
	answer     json.RawMessage
	candidates []string
	closed     bool
}

func (t *fakeTransport) Offer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"v=0"}`), nil
}

func (t *fakeTransport) Answer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offer = offer
	return json.RawMessage(`{"type":"answer","sdp":"v=0"}`), nil
}

func (t *fakeTransport) ApplyAnswer(answer json.RawMessage) error {
	if string(answer) == `"garbage"` {
		return errors.New("cannot parse answer")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answer = answer
	return nil
}

func (t *fakeTransport) AddCandidate(candidate json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, string(candidate))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) Candidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.candidates...)
}

type fakeTransports struct {
	mu      sync.Mutex
	created []*fakeTransport
}

func (f *fakeTransports) NewTransport(_ context.Context, remote domain.SessionID, _ core.MediaHandle, events core.TransportEvents) (core.Transport, error) {
	t := &fakeTransport{remote: remote, events: events}
	f.mu.Lock()
	f.created = append(f.created, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeTransports) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *fakeTransports) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type recorder struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (r *recorder) Notify(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) All() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.got...)
}

func (r *recorder) States() []domain.CallState {
	var out []domain.CallState
	for _, n := range r.All() {
		out = append(out, n.State)
	}
	return out
}

func (r *recorder) Count(state domain.CallState) int {
	n := 0
	for _, s := range r.States() {
		if s == state {
			n++
		}
	}
	return n
}

func (r *recorder) Last() domain.Notification {
	all := r.All()
	if len(all) == 0 {
		return domain.Notification{}
	}
	return all[len(all)-1]
}

// gate holds messages until opened, to line up simultaneous dials.
type gate struct {
	next core.Sender

	mu   sync.Mutex
	open bool
	held []domain.SignalMessage
}

func (g *gate) Send(msg domain.SignalMessage) error {
	g.mu.Lock()
	if !g.open {
		g.held = append(g.held, msg)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return g.next.Send(msg)
}

func (g *gate) Open() {
	g.mu.Lock()
	g.open = true
	held := g.held
	g.held = nil
	g.mu.Unlock()
	for _, msg := range held {
		_ = g.next.Send(msg)
	}
}

type peer struct {
	ep         *Endpoint
	media      *fakeMedia
	transports *fakeTransports
	rec        *recorder
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	registry *app.Registry
	channel  *app.Channel
	names    chan domain.SessionID
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	names := make(chan domain.SessionID, len(ids))
	for _, id := range ids {
		names <- domain.SessionID(id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{
		t:   t,
		ctx: ctx,
		registry: app.NewRegistry(app.WithIDGenerator(func() domain.SessionID {
			select {
			case id := <-names:
				return id
			default:
				return domain.NewSessionID()
			}
		})),
		channel: app.NewChannel(),
		names:   names,
	}
}

type peerOption func(*Config)

func withoutMedia() peerOption { return func(c *Config) { c.Media = nil } }

func withSender(s core.Sender) peerOption { return func(c *Config) { c.Sender = s } }

func withTimeout(d time.Duration) peerOption { return func(c *Config) { c.ConnectTimeout = d } }

func withArbitrator(a app.Arbitrator) peerOption { return func(c *Config) { c.Arbitrator = a } }

func (h *harness) add(opts ...peerOption) *peer {
	h.t.Helper()
	sid, err := h.registry.Register()
	require.NoError(h.t, err)

	p := &peer{media: newFakeMedia(), transports: &fakeTransports{}, rec: &recorder{}}
	cfg := Config{
		Local:      sid,
		Sender:     h.channel,
		Transports: p.transports,
		Media:      p.media,
		Notifier:   p.rec,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ep, err := NewEndpoint(h.ctx, cfg)
	require.NoError(h.t, err)
	h.t.Cleanup(ep.Close)
	h.channel.Subscribe(sid, ep.Deliver)
	p.ep = ep
	return p
}

func (h *harness) state(p *peer) domain.CallSession {
	h.t.Helper()
	s, err := p.ep.Session(h.ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) waitState(p *peer, want domain.CallState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		s, err := p.ep.Session(h.ctx)
		return err == nil && s.State == want
	}, 2*time.Second, 5*time.Millisecond, fmt.Sprintf("%s never reached %s", p.ep.Local(), want))
}

// connect runs a full call from a to b up to active.
func (h *harness) connect(a, b *peer) {
	h.t.Helper()
	require.NoError(h.t, a.ep.Initiate(h.ctx, b.ep.Local()))
	h.waitState(b, domain.StateRinging)
	require.NoError(h.t, b.ep.Respond(h.ctx, true))
	h.waitState(a, domain.StateConnecting)
	a.transports.Last().events.OnEstablished()
	b.transports.Last().events.OnEstablished()
	h.waitState(a, domain.StateActive)
	h.waitState(b, domain.StateActive)
}
