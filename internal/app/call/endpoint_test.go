package call

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallLifecycle(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()
	require.Equal(t, domain.SessionID("id-A"), a.ep.Local())
	require.Equal(t, domain.SessionID("id-B"), b.ep.Local())

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	assert.Equal(t, domain.StateDialing, h.state(a).State)
	assert.Equal(t, domain.DirectionOutgoing, h.state(a).Direction)

	h.waitState(b, domain.StateRinging)
	assert.Equal(t, domain.SessionID("id-A"), h.state(b).Remote)
	assert.Equal(t, domain.DirectionIncoming, h.state(b).Direction)

	require.NoError(t, b.ep.Respond(h.ctx, true))
	assert.Equal(t, domain.StateConnecting, h.state(b).State)
	h.waitState(a, domain.StateConnecting)

	a.transports.Last().events.OnEstablished()
	b.transports.Last().events.OnEstablished()
	h.waitState(a, domain.StateActive)
	h.waitState(b, domain.StateActive)

	require.NoError(t, a.ep.Hangup(h.ctx))
	assert.Equal(t, domain.StateIdle, h.state(a).State)
	h.waitState(b, domain.StateIdle)

	assert.Equal(t, []domain.CallState{
		domain.StateDialing, domain.StateConnecting, domain.StateActive, domain.StateEnding, domain.StateIdle,
	}, a.rec.States())
	assert.Equal(t, []domain.CallState{
		domain.StateRinging, domain.StateConnecting, domain.StateActive, domain.StateEnding, domain.StateIdle,
	}, b.rec.States())
	assert.Equal(t, domain.ReasonHangup, b.rec.Last().Reason)

	require.Eventually(t, func() bool {
		return a.transports.Last().Closed() && b.transports.Last().Closed()
	}, time.Second, 5*time.Millisecond)
}

func TestCandidatesBufferedUntilAnswered(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)

	// B has no transport while ringing; the candidate must survive until it answers.
	a.transports.Last().events.OnCandidate(json.RawMessage(`{"candidate":"a-1"}`))
	require.Eventually(t, func() bool {
		s, err := a.ep.Session(h.ctx)
		return err == nil && s.State == domain.StateDialing
	}, time.Second, 5*time.Millisecond)
	_, err := b.ep.Session(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, b.transports.Count())

	require.NoError(t, b.ep.Respond(h.ctx, true))
	assert.Equal(t, []string{`{"candidate":"a-1"}`}, b.transports.Last().Candidates())

	b.transports.Last().events.OnCandidate(json.RawMessage(`{"candidate":"b-1"}`))
	require.Eventually(t, func() bool {
		return len(a.transports.Last().Candidates()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInitiateWithoutMedia(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a := h.add(withoutMedia())
	h.add()

	err := a.ep.Initiate(h.ctx, "id-B")
	require.ErrorIs(t, err, domain.ErrNoLocalMedia)
	assert.Equal(t, domain.StateIdle, h.state(a).State)
	assert.Empty(t, a.rec.All())
	assert.Equal(t, 0, a.transports.Count())

	require.NoError(t, a.ep.BindMedia(h.ctx, newFakeMedia()))
	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	assert.Equal(t, domain.StateDialing, h.state(a).State)
}

func TestInitiateMediaDenied(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a := h.add()
	h.add()
	a.media.denied = true

	err := a.ep.Initiate(h.ctx, "id-B")
	require.ErrorIs(t, err, domain.ErrMediaAccessDenied)
	assert.Equal(t, domain.StateIdle, h.state(a).State)
}

func TestInitiateRejectsBadTargets(t *testing.T) {
	h := newHarness(t, "id-A")
	a := h.add()

	require.ErrorIs(t, a.ep.Initiate(h.ctx, "id-A"), domain.ErrInvalidTarget)
	require.ErrorIs(t, a.ep.Initiate(h.ctx, ""), domain.ErrInvalidTarget)
}

func TestInitiateWhileInCall(t *testing.T) {
	h := newHarness(t, "id-A", "id-B", "id-C")
	a, b, _ := h.add(), h.add(), h.add()
	h.connect(a, b)

	require.ErrorIs(t, a.ep.Initiate(h.ctx, "id-C"), domain.ErrBusy)
	assert.Equal(t, domain.StateActive, h.state(a).State)
}

func TestRecipientUnavailableEndsCall(t *testing.T) {
	h := newHarness(t, "id-A")
	a := h.add()

	err := a.ep.Initiate(h.ctx, "id-nobody")
	require.ErrorIs(t, err, domain.ErrRecipientUnavailable)
	assert.Equal(t, domain.StateIdle, h.state(a).State)
	assert.Equal(t, []domain.CallState{domain.StateDialing, domain.StateEnding, domain.StateIdle}, a.rec.States())
	assert.Equal(t, domain.ReasonUnavailable, a.rec.Last().Reason)
}

func TestRecipientVanishesMidCall(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)
	require.NoError(t, b.ep.Respond(h.ctx, true))
	h.waitState(a, domain.StateConnecting)

	h.channel.Unsubscribe("id-B")
	a.transports.Last().events.OnCandidate(json.RawMessage(`{"candidate":"late"}`))

	h.waitState(a, domain.StateIdle)
	assert.Equal(t, domain.ReasonUnavailable, a.rec.Last().Reason)
	assert.NotContains(t, a.rec.States(), domain.StateActive)
}

func TestHangupIsIdempotent(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()
	h.connect(a, b)

	require.NoError(t, a.ep.Hangup(h.ctx))
	require.NoError(t, a.ep.Hangup(h.ctx))
	h.waitState(b, domain.StateIdle)
	require.NoError(t, b.ep.Hangup(h.ctx))

	assert.Equal(t, 1, a.rec.Count(domain.StateEnding))
	assert.Equal(t, 1, a.rec.Count(domain.StateIdle))
	assert.Equal(t, 1, b.rec.Count(domain.StateEnding))
	assert.Equal(t, 1, b.rec.Count(domain.StateIdle))
}

func TestHangupWhileIdle(t *testing.T) {
	h := newHarness(t, "id-A")
	a := h.add()

	require.NoError(t, a.ep.Hangup(h.ctx))
	assert.Empty(t, a.rec.All())
}

func TestBusyWhenActive(t *testing.T) {
	h := newHarness(t, "id-A", "id-B", "id-C")
	a, b, c := h.add(), h.add(), h.add()
	h.connect(a, b)

	require.NoError(t, c.ep.Initiate(h.ctx, "id-A"))
	h.waitState(c, domain.StateIdle)
	assert.Equal(t, domain.ReasonBusy, c.rec.Last().Reason)

	sa := h.state(a)
	assert.Equal(t, domain.StateActive, sa.State)
	assert.Equal(t, domain.SessionID("id-B"), sa.Remote)
	assert.Equal(t, domain.StateActive, h.state(b).State)
	assert.NotContains(t, a.rec.States(), domain.StateRinging)
}

func TestDeclineIncoming(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)
	require.NoError(t, b.ep.Respond(h.ctx, false))

	h.waitState(a, domain.StateIdle)
	assert.Equal(t, domain.ReasonDeclined, a.rec.Last().Reason)
	assert.Equal(t, domain.ReasonDeclined, b.rec.Last().Reason)
	assert.Equal(t, 0, b.transports.Count())
}

func TestRespondWithoutIncomingCall(t *testing.T) {
	h := newHarness(t, "id-A")
	a := h.add()

	require.ErrorIs(t, a.ep.Respond(h.ctx, true), domain.ErrNoIncomingCall)
}

func TestAcceptWithoutMediaEndsCall(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add(withoutMedia())

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)

	require.ErrorIs(t, b.ep.Respond(h.ctx, true), domain.ErrNoLocalMedia)
	assert.Equal(t, domain.StateIdle, h.state(b).State)
	h.waitState(a, domain.StateIdle)
	assert.Equal(t, domain.ReasonNoMedia, a.rec.Last().Reason)
}

func TestConnectTimeout(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(withTimeout(100*time.Millisecond)), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)

	h.waitState(a, domain.StateIdle)
	assert.Equal(t, domain.ReasonTimeout, a.rec.Last().Reason)
	h.waitState(b, domain.StateIdle)
	assert.Equal(t, domain.ReasonTimeout, b.rec.Last().Reason)
}

func TestRingingTimesOut(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	// A stays idle, so no hangup ever comes from its side.
	a, b := h.add(), h.add(withTimeout(100*time.Millisecond))

	require.NoError(t, h.channel.Send(domain.SignalMessage{
		Kind:    domain.SignalOffer,
		From:    a.ep.Local(),
		To:      b.ep.Local(),
		Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))
	h.waitState(b, domain.StateRinging)

	h.waitState(b, domain.StateIdle)
	assert.Equal(t, domain.ReasonTimeout, b.rec.Last().Reason)
	assert.Equal(t, 1, b.rec.Count(domain.StateRinging))
}

func TestRepeatedOfferKeepsRinging(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)

	again := json.RawMessage(`{"type":"offer","sdp":"v=0 again"}`)
	require.NoError(t, h.channel.Send(domain.SignalMessage{
		Kind:    domain.SignalOffer,
		From:    a.ep.Local(),
		To:      b.ep.Local(),
		Payload: again,
	}))

	assert.Equal(t, domain.StateRinging, h.state(b).State)
	assert.Equal(t, domain.StateDialing, h.state(a).State)
	assert.Equal(t, 1, b.rec.Count(domain.StateRinging))

	require.NoError(t, b.ep.Respond(h.ctx, true))
	h.waitState(a, domain.StateConnecting)
	tr := b.transports.Last()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.JSONEq(t, string(again), string(tr.offer))
}

func TestTimeoutDisarmedOnceActive(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(withTimeout(300*time.Millisecond)), h.add(withTimeout(300*time.Millisecond))
	h.connect(a, b)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, domain.StateActive, h.state(a).State)
	assert.Equal(t, domain.StateActive, h.state(b).State)
}

func TestTransportFailureEndsBothSides(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()
	h.connect(a, b)

	b.transports.Last().events.OnFailed(assert.AnError)
	h.waitState(b, domain.StateIdle)
	h.waitState(a, domain.StateIdle)
	assert.Equal(t, domain.ReasonTransportFailed, a.rec.Last().Reason)
}

func TestStaleTransportEventsIgnored(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	first := a.transports.Last()
	require.NoError(t, a.ep.Hangup(h.ctx))
	h.waitState(b, domain.StateIdle)

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	h.waitState(b, domain.StateRinging)

	first.events.OnClosed()
	first.events.OnEstablished()
	assert.Equal(t, domain.StateDialing, h.state(a).State)
}

func TestMalformedMessagesDropped(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()
	h.connect(a, b)
	before := len(a.rec.All())

	bad := []domain.SignalMessage{
		{Kind: "bogus", From: "id-B", To: "id-A"},
		{Kind: domain.SignalAnswer, From: "id-B", To: "id-A"},
		{Kind: domain.SignalHangup, From: "", To: "id-A"},
		{Kind: domain.SignalHangup, From: "id-B", To: "id-Z"},
		{Kind: domain.SignalAnswer, From: "id-B", To: "id-A", Payload: json.RawMessage(`"garbage"`)},
	}
	for _, msg := range bad {
		require.NoError(t, a.ep.Deliver(msg))
	}

	s := h.state(a)
	assert.Equal(t, domain.StateActive, s.State)
	assert.Equal(t, domain.SessionID("id-B"), s.Remote)
	assert.Len(t, a.rec.All(), before)
}

func TestUnusableAnswerKeepsDialing(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a := h.add()
	h.add()

	require.NoError(t, a.ep.Initiate(h.ctx, "id-B"))
	require.NoError(t, a.ep.Deliver(domain.SignalMessage{
		Kind: domain.SignalAnswer, From: "id-B", To: "id-A", Payload: json.RawMessage(`"garbage"`),
	}))
	assert.Equal(t, domain.StateDialing, h.state(a).State)
}

func TestToggles(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()

	_, err := a.ep.ToggleMute(h.ctx)
	require.ErrorIs(t, err, domain.ErrNoActiveCall)

	h.connect(a, b)

	muted, err := a.ep.ToggleMute(h.ctx)
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, a.media.Enabled(domain.TrackAudio))

	off, err := a.ep.ToggleCamera(h.ctx)
	require.NoError(t, err)
	assert.True(t, off)
	assert.False(t, a.media.Enabled(domain.TrackVideo))

	s := h.state(a)
	assert.Equal(t, domain.MediaToggleState{Muted: true, CameraOff: true}, s.Toggles)

	muted, err = a.ep.ToggleMute(h.ctx)
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, a.media.Enabled(domain.TrackAudio))

	require.NoError(t, a.ep.Hangup(h.ctx))
	assert.True(t, a.media.Enabled(domain.TrackAudio))
	assert.True(t, a.media.Enabled(domain.TrackVideo))

	h.connect(a, b)
	assert.Equal(t, domain.MediaToggleState{}, h.state(a).Toggles)
}

func TestOverrideSupersedesCurrentCall(t *testing.T) {
	h := newHarness(t, "id-A", "id-B", "id-C")
	a := h.add(withArbitrator(app.SimplePolicy{AllowOverride: true}))
	b, c := h.add(), h.add()
	h.connect(a, b)

	require.NoError(t, h.channel.Send(domain.SignalMessage{
		Kind:     domain.SignalOffer,
		From:     c.ep.Local(),
		To:       a.ep.Local(),
		Payload:  json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		Override: true,
	}))

	h.waitState(b, domain.StateIdle)
	assert.Equal(t, domain.ReasonSuperseded, b.rec.Last().Reason)
	h.waitState(a, domain.StateRinging)
	assert.Equal(t, domain.SessionID("id-C"), h.state(a).Remote)
}

func TestOverrideIgnoredByDefault(t *testing.T) {
	h := newHarness(t, "id-A", "id-B", "id-C")
	a, b, c := h.add(), h.add(), h.add()
	h.connect(a, b)

	require.NoError(t, c.ep.Initiate(h.ctx, "id-A"))
	h.waitState(c, domain.StateIdle)
	assert.Equal(t, domain.StateActive, h.state(a).State)
}

func TestClosedEndpoint(t *testing.T) {
	h := newHarness(t, "id-A", "id-B")
	a, b := h.add(), h.add()
	h.connect(a, b)

	a.ep.Close()
	h.waitState(b, domain.StateIdle)
	assert.Equal(t, domain.ReasonShutdown, b.rec.Last().Reason)

	require.ErrorIs(t, a.ep.Hangup(h.ctx), domain.ErrEndpointClosed)
	require.ErrorIs(t, a.ep.Deliver(domain.NewHangup("id-B", "id-A", domain.ReasonHangup)), domain.ErrRecipientUnavailable)
}
