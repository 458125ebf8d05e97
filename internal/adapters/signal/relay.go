package signal

import (
	"encoding/json"
	"fmt"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer, candidate and hangup messages. Only the
// envelope is decoded; the payload stays raw.
func (ctl *SignalWSController) handleRelay(
	sid domain.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad relay payload")
		ctl.sendError(conn, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err), "")
		return
	}
	to, err := domain.ParseSessionID(string(msg.To))
	if err != nil {
		ctl.sendError(conn, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err), "")
		return
	}
	msg.To = to

	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limited")
		ctl.sendError(conn, domain.ErrRateLimited, to)
		return
	}

	if err := ctl.Orch.Route(sid, msg); err != nil {
		log.Info().
			Err(err).
			Str("module", "signal").
			Str("sid", string(sid)).
			Str("to", string(to)).
			Str("kind", string(msg.Kind)).
			Msg("relay failed")
		ctl.sendError(conn, err, to)
	}
}
