package signal

import "github.com/anurag-chakravarti/peerjs-video-call/internal/domain"

func (ctl *SignalWSController) handleWhoAmI(
	sid domain.SessionID,
	conn *WsSignalConn,
) {
	resp := struct {
		Type      string           `json:"type"`
		ID        domain.SessionID `json:"id"`
		Connected int              `json:"connected"`
	}{
		Type:      "whoami",
		ID:        sid,
		Connected: ctl.Orch.Registry.Count(),
	}
	ctl.sendJSON(conn, resp)
}
