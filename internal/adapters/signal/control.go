package signal

import "github.com/anurag-chakravarti/peerjs-video-call/internal/domain"

type welcomeFrame struct {
	Type string           `json:"type"`
	ID   domain.SessionID `json:"id"`
}

type errorFrame struct {
	Type  string           `json:"type"`
	Error string           `json:"error"`
	Code  string           `json:"code"`
	To    domain.SessionID `json:"to,omitempty"`
}

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

// sendError reports a failed request back to its sender. to names the
// recipient the request was for, if any.
func (ctl *SignalWSController) sendError(conn *WsSignalConn, err error, to domain.SessionID) {
	ctl.sendJSON(conn, errorFrame{
		Type:  "error",
		Error: err.Error(),
		Code:  domain.ErrorCode(err),
		To:    to,
	})
}
