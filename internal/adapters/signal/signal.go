package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app/orch"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// AllowedOrigins limits the Origin header of upgrades. Empty or "*" allows any.
	AllowedOrigins []string
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	ctl := &SignalWSController{Orch: o, Limiter: limiter, opts: opts}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: ctl.checkOrigin}
	if limiter != nil {
		o.Registry.OnRelease(limiter.Forget)
	}
	return ctl
}

func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(ctl.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range ctl.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	log.Warn().Str("module", "signal").Str("origin", origin).Msg("origin rejected")
	return false
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// deliverTo is the channel handler for one client: it only queues the frame
// for the write pump.
func (ctl *SignalWSController) deliverTo(sid domain.SessionID, c *WsSignalConn) core.Handler {
	return func(msg domain.SignalMessage) error {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		err = c.TrySend(b)
		switch {
		case errors.Is(err, errConnClosed):
			return domain.ErrRecipientUnavailable
		case errors.Is(err, domain.ErrBackpressure):
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("slow consumer, frame dropped")
		}
		return err
	}
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)

	sid, err := ctl.Orch.Connect(conn, cancel)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("identity refused")
		_ = ws.WriteJSON(errorFrame{Type: "error", Error: err.Error(), Code: domain.ErrorCode(err)})
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, domain.ErrorCode(err)))
		cancel()
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ctl.sendJSON(conn, welcomeFrame{Type: "welcome", ID: sid})
	ctl.Orch.Subscribe(sid, ctl.deliverTo(sid, conn))

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
