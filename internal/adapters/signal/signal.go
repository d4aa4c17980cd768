// Package signal is the WebSocket signaling adapter: it owns the sockets,
// parses inbound frames, validates them against peer/room context and
// dispatches into core. One handler per message type; every error is caught
// at the message boundary and answered with the request's reqId.
package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/app"
	"github.com/kvey/Huddle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait       = 5 * time.Second
	sendBufferSize  = 32
	joinRetryBudget = 3
)

// Controller handles every signaling socket of the process.
type Controller struct {
	Sessions  *app.Sessions
	Rooms     *core.Registry
	Life      *app.Lifecycle
	ReadLimit int64
}

func NewController(sessions *app.Sessions, rooms *core.Registry, life *app.Lifecycle, readLimit int64) *Controller {
	return &Controller{
		Sessions:  sessions,
		Rooms:     rooms,
		Life:      life,
		ReadLimit: readLimit,
	}
}

// wsConn is the transport endpoint handed to core as a core.SignalConn.
// Frames go out through a buffered channel; a full buffer drops the frame
// (best-effort delivery, no queueing beyond the buffer).
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the HTTP request and runs the read/write pumps.
func (ctl *Controller) HandleSignal(c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	if sid == "" {
		sid = core.SessionID(uuid.NewString())
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, sendBufferSize),
	}

	go ctl.writePump(conn)
	go ctl.readPump(sid, conn)
}
