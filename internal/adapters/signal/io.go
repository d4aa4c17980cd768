package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
)

func (ctl *Controller) writePump(c *wsConn) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

// readPump drives the connection. On exit the socket is closed and the peer
// (or pending join) is cleaned up.
func (ctl *Controller) readPump(sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.Life.OnSocketClose(sid)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			return
		}
		ctl.handleFrame(sid, c, data)
	}
}

type envelope struct {
	Type string `json:"type"`
	// ReqID is opaque; it is echoed byte-for-byte in the direct response.
	ReqID json.RawMessage `json:"reqId,omitempty"`
}

// handleFrame parses, dispatches and fences every handler failure: a panic
// or error inside a handler becomes an error response and never kills the
// connection.
func (ctl *Controller) handleFrame(sid core.SessionID, c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendJSON(c, errorResponse{Error: "Invalid JSON"})
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "signal").Str("type", env.Type).Any("panic", rec).Msg("handler panic")
			ctl.respondErr(c, env.ReqID, core.EngineErr("Internal server error", nil))
		}
	}()

	switch env.Type {
	case "joinRoom":
		ctl.handleJoinRoom(sid, c, env, data)
	case "createWebRtcTransport":
		ctl.handleCreateTransport(sid, c, env, data)
	case "connectWebRtcTransport":
		ctl.handleConnectTransport(sid, c, env, data)
	case "produce":
		ctl.handleProduce(sid, c, env, data)
	case "consume":
		ctl.handleConsume(sid, c, env, data)
	case "setProducerMuted":
		ctl.handleSetProducerMuted(sid, c, env, data)
	case "pauseProducer":
		ctl.handlePauseProducer(sid, c, env, data)
	case "resumeProducer":
		ctl.handleResumeProducer(sid, c, env, data)
	case "closeProducer":
		ctl.handleCloseProducer(sid, c, env, data)
	case "chat":
		ctl.handleChat(sid, c, env, data)
	case "getRouterRtpCapabilities":
		ctl.handleGetRouterRtpCapabilities(c, env, data)
	case "ping":
		ctl.handlePing(c, env)
	default:
		ctl.respondErr(c, env.ReqID, core.Validationf("Unknown message type: %s", env.Type))
	}
}

// resolve maps the sending socket to its room and peer. A socket that is
// mid-join gets the transient "still joining" error instead of a silent
// queue; an unknown socket gets NotFound.
func (ctl *Controller) resolve(sid core.SessionID) (*core.Room, domain.PeerID, error) {
	peerID, roomID, ok := ctl.Sessions.Resolve(sid)
	if !ok {
		if ctl.Sessions.IsPending(sid) {
			return nil, "", core.ErrStillJoining
		}
		return nil, "", core.NotFoundf("Peer not found")
	}
	room, ok := ctl.Rooms.Get(roomID)
	if !ok {
		return nil, "", core.NotFoundf("Room not found")
	}
	return room, peerID, nil
}

type errorResponse struct {
	ReqID json.RawMessage `json:"reqId,omitempty"`
	Error string          `json:"error"`
}

func (ctl *Controller) respondErr(c *wsConn, reqID json.RawMessage, err error) {
	var ce *core.Error
	msg := err.Error()
	if errors.As(err, &ce) {
		msg = ce.Message()
	}
	log.Debug().Err(err).Str("module", "signal").Msg("request failed")
	ctl.sendJSON(c, errorResponse{ReqID: reqID, Error: msg})
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(core.Frame(b)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}
