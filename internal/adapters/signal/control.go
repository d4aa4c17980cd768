package signal

import (
	"encoding/json"
	"time"

	"github.com/kvey/Huddle/internal/core"
)

func (ctl *Controller) handleChat(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
		ctl.respondErr(c, env.ReqID, core.Validationf("message is required"))
		return
	}

	if err := room.Chat(peerID, p.Message); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, successResponse{ReqID: env.ReqID, Type: "chatResponse", Success: true})
}

type pongResponse struct {
	ReqID     json.RawMessage `json:"reqId,omitempty"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
}

func (ctl *Controller) handlePing(c *wsConn, env envelope) {
	ctl.sendJSON(c, pongResponse{
		ReqID:     env.ReqID,
		Type:      "pong",
		Timestamp: time.Now().UnixMilli(),
	})
}
