package signal

import (
	"encoding/json"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
)

// direction maps the optional wire field: anything but "recv" means "send",
// matching the historical client behavior.
func direction(s string) domain.TransportDirection {
	if s == string(domain.DirectionRecv) {
		return domain.DirectionRecv
	}
	return domain.DirectionSend
}

type createTransportResponse struct {
	ReqID          json.RawMessage `json:"reqId,omitempty"`
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
	SctpParameters json.RawMessage `json:"sctpParameters,omitempty"`
}

func (ctl *Controller) handleCreateTransport(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	var p struct {
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.respondErr(c, env.ReqID, core.Validationf("bad createWebRtcTransport payload"))
		return
	}

	info, err := room.CreateTransport(peerID, direction(p.Direction))
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, createTransportResponse{
		ReqID:          env.ReqID,
		Type:           "createWebRtcTransportResponse",
		ID:             info.ID,
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
		SctpParameters: info.SctpParameters,
	})
}

type connectTransportResponse struct {
	ReqID     json.RawMessage `json:"reqId,omitempty"`
	Type      string          `json:"type"`
	Connected bool            `json:"connected"`
}

func (ctl *Controller) handleConnectTransport(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	var p struct {
		Direction      string          `json:"direction"`
		DtlsParameters json.RawMessage `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.DtlsParameters) == 0 {
		ctl.respondErr(c, env.ReqID, core.Validationf("dtlsParameters are required"))
		return
	}

	if err := room.ConnectTransport(peerID, direction(p.Direction), p.DtlsParameters); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, connectTransportResponse{
		ReqID:     env.ReqID,
		Type:      "connectWebRtcTransportResponse",
		Connected: true,
	})
}
