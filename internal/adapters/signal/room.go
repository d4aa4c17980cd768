package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/app"
	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
)

type joinRoomResponse struct {
	ReqID           json.RawMessage     `json:"reqId,omitempty"`
	Type            string              `json:"type"`
	RtpCapabilities json.RawMessage     `json:"rtpCapabilities"`
	Peers           []core.PeerInfo     `json:"peers"`
	Producers       []core.ProducerInfo `json:"producers"`
	IsCreator       bool                `json:"isCreator"`
}

func (ctl *Controller) handleJoinRoom(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	var p struct {
		RoomID      string `json:"roomId"`
		PeerID      string `json:"peerId"`
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.respondErr(c, env.ReqID, core.Validationf("bad joinRoom payload"))
		return
	}
	if p.RoomID == "" || p.PeerID == "" {
		ctl.respondErr(c, env.ReqID, core.Validationf("roomId and peerId are required"))
		return
	}
	if len(p.PeerID) > domain.MaxPeerIDLen {
		ctl.respondErr(c, env.ReqID, core.Validationf("peerId too long"))
		return
	}
	displayName := domain.CleanDisplayName(p.DisplayName)

	pj := &app.PendingJoin{
		SID:         sid,
		RoomID:      domain.RoomID(p.RoomID),
		PeerID:      domain.PeerID(p.PeerID),
		DisplayName: displayName,
	}
	if err := ctl.Sessions.SetPending(pj); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}

	res, err := ctl.admit(sid, pj, c)
	if err != nil {
		// Admission never completed; the pending marker is still ours.
		ctl.Sessions.ClearPending(sid)
		ctl.respondErr(c, env.ReqID, err)
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Str("peer", p.PeerID).Msg("join")
	ctl.sendJSON(c, joinRoomResponse{
		ReqID:           env.ReqID,
		Type:            "joinRoomResponse",
		RtpCapabilities: res.RtpCapabilities,
		Peers:           res.Peers,
		Producers:       res.Producers,
		IsCreator:       res.IsCreator,
	})
}

// admit resolves the room and joins it. A room that tears down between
// GetOrCreate and AdmitPeer is simply re-created, per the registry contract.
func (ctl *Controller) admit(sid core.SessionID, pj *app.PendingJoin, c *wsConn) (*core.JoinResult, error) {
	var lastErr error
	for i := 0; i < joinRetryBudget; i++ {
		room, err := ctl.Rooms.GetOrCreate(pj.RoomID)
		if err != nil {
			return nil, err
		}
		res, err := room.AdmitPeer(sid, pj.PeerID, pj.DisplayName, c)
		if errors.Is(err, core.ErrRoomClosed) {
			lastErr = err
			continue
		}
		return res, err
	}
	return nil, lastErr
}

type rtpCapabilitiesResponse struct {
	ReqID           json.RawMessage `json:"reqId,omitempty"`
	Type            string          `json:"type"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

func (ctl *Controller) handleGetRouterRtpCapabilities(c *wsConn, env envelope, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, env.ReqID, core.Validationf("roomId is required"))
		return
	}
	room, ok := ctl.Rooms.Get(domain.RoomID(p.RoomID))
	if !ok {
		ctl.respondErr(c, env.ReqID, core.NotFoundf("Room not found"))
		return
	}
	ctl.sendJSON(c, rtpCapabilitiesResponse{
		ReqID:           env.ReqID,
		Type:            "getRouterRtpCapabilitiesResponse",
		RtpCapabilities: room.RtpCapabilities(),
	})
}
