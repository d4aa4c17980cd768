package signal

import (
	"encoding/json"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
)

type produceResponse struct {
	ReqID json.RawMessage   `json:"reqId,omitempty"`
	Type  string            `json:"type"`
	ID    domain.ProducerID `json:"id"`
}

func (ctl *Controller) handleProduce(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	var p struct {
		Kind          domain.MediaKind      `json:"kind"`
		RtpParameters json.RawMessage       `json:"rtpParameters"`
		Source        domain.ProducerSource `json:"source"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.respondErr(c, env.ReqID, core.Validationf("bad produce payload"))
		return
	}
	if !p.Kind.Valid() {
		ctl.respondErr(c, env.ReqID, core.Validationf("kind must be audio or video"))
		return
	}
	if len(p.RtpParameters) == 0 {
		ctl.respondErr(c, env.ReqID, core.Validationf("rtpParameters are required"))
		return
	}
	source := p.Source
	if source == "" {
		source = domain.DefaultSource(p.Kind)
	}
	if !source.Valid() {
		ctl.respondErr(c, env.ReqID, core.Validationf("unknown source: %s", source))
		return
	}

	id, err := room.Produce(peerID, p.Kind, source, p.RtpParameters)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, produceResponse{ReqID: env.ReqID, Type: "produceResponse", ID: id})
}

type consumeResponse struct {
	ReqID         json.RawMessage       `json:"reqId,omitempty"`
	Type          string                `json:"type"`
	ID            domain.ConsumerID     `json:"id"`
	ProducerID    domain.ProducerID     `json:"producerId"`
	Kind          domain.MediaKind      `json:"kind"`
	RtpParameters json.RawMessage       `json:"rtpParameters"`
	PeerID        domain.PeerID         `json:"peerId"`
	DisplayName   string                `json:"displayName"`
	Source        domain.ProducerSource `json:"source"`
	Muted         bool                  `json:"muted"`
}

func (ctl *Controller) handleConsume(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	var p struct {
		ProducerID      string          `json:"producerId"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.respondErr(c, env.ReqID, core.Validationf("producerId is required"))
		return
	}
	if len(p.RtpCapabilities) == 0 {
		ctl.respondErr(c, env.ReqID, core.Validationf("rtpCapabilities are required"))
		return
	}

	res, err := room.Consume(peerID, domain.ProducerID(p.ProducerID), p.RtpCapabilities)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, consumeResponse{
		ReqID:         env.ReqID,
		Type:          "consumeResponse",
		ID:            res.ID,
		ProducerID:    res.ProducerID,
		Kind:          res.Kind,
		RtpParameters: res.RtpParameters,
		PeerID:        res.PeerID,
		DisplayName:   res.DisplayName,
		Source:        res.Source,
		Muted:         res.Muted,
	})
}

type successResponse struct {
	ReqID   json.RawMessage `json:"reqId,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
}

type producerPayload struct {
	ProducerID string `json:"producerId"`
	Muted      bool   `json:"muted"`
}

func parseProducerPayload(data []byte) (producerPayload, error) {
	var p producerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		return p, core.Validationf("producerId is required")
	}
	return p, nil
}

func (ctl *Controller) handleSetProducerMuted(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	p, err := parseProducerPayload(data)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	if err := room.SetProducerMuted(peerID, domain.ProducerID(p.ProducerID), p.Muted); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, successResponse{ReqID: env.ReqID, Type: "setProducerMutedResponse", Success: true})
}

func (ctl *Controller) handlePauseProducer(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	p, err := parseProducerPayload(data)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	if err := room.PauseProducer(peerID, domain.ProducerID(p.ProducerID)); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, successResponse{ReqID: env.ReqID, Type: "pauseProducerResponse", Success: true})
}

func (ctl *Controller) handleResumeProducer(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	p, err := parseProducerPayload(data)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	if err := room.ResumeProducer(peerID, domain.ProducerID(p.ProducerID)); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, successResponse{ReqID: env.ReqID, Type: "resumeProducerResponse", Success: true})
}

func (ctl *Controller) handleCloseProducer(sid core.SessionID, c *wsConn, env envelope, data []byte) {
	room, peerID, err := ctl.resolve(sid)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	p, err := parseProducerPayload(data)
	if err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	if err := room.CloseProducer(peerID, domain.ProducerID(p.ProducerID)); err != nil {
		ctl.respondErr(c, env.ReqID, err)
		return
	}
	ctl.sendJSON(c, successResponse{ReqID: env.ReqID, Type: "closeProducerResponse", Success: true})
}
