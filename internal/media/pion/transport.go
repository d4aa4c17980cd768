package pion

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

// Transport is one ICE/DTLS bundle built from pion's ORTC primitives. The
// server side is ICE-lite: the client connects to us, so the transport only
// gathers host candidates and starts DTLS when the client's parameters
// arrive.
type Transport struct {
	router *Router
	id     string
	opts   media.TransportOptions

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

func newTransport(r *Router, opts media.TransportOptions) (*Transport, error) {
	api := r.worker.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, err
	}
	if err := gatherer.Gather(); err != nil {
		return nil, err
	}
	return &Transport{
		router:   r,
		id:       uuid.NewString(),
		opts:     opts,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() media.TransportInfo {
	info := media.TransportInfo{ID: t.id}

	if params, err := t.gatherer.GetLocalParameters(); err == nil {
		info.IceParameters = marshalOrNull(struct {
			UsernameFragment string `json:"usernameFragment"`
			Password         string `json:"password"`
			IceLite          bool   `json:"iceLite"`
		}{params.UsernameFragment, params.Password, true})
	}
	if candidates, err := t.gatherer.GetLocalCandidates(); err == nil {
		info.IceCandidates = marshalOrNull(candidates)
	}
	if params, err := t.dtls.GetLocalParameters(); err == nil {
		info.DtlsParameters = marshalOrNull(params)
	}
	return info
}

func marshalOrNull(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "media.pion").Msg("marshal transport info")
		return json.RawMessage("null")
	}
	return b
}

// connectParameters is the client's half of the handshake. The ICE
// parameters ride along with the DTLS blob when the client includes them;
// without them the ICE transport stays in its gathering role and pairs on
// incoming connectivity checks.
type connectParameters struct {
	Role          string                   `json:"role"`
	Fingerprints  []webrtc.DTLSFingerprint `json:"fingerprints"`
	IceParameters *webrtc.ICEParameters    `json:"iceParameters"`
}

func (t *Transport) Connect(dtlsParameters json.RawMessage) error {
	var p connectParameters
	if err := json.Unmarshal(dtlsParameters, &p); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.ErrConnectionClosed
	}
	if t.connected {
		return nil
	}

	if p.IceParameters != nil {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(t.gatherer, *p.IceParameters, &role); err != nil {
			return err
		}
	}

	remote := webrtc.DTLSParameters{
		Role:         dtlsRole(p.Role),
		Fingerprints: p.Fingerprints,
	}
	if err := t.dtls.Start(remote); err != nil {
		return err
	}
	t.connected = true
	return nil
}

func dtlsRole(s string) webrtc.DTLSRole {
	switch s {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleAuto
}

// rtpParameters is the subset of the client's produce parameters the engine
// needs: which SSRCs to receive on.
type rtpParameters struct {
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
		RID  string `json:"rid,omitempty"`
	} `json:"encodings"`
}

func (t *Transport) Produce(opts media.ProduceOptions) (media.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, webrtc.ErrConnectionClosed
	}

	var params rtpParameters
	if err := json.Unmarshal(opts.RtpParameters, &params); err != nil {
		return nil, err
	}

	kind := webrtc.RTPCodecTypeAudio
	if opts.Kind == domain.KindVideo {
		kind = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.router.worker.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, err
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, enc := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC: webrtc.SSRC(enc.SSRC),
				RID:  enc.RID,
			},
		})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return nil, err
	}

	p := newProducer(t, receiver, opts.Kind)
	t.producers = append(t.producers, p)
	t.router.registerProducer(p)
	go p.loop()

	return p, nil
}

func (t *Transport) Consume(opts media.ConsumeOptions) (media.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, webrtc.ErrConnectionClosed
	}

	src, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, errProducerGone
	}

	track, err := webrtc.NewTrackLocalStaticRTP(src.codec(), uuid.NewString(), "huddle")
	if err != nil {
		return nil, err
	}
	sender, err := t.router.worker.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		return nil, err
	}

	c := newConsumer(t, sender, track, src)
	t.consumers = append(t.consumers, c)
	src.subscribe(c)

	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := t.producers
	consumers := t.consumers
	t.producers = nil
	t.consumers = nil
	t.mu.Unlock()

	for _, p := range producers {
		p.stop()
		p.fireTransportClose()
	}
	for _, c := range consumers {
		c.stop()
		c.fireTransportClose()
	}

	if err := t.dtls.Stop(); err != nil {
		log.Error().Err(err).Str("module", "media.pion").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Error().Err(err).Str("module", "media.pion").Str("transport", t.id).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Error().Err(err).Str("module", "media.pion").Str("transport", t.id).Msg("gatherer close")
	}
	return nil
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.consumers {
		if c.id == id {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			return
		}
	}
}

func (t *Transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.producers {
		if p.id == id {
			t.producers = append(t.producers[:i], t.producers[i+1:]...)
			return
		}
	}
}
