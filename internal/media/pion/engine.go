// Package pion implements the media.Engine capability on top of pion's ORTC
// API. A "worker" here is an in-process routing unit owning a slice of the
// configured UDP port range; unlike an out-of-process SFU there is no child
// process to crash, so the died hook is retained for engine symmetry but
// only ever fires with the process itself.
package pion

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/media"
)

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) NewWorker(ctx context.Context, opts media.WorkerOptions) (media.Worker, error) {
	se := webrtc.SettingEngine{}
	if err := se.SetEphemeralUDPPortRange(uint16(opts.RTCMinPort), uint16(opts.RTCMaxPort)); err != nil {
		return nil, err
	}
	if opts.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	se.SetLite(true)

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Worker{
		id:     uuid.NewString(),
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// registerCodecs installs the router codec set: opus plus the VP8/VP9/H264
// video profiles the service has always negotiated.
func registerCodecs(me *webrtc.MediaEngine) error {
	audio := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		},
	}
	video := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=2"},
			PayloadType:        98,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "packetization-mode=1;profile-level-id=4d0032;level-asymmetry-allowed=1"},
			PayloadType:        102,
		},
	}
	for _, c := range audio {
		if err := me.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	for _, c := range video {
		if err := me.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

type Worker struct {
	id     string
	api    *webrtc.API
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	routers []*Router
	died    func(error)
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) NewRouter(opts media.RouterOptions) (media.Router, error) {
	r := newRouter(w, opts)
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	w.died = fn
	w.mu.Unlock()
}

func (w *Worker) Close() error {
	w.cancel()
	w.mu.Lock()
	routers := append([]*Router(nil), w.routers...)
	w.routers = nil
	w.mu.Unlock()
	for _, r := range routers {
		if err := r.Close(); err != nil {
			log.Error().Err(err).Str("module", "media.pion").Str("worker", w.id).Msg("router close")
		}
	}
	return nil
}

// routerRtpCapabilities is what clients negotiate against; it mirrors the
// codec set registered with the media engine.
var routerRtpCapabilities = mustMarshalCaps()

type capCodec struct {
	Kind       string         `json:"kind"`
	MimeType   string         `json:"mimeType"`
	ClockRate  int            `json:"clockRate"`
	Channels   int            `json:"channels,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func mustMarshalCaps() json.RawMessage {
	caps := struct {
		Codecs []capCodec `json:"codecs"`
	}{
		Codecs: []capCodec{
			{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, Parameters: map[string]any{"x-google-start-bitrate": 400}},
			{Kind: "video", MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, Parameters: map[string]any{"profile-id": 2, "x-google-start-bitrate": 400}},
			{Kind: "video", MimeType: webrtc.MimeTypeH264, ClockRate: 90000, Parameters: map[string]any{"packetization-mode": 1, "profile-level-id": "4d0032", "level-asymmetry-allowed": 1, "x-google-start-bitrate": 400}},
		},
	}
	b, err := json.Marshal(caps)
	if err != nil {
		panic(err)
	}
	return b
}
