// Package media defines the capability surface the signaling core expects
// from an SFU engine. RTP-level blobs (capabilities, parameters) are opaque
// json.RawMessage values relayed between the engine and the clients; the
// core never looks inside them.
package media

import (
	"context"
	"encoding/json"

	"github.com/kvey/Huddle/internal/domain"
)

// Engine creates workers. It is the single entry point into the media layer.
type Engine interface {
	NewWorker(ctx context.Context, opts WorkerOptions) (Worker, error)
}

type WorkerOptions struct {
	// UDP port slice owned by this worker.
	RTCMinPort int
	RTCMaxPort int
	// AnnouncedIP is the address written into ICE candidates.
	AnnouncedIP string
}

// Worker hosts routers. One worker serves many rooms; a room never migrates
// off its worker.
type Worker interface {
	ID() string
	NewRouter(opts RouterOptions) (Router, error)
	// OnDied registers the fatal hook, invoked at most once if the worker
	// terminates unexpectedly.
	OnDied(func(err error))
	Close() error
}

type RouterOptions struct {
	AudioLevelThreshold int // dBFS
	AudioLevelInterval  int // ms
}

// Router is the per-room media-routing context.
type Router interface {
	RtpCapabilities() json.RawMessage
	NewTransport(opts TransportOptions) (Transport, error)
	NewAudioLevelObserver() (AudioLevelObserver, error)
	Close() error
}

type TransportOptions struct {
	PeerID    domain.PeerID
	Direction domain.TransportDirection
	// InitialAvailableOutgoingBitrate is a hint for the engine's pacer.
	InitialAvailableOutgoingBitrate int
}

// TransportInfo is the connection parameter set handed to the client.
type TransportInfo struct {
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
	SctpParameters json.RawMessage `json:"sctpParameters,omitempty"`
}

type ProduceOptions struct {
	Kind          domain.MediaKind
	RtpParameters json.RawMessage
	// Simulcast layers, video only; nil means a single encoding.
	Encodings []Encoding
}

type Encoding struct {
	MaxBitrate int `json:"maxBitrate"`
}

type ConsumeOptions struct {
	ProducerID      domain.ProducerID
	RtpCapabilities json.RawMessage
}

// Transport is one DTLS/ICE bundle belonging to one peer and one direction.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(dtlsParameters json.RawMessage) error
	Produce(opts ProduceOptions) (Producer, error)
	Consume(opts ConsumeOptions) (Consumer, error)
	Close() error
}

// Producer is an inbound media stream hosted by the engine.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Pause() error
	Resume() error
	// OnTransportClose fires when the owning transport closes underneath the
	// producer. The callback must take the room lock itself.
	OnTransportClose(func())
	Close() error
}

// Consumer feeds one producer's media to one subscribing peer.
type Consumer interface {
	ID() domain.ConsumerID
	RtpParameters() json.RawMessage
	OnTransportClose(func())
	OnProducerClose(func())
	Close() error
}

// VolumeSample is one audio-level observation.
type VolumeSample struct {
	ProducerID domain.ProducerID
	// Volume in dBFS, 0 (loudest) to -127 (digital silence).
	Volume int
}

// AudioLevelObserver samples the loudest audio producer on a router.
// Callbacks are invoked from engine goroutines and must take the room lock
// before touching shared state.
type AudioLevelObserver interface {
	// AddProducer registers an audio producer for sampling.
	AddProducer(id domain.ProducerID) error
	// RemoveProducer is tolerant: removing an unknown producer is a no-op.
	RemoveProducer(id domain.ProducerID)
	OnVolumes(func(samples []VolumeSample))
	OnSilence(func())
	Close() error
}
