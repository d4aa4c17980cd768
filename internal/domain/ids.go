// Package domain contains entity identifiers and enums without logic.
package domain

type (
	RoomID     string
	PeerID     string
	ProducerID string
	ConsumerID string
)

// MediaKind is the media type of a producer or consumer.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// ProducerSource tells the UI what a producer captures.
type ProducerSource string

const (
	SourceMic    ProducerSource = "mic"
	SourceWebcam ProducerSource = "webcam"
	SourceScreen ProducerSource = "screen"
)

func (s ProducerSource) Valid() bool {
	return s == SourceMic || s == SourceWebcam || s == SourceScreen
}

// DefaultSource picks the source for a produce request that omitted it.
func DefaultSource(kind MediaKind) ProducerSource {
	if kind == KindAudio {
		return SourceMic
	}
	return SourceWebcam
}

// TransportDirection distinguishes a peer's send and receive transports.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// ConnectionState tracks a peer's signaling lifecycle.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)
