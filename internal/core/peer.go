package core

import (
	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

// Peer is one connected participant. All fields are guarded by the owning
// Room's lock; nothing outside core touches them directly.
type Peer struct {
	id          domain.PeerID
	displayName string
	sid         SessionID
	conn        SignalConn
	state       domain.ConnectionState

	sendTransport media.Transport
	recvTransport media.Transport

	producers map[domain.ProducerID]*Producer
	// consumers is keyed by the source producer id: one consumer per
	// (peer, producer) pair.
	consumers map[domain.ProducerID]*Consumer
}

func newPeer(id domain.PeerID, displayName string, sid SessionID, conn SignalConn) *Peer {
	return &Peer{
		id:          id,
		displayName: displayName,
		sid:         sid,
		conn:        conn,
		state:       domain.StateConnecting,
		producers:   make(map[domain.ProducerID]*Producer),
		consumers:   make(map[domain.ProducerID]*Consumer),
	}
}

func (p *Peer) transport(dir domain.TransportDirection) media.Transport {
	if dir == domain.DirectionRecv {
		return p.recvTransport
	}
	return p.sendTransport
}

func (p *Peer) setTransport(dir domain.TransportDirection, t media.Transport) {
	if dir == domain.DirectionRecv {
		p.recvTransport = t
	} else {
		p.sendTransport = t
	}
}

// Producer is a peer's published media source.
type Producer struct {
	ID     domain.ProducerID
	Source domain.ProducerSource
	Kind   domain.MediaKind
	Paused bool
	// Muted is the application-level mute flag, distinct from Paused.
	Muted  bool
	engine media.Producer
}

// Consumer is a peer's subscription to a remote producer.
type Consumer struct {
	ID domain.ConsumerID
	// PeerID owns the source producer.
	PeerID     domain.PeerID
	ProducerID domain.ProducerID
	engine     media.Consumer
}

// PeerInfo is the read-only view returned to joiners.
type PeerInfo struct {
	ID              domain.PeerID          `json:"id"`
	DisplayName     string                 `json:"displayName"`
	ConnectionState domain.ConnectionState `json:"connectionState"`
}

// ProducerInfo describes an existing producer to a joiner.
type ProducerInfo struct {
	ID          domain.ProducerID     `json:"id"`
	PeerID      domain.PeerID         `json:"peerId"`
	Kind        domain.MediaKind      `json:"kind"`
	Source      domain.ProducerSource `json:"source"`
	DisplayName string                `json:"displayName"`
	Muted       bool                  `json:"muted"`
}
