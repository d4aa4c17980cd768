package core

import "github.com/kvey/Huddle/internal/domain"

// Frame is an encoded signaling message.
type Frame []byte

// SessionID identifies one socket connection for the whole of its lifetime.
type SessionID string

// SignalConn abstracts the transport endpoint a peer is reached on.
// Owned by the adapter; the adapter must Close() it. Delivery is
// best-effort: TrySend may fail under backpressure and the frame is lost.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}

// PeerBinder maintains the process-wide socket->peer and peer->room indices.
// Room calls it inside the room critical section so index updates are atomic
// with peer admission and removal.
type PeerBinder interface {
	BindPeer(sid SessionID, peerID domain.PeerID, roomID domain.RoomID)
	UnbindPeer(sid SessionID, peerID domain.PeerID)
}
