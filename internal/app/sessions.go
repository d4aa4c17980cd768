package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
)

// PendingJoin marks a socket between receipt of joinRoom and admission.
type PendingJoin struct {
	SID         core.SessionID
	RoomID      domain.RoomID
	PeerID      domain.PeerID
	DisplayName string
}

type sessionEntry struct {
	PeerID domain.PeerID
	RoomID domain.RoomID
}

// Sessions owns the process-wide socket->peer and peer->room indices plus
// the pending-join set. It implements core.PeerBinder: Room calls
// BindPeer/UnbindPeer inside its critical section, so index updates are
// atomic with peer admission and removal. A socket is in at most one of
// {pending, joined} at any time.
type Sessions struct {
	mu      sync.RWMutex
	peers   map[core.SessionID]*sessionEntry
	pending map[core.SessionID]*PendingJoin
}

func NewSessions() *Sessions {
	return &Sessions{
		peers:   make(map[core.SessionID]*sessionEntry),
		pending: make(map[core.SessionID]*PendingJoin),
	}
}

// BindPeer records the joined peer and drops any pending marker for the
// socket in the same step.
func (s *Sessions) BindPeer(sid core.SessionID, peerID domain.PeerID, roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sid)
	s.peers[sid] = &sessionEntry{PeerID: peerID, RoomID: roomID}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("peer", string(peerID)).Str("room", string(roomID)).Msg("bound peer")
}

func (s *Sessions) UnbindPeer(sid core.SessionID, peerID domain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.peers[sid]; ok && e.PeerID == peerID {
		delete(s.peers, sid)
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("peer", string(peerID)).Msg("unbound peer")
}

// SetPending marks the socket as mid-join. Fails if the socket already
// backs a joined peer.
func (s *Sessions) SetPending(pj *PendingJoin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, joined := s.peers[pj.SID]; joined {
		return core.Conflictf("Already joined a room")
	}
	s.pending[pj.SID] = pj
	return nil
}

// ClearPending removes the marker and reports whether one existed.
func (s *Sessions) ClearPending(sid core.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[sid]; !ok {
		return false
	}
	delete(s.pending, sid)
	return true
}

func (s *Sessions) IsPending(sid core.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[sid]
	return ok
}

// Resolve maps a socket to its joined peer and room.
func (s *Sessions) Resolve(sid core.SessionID) (domain.PeerID, domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[sid]
	if !ok {
		return "", "", false
	}
	return e.PeerID, e.RoomID, true
}
