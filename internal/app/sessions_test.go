package app

import (
	"testing"

	"github.com/kvey/Huddle/internal/core"
)

func TestPendingThenBind(t *testing.T) {
	s := NewSessions()
	pj := &PendingJoin{SID: "s1", RoomID: "r1", PeerID: "alice"}

	if err := s.SetPending(pj); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	if !s.IsPending("s1") {
		t.Fatal("socket not pending after SetPending")
	}

	s.BindPeer("s1", "alice", "r1")
	if s.IsPending("s1") {
		t.Error("pending marker survived BindPeer")
	}
	peerID, roomID, ok := s.Resolve("s1")
	if !ok || peerID != "alice" || roomID != "r1" {
		t.Errorf("Resolve = (%s, %s, %v)", peerID, roomID, ok)
	}
}

func TestSetPendingWhileJoined(t *testing.T) {
	s := NewSessions()
	s.BindPeer("s1", "alice", "r1")

	err := s.SetPending(&PendingJoin{SID: "s1", RoomID: "r2", PeerID: "alice"})
	if !core.IsKind(err, core.KindConflict) {
		t.Errorf("SetPending on joined socket err = %v, want conflict", err)
	}
}

func TestClearPending(t *testing.T) {
	s := NewSessions()
	if s.ClearPending("s1") {
		t.Error("ClearPending reported a marker that never existed")
	}
	if err := s.SetPending(&PendingJoin{SID: "s1"}); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	if !s.ClearPending("s1") {
		t.Error("ClearPending missed the marker")
	}
	if s.IsPending("s1") {
		t.Error("marker survived ClearPending")
	}
}

func TestUnbindPeerGuard(t *testing.T) {
	s := NewSessions()
	s.BindPeer("s1", "alice", "r1")

	// A mismatched peer id must not evict the current binding.
	s.UnbindPeer("s1", "bob")
	if _, _, ok := s.Resolve("s1"); !ok {
		t.Fatal("mismatched UnbindPeer removed the binding")
	}

	s.UnbindPeer("s1", "alice")
	if _, _, ok := s.Resolve("s1"); ok {
		t.Error("binding survived UnbindPeer")
	}
}
