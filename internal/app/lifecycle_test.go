package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
	"github.com/kvey/Huddle/internal/media/mediatest"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func newTestLifecycle(t *testing.T) (*Lifecycle, *core.Registry, *Sessions) {
	t.Helper()
	pool, err := media.NewWorkerPool(context.Background(), mediatest.NewEngine(), media.PoolOptions{
		Size:       1,
		RTCMinPort: 40000,
		RTCMaxPort: 40099,
	}, func(string, error) {})
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	t.Cleanup(pool.Close)

	sessions := NewSessions()
	rooms := core.NewRegistry(pool, sessions, core.DefaultRoomOptions())
	return NewLifecycle(sessions, rooms, pool, 0), rooms, sessions
}

func join(t *testing.T, rooms *core.Registry, sid core.SessionID, peerID string) *core.Room {
	t.Helper()
	room, err := rooms.GetOrCreate("r1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := room.AdmitPeer(sid, domain.PeerID(peerID), peerID, nopConn{}); err != nil {
		t.Fatalf("AdmitPeer: %v", err)
	}
	return room
}

func TestSocketCloseDiscardsPendingJoin(t *testing.T) {
	life, rooms, sessions := newTestLifecycle(t)
	if err := sessions.SetPending(&PendingJoin{SID: "s1", RoomID: "r1", PeerID: "alice"}); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	life.OnSocketClose("s1")
	if sessions.IsPending("s1") {
		t.Error("pending marker survived the disconnect")
	}
	if rooms.Count() != 0 {
		t.Errorf("rooms = %d, a pending join must not create one", rooms.Count())
	}
}

func TestSocketCloseRemovesJoinedPeer(t *testing.T) {
	life, rooms, sessions := newTestLifecycle(t)
	room := join(t, rooms, "s1", "alice")
	join(t, rooms, "s2", "bob")

	life.OnSocketClose("s1")
	if room.PeerCount() != 1 {
		t.Errorf("peers = %d, want 1 after alice's disconnect", room.PeerCount())
	}
	if _, _, ok := sessions.Resolve("s1"); ok {
		t.Error("alice's socket still resolves")
	}

	// Last peer out destroys the room.
	life.OnSocketClose("s2")
	if rooms.Count() != 0 {
		t.Errorf("rooms = %d after the last disconnect", rooms.Count())
	}
}

func TestSocketCloseDropsStaleIndexEntry(t *testing.T) {
	life, _, sessions := newTestLifecycle(t)
	// The index points at a room that no longer exists.
	sessions.BindPeer("s1", "alice", "gone")

	life.OnSocketClose("s1")
	if _, _, ok := sessions.Resolve("s1"); ok {
		t.Error("stale binding survived the disconnect")
	}
}

func TestWorkerDeathExitsProcess(t *testing.T) {
	life, _, _ := newTestLifecycle(t)
	life.DeathGrace = time.Millisecond

	var mu sync.Mutex
	code := -1
	life.exit = func(c int) {
		mu.Lock()
		code = c
		mu.Unlock()
	}

	life.OnWorkerDied("w1", errors.New("segfault"))
	mu.Lock()
	defer mu.Unlock()
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestShutdownDrainsRoomsThenPool(t *testing.T) {
	life, rooms, _ := newTestLifecycle(t)
	join(t, rooms, "s1", "alice")
	join(t, rooms, "s2", "bob")

	life.Shutdown()
	if rooms.Count() != 0 {
		t.Errorf("rooms after shutdown = %d", rooms.Count())
	}
	if life.Pool.Size() != 0 {
		t.Errorf("workers after shutdown = %d", life.Pool.Size())
	}
}
