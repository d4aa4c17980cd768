package app

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/media"
)

// Lifecycle ties socket teardown, room draining and worker shutdown
// together in the one order that never closes a worker under a live router:
// drain peers, then routers (done by the last peer's removal), then workers.
type Lifecycle struct {
	Sessions *Sessions
	Rooms    *core.Registry
	Pool     *media.WorkerPool

	// DeathGrace is how long in-flight cleanup gets after a worker dies
	// before the process exits for an external supervisor to restart.
	DeathGrace time.Duration
	// exit is swappable for tests.
	exit func(code int)
}

func NewLifecycle(sessions *Sessions, rooms *core.Registry, pool *media.WorkerPool, deathGrace time.Duration) *Lifecycle {
	return &Lifecycle{
		Sessions:   sessions,
		Rooms:      rooms,
		Pool:       pool,
		DeathGrace: deathGrace,
		exit:       os.Exit,
	}
}

// OnSocketClose handles a disconnect. A pending join is simply discarded;
// a joined peer goes through the full removal path, which also tears the
// room down if this was the last peer.
func (l *Lifecycle) OnSocketClose(sid core.SessionID) {
	if l.Sessions.ClearPending(sid) {
		log.Info().Str("module", "app.lifecycle").Str("sid", string(sid)).Msg("discarded pending join")
		return
	}
	peerID, roomID, ok := l.Sessions.Resolve(sid)
	if !ok {
		return
	}
	room, ok := l.Rooms.Get(roomID)
	if !ok {
		// Room already torn down; the index entry is stale, drop it.
		l.Sessions.UnbindPeer(sid, peerID)
		return
	}
	room.RemovePeer(peerID)
}

// OnWorkerDied is the fatal hook handed to the worker pool. Room->worker
// pinning means a dead worker leaves orphaned rooms, so the only sane policy
// is to log, give in-flight cleanup a grace period, and let the supervisor
// restart the whole process.
func (l *Lifecycle) OnWorkerDied(workerID string, err error) {
	log.Error().Err(err).Str("module", "app.lifecycle").Str("worker", workerID).Msg("media worker died, terminating")
	time.Sleep(l.DeathGrace)
	l.exit(1)
}

// Shutdown drains every room through the regular removal path, then closes
// the workers.
func (l *Lifecycle) Shutdown() {
	rooms := l.Rooms.Snapshot()
	log.Info().Str("module", "app.lifecycle").Int("rooms", len(rooms)).Msg("draining rooms")
	for _, room := range rooms {
		room.Drain()
	}
	l.Pool.Close()
	log.Info().Str("module", "app.lifecycle").Msg("shutdown complete")
}
