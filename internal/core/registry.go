package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

// RoomOptions carries the per-room constants fixed at creation time.
type RoomOptions struct {
	// SpeakingThreshold in dBFS; samples at or below it never flip the
	// active speaker.
	SpeakingThreshold int
	// ObserverInterval in ms between audio level samples.
	ObserverInterval                int
	InitialAvailableOutgoingBitrate int
	SimulcastEncodings              []media.Encoding
}

// DefaultRoomOptions mirrors the router constants the service has always run
// with: -60 dBFS threshold, 800ms sampling, three simulcast layers.
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		SpeakingThreshold:               -60,
		ObserverInterval:                800,
		InitialAvailableOutgoingBitrate: 800000,
		SimulcastEncodings: []media.Encoding{
			{MaxBitrate: 100000},
			{MaxBitrate: 300000},
			{MaxBitrate: 900000},
		},
	}
}

// Registry maps room ids to live rooms. Creation runs under a single global
// lock so two concurrent joins for the same unknown id get one instance: the
// loser of the race receives the winner's room.
type Registry struct {
	pool   *media.WorkerPool
	binder PeerBinder
	opts   RoomOptions

	mu    sync.Mutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry(pool *media.WorkerPool, binder PeerBinder, opts RoomOptions) *Registry {
	return &Registry{
		pool:   pool,
		binder: binder,
		opts:   opts,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate is idempotent. The creation lock covers only the
// exists-or-create decision plus router/observer setup, never a join.
func (g *Registry) GetOrCreate(id domain.RoomID) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[id]; ok {
		return room, nil
	}

	worker := g.pool.Assign()
	router, err := worker.NewRouter(media.RouterOptions{
		AudioLevelThreshold: g.opts.SpeakingThreshold,
		AudioLevelInterval:  g.opts.ObserverInterval,
	})
	if err != nil {
		return nil, EngineErr("Failed to create router", err)
	}
	observer, err := router.NewAudioLevelObserver()
	if err != nil {
		if cerr := router.Close(); cerr != nil {
			log.Error().Err(cerr).Str("module", "core.registry").Str("room", string(id)).Msg("router close after observer failure")
		}
		return nil, EngineErr("Failed to create audio level observer", err)
	}

	room := newRoom(id, worker, router, observer, g, g.binder, g.opts)
	attachSpeakerDetector(room, observer)
	g.rooms[id] = room

	log.Info().Str("module", "core.registry").Str("room", string(id)).Str("worker", worker.ID()).Msg("room created")
	return room, nil
}

func (g *Registry) Get(id domain.RoomID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	return room, ok
}

// remove is called only from Room teardown, while that room's own lock is
// held. Lock order is always room.mu then g.mu, never the reverse.
func (g *Registry) remove(id domain.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, id)
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshot returns the current rooms; used by shutdown and /health.
func (g *Registry) Snapshot() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		out = append(out, room)
	}
	return out
}
