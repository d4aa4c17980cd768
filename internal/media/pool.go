package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// WorkerPool owns a fixed set of engine workers and hands them out
// round-robin. Assignments are permanent: a room keeps its worker until the
// room dies, so the pool never rebalances.
type WorkerPool struct {
	mu      sync.Mutex
	workers []Worker
	next    int
}

type PoolOptions struct {
	Size        int
	RTCMinPort  int
	RTCMaxPort  int
	AnnouncedIP string
}

// NewWorkerPool spins up opts.Size workers, splitting the UDP port range
// evenly between them. onDied is the process-fatal hook; a dead worker means
// orphaned rooms, so the policy is restart-the-world.
func NewWorkerPool(ctx context.Context, engine Engine, opts PoolOptions, onDied func(workerID string, err error)) (*WorkerPool, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", opts.Size)
	}
	span := (opts.RTCMaxPort - opts.RTCMinPort + 1) / opts.Size

	p := &WorkerPool{workers: make([]Worker, 0, opts.Size)}
	for i := 0; i < opts.Size; i++ {
		min := opts.RTCMinPort + i*span
		max := min + span - 1
		if i == opts.Size-1 {
			max = opts.RTCMaxPort
		}
		w, err := engine.NewWorker(ctx, WorkerOptions{
			RTCMinPort:  min,
			RTCMaxPort:  max,
			AnnouncedIP: opts.AnnouncedIP,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create worker %d: %w", i, err)
		}
		id := w.ID()
		w.OnDied(func(err error) {
			onDied(id, err)
		})
		p.workers = append(p.workers, w)
		log.Info().Str("module", "media.pool").Str("worker", id).Int("rtc_min", min).Int("rtc_max", max).Msg("worker started")
	}
	return p, nil
}

// Assign returns the next worker round-robin.
func (p *WorkerPool) Assign() Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return w
}

func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close shuts every worker down. Called after all rooms are drained so no
// live router loses its worker.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("module", "media.pool").Str("worker", w.ID()).Msg("worker close")
		}
	}
	p.workers = p.workers[:0]
}
