package pion

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

// Router is the per-room routing context. It indexes producers so consumers
// on other transports can attach to their forward loops, and funnels audio
// levels into the router's observer.
type Router struct {
	worker *Worker
	opts   media.RouterOptions

	mu         sync.Mutex
	transports []*Transport
	producers  map[domain.ProducerID]*Producer
	observer   *Observer
	closed     bool
}

func newRouter(w *Worker, opts media.RouterOptions) *Router {
	return &Router{
		worker:    w,
		opts:      opts,
		producers: make(map[domain.ProducerID]*Producer),
	}
}

func (r *Router) RtpCapabilities() json.RawMessage {
	return routerRtpCapabilities
}

func (r *Router) NewTransport(opts media.TransportOptions) (media.Transport, error) {
	t, err := newTransport(r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) NewAudioLevelObserver() (media.AudioLevelObserver, error) {
	obs := newObserver(r.worker.ctx, r.opts)
	r.mu.Lock()
	r.observer = obs
	r.mu.Unlock()
	return obs, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := append([]*Transport(nil), r.transports...)
	r.transports = nil
	obs := r.observer
	r.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("module", "media.pion").Msg("transport close")
		}
	}
	if obs != nil {
		_ = obs.Close()
	}
	return nil
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) unregisterProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

// reportAudioLevel feeds the observer, if one is attached and tracking the
// producer. Called from producer read loops; must never block.
func (r *Router) reportAudioLevel(id domain.ProducerID, level int) {
	r.mu.Lock()
	obs := r.observer
	r.mu.Unlock()
	if obs != nil {
		obs.report(id, level)
	}
}
