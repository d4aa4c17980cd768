// Package mediatest provides an in-memory media.Engine for tests. It hands
// out uuid-identified resources, records engine calls, and lets tests fire
// the observer and transport-close callbacks by hand.
package mediatest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

type Engine struct {
	mu      sync.Mutex
	Workers []*Worker

	// ProduceErr, when set, is returned by every Transport.Produce call.
	ProduceErr error
	// ConsumeErr, when set, is returned by every Transport.Consume call.
	ConsumeErr error
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) NewWorker(ctx context.Context, opts media.WorkerOptions) (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &Worker{engine: e, id: uuid.NewString(), opts: opts}
	e.Workers = append(e.Workers, w)
	return w, nil
}

type Worker struct {
	engine *Engine
	id     string
	opts   media.WorkerOptions

	mu     sync.Mutex
	died   func(error)
	closed bool
}

func (w *Worker) ID() string { return w.id }

// Opts exposes the options the worker was created with.
func (w *Worker) Opts() media.WorkerOptions { return w.opts }

func (w *Worker) NewRouter(opts media.RouterOptions) (media.Router, error) {
	return &Router{engine: w.engine, id: uuid.NewString()}, nil
}

func (w *Worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	w.died = fn
	w.mu.Unlock()
}

// Die simulates an unexpected worker death.
func (w *Worker) Die(err error) {
	w.mu.Lock()
	fn := w.died
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type Router struct {
	engine *Engine
	id     string

	mu     sync.Mutex
	closed bool
}

func (r *Router) RtpCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus"},{"kind":"video","mimeType":"video/VP8"}]}`)
}

func (r *Router) NewTransport(opts media.TransportOptions) (media.Transport, error) {
	return &Transport{engine: r.engine, id: uuid.NewString(), Opts: opts}, nil
}

func (r *Router) NewAudioLevelObserver() (media.AudioLevelObserver, error) {
	return &Observer{}, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Transport struct {
	engine *Engine
	id     string
	Opts   media.TransportOptions

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() media.TransportInfo {
	return media.TransportInfo{
		ID:             t.id,
		IceParameters:  json.RawMessage(`{"usernameFragment":"test","password":"test","iceLite":true}`),
		IceCandidates:  json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{"role":"auto","fingerprints":[]}`),
	}
}

func (t *Transport) Connect(dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Produce(opts media.ProduceOptions) (media.Producer, error) {
	t.engine.mu.Lock()
	err := t.engine.ProduceErr
	t.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p := &Producer{id: domain.ProducerID(uuid.NewString()), kind: opts.Kind, Opts: opts}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(opts media.ConsumeOptions) (media.Consumer, error) {
	t.engine.mu.Lock()
	err := t.engine.ConsumeErr
	t.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := &Consumer{id: domain.ConsumerID(uuid.NewString()), Opts: opts}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

// Producers returns the producers created on this transport, oldest first.
func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

// Consumers returns the consumers created on this transport, oldest first.
func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	producers := append([]*Producer(nil), t.producers...)
	consumers := append([]*Consumer(nil), t.consumers...)
	t.mu.Unlock()
	for _, p := range producers {
		p.FireTransportClose()
	}
	for _, c := range consumers {
		c.FireTransportClose()
	}
	return nil
}

type Producer struct {
	id   domain.ProducerID
	kind domain.MediaKind
	Opts media.ProduceOptions

	mu             sync.Mutex
	paused         bool
	closed         bool
	transportClose func()
}

func (p *Producer) ID() domain.ProducerID { return p.id }
func (p *Producer) Kind() domain.MediaKind {
	return p.kind
}

func (p *Producer) Pause() error {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *Producer) Resume() error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) OnTransportClose(fn func()) {
	p.mu.Lock()
	p.transportClose = fn
	p.mu.Unlock()
}

func (p *Producer) FireTransportClose() {
	p.mu.Lock()
	fn := p.transportClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *Producer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	id   domain.ConsumerID
	Opts media.ConsumeOptions

	mu             sync.Mutex
	closed         bool
	transportClose func()
	producerClose  func()
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

func (c *Consumer) RtpParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[],"encodings":[]}`)
}

func (c *Consumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	c.transportClose = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.producerClose = fn
	c.mu.Unlock()
}

func (c *Consumer) FireTransportClose() {
	c.mu.Lock()
	fn := c.transportClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) FireProducerClose() {
	c.mu.Lock()
	fn := c.producerClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Observer is a hand-driven audio level observer.
type Observer struct {
	mu        sync.Mutex
	producers map[domain.ProducerID]struct{}
	volumes   func([]media.VolumeSample)
	silence   func()
	closed    bool
}

func (o *Observer) AddProducer(id domain.ProducerID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.producers == nil {
		o.producers = make(map[domain.ProducerID]struct{})
	}
	o.producers[id] = struct{}{}
	return nil
}

func (o *Observer) RemoveProducer(id domain.ProducerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, id)
}

func (o *Observer) Tracks(id domain.ProducerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.producers[id]
	return ok
}

func (o *Observer) OnVolumes(fn func([]media.VolumeSample)) {
	o.mu.Lock()
	o.volumes = fn
	o.mu.Unlock()
}

func (o *Observer) OnSilence(fn func()) {
	o.mu.Lock()
	o.silence = fn
	o.mu.Unlock()
}

// EmitVolumes drives the volumes callback as the engine would.
func (o *Observer) EmitVolumes(samples ...media.VolumeSample) {
	o.mu.Lock()
	fn := o.volumes
	o.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

// EmitSilence drives the silence callback.
func (o *Observer) EmitSilence() {
	o.mu.Lock()
	fn := o.silence
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Observer) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *Observer) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
