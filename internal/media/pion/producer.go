package pion

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
)

var errProducerGone = errors.New("producer is gone")

// audioLevelExtID is the RTP header extension id the client negotiates for
// urn:ietf:params:rtp-hdrext:ssrc-audio-level.
const audioLevelExtID = 1

const (
	subLive int32 = iota
	subStopped
)

// subscription links one consumer's outgoing track to a producer. The state
// flag is flipped without the producer lock so the read loop can skip dead
// entries cheaply and sweep them on the next pass.
type subscription struct {
	consumer *Consumer
	state    atomic.Int32
}

// Producer receives one client track and fans its packets out to the
// subscribed consumers. A single goroutine owns the read side; subscribers
// come and go under the mutex.
type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	transport *Transport
	receiver  *webrtc.RTPReceiver

	paused atomic.Bool

	mu   sync.RWMutex
	subs map[domain.ConsumerID]*subscription

	cbMu             sync.Mutex
	onTransportClose func()

	closeOnce sync.Once
	done      chan struct{}
}

func newProducer(t *Transport, receiver *webrtc.RTPReceiver, kind domain.MediaKind) *Producer {
	return &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		transport: t,
		receiver:  receiver,
		subs:      make(map[domain.ConsumerID]*subscription),
		done:      make(chan struct{}),
	}
}

func (p *Producer) ID() domain.ProducerID { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Pause() error {
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume() error {
	p.paused.Store(false)
	return nil
}

func (p *Producer) OnTransportClose(fn func()) {
	p.cbMu.Lock()
	p.onTransportClose = fn
	p.cbMu.Unlock()
}

func (p *Producer) fireTransportClose() {
	p.cbMu.Lock()
	fn := p.onTransportClose
	p.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Producer) Close() error {
	p.transport.removeProducer(p.id)
	p.stop()
	return nil
}

// stop tears the producer down without firing the transport-close callback.
func (p *Producer) stop() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.transport.router.unregisterProducer(p.id)
		if err := p.receiver.Stop(); err != nil {
			log.Error().Err(err).Str("module", "media.pion").
				Str("producer", string(p.id)).Msg("receiver stop")
		}

		p.mu.Lock()
		subs := p.subs
		p.subs = make(map[domain.ConsumerID]*subscription)
		p.mu.Unlock()

		for _, s := range subs {
			s.state.Store(subStopped)
			s.consumer.fireProducerClose()
		}
	})
}

func (p *Producer) codec() webrtc.RTPCodecCapability {
	if p.kind == domain.KindVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (p *Producer) subscribe(c *Consumer) {
	s := &subscription{consumer: c}
	p.mu.Lock()
	p.subs[c.id] = s
	p.mu.Unlock()
}

func (p *Producer) unsubscribe(id domain.ConsumerID) {
	p.mu.Lock()
	if s, ok := p.subs[id]; ok {
		s.state.Store(subStopped)
		delete(p.subs, id)
	}
	p.mu.Unlock()
}

// loop drains the remote track until the receiver stops. Audio packets feed
// the router's level observer before forwarding.
func (p *Producer) loop() {
	track := p.receiver.Track()
	if track == nil {
		return
	}
	for {
		select {
		case <-p.done:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "media.pion").
					Str("producer", string(p.id)).Msg("read rtp")
			}
			return
		}

		if p.kind == domain.KindAudio {
			p.reportLevel(pkt)
		}
		if p.paused.Load() {
			continue
		}
		p.forward(pkt)
	}
}

func (p *Producer) reportLevel(pkt *rtp.Packet) {
	payload := pkt.GetExtension(audioLevelExtID)
	if payload == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(payload); err != nil {
		return
	}
	// ext.Level is dBov below full scale, 0..127.
	p.transport.router.reportAudioLevel(p.id, -int(ext.Level))
}

func (p *Producer) forward(pkt *rtp.Packet) {
	p.mu.RLock()
	var dead []domain.ConsumerID
	for id, s := range p.subs {
		if s.state.Load() != subLive {
			dead = append(dead, id)
			continue
		}
		if err := s.consumer.track.WriteRTP(pkt); err != nil {
			s.state.Store(subStopped)
			dead = append(dead, id)
		}
	}
	p.mu.RUnlock()

	if len(dead) == 0 {
		return
	}
	p.mu.Lock()
	for _, id := range dead {
		delete(p.subs, id)
	}
	p.mu.Unlock()
}
