package pion

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
)

// Consumer is one outgoing track: the sender side of a producer subscription
// on a peer's recv transport.
type Consumer struct {
	id        domain.ConsumerID
	transport *Transport
	sender    *webrtc.RTPSender
	track     *webrtc.TrackLocalStaticRTP
	src       *Producer

	cbMu             sync.Mutex
	onTransportClose func()
	onProducerClose  func()

	closeOnce sync.Once
}

func newConsumer(t *Transport, sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP, src *Producer) *Consumer {
	return &Consumer{
		id:        domain.ConsumerID(uuid.NewString()),
		transport: t,
		sender:    sender,
		track:     track,
		src:       src,
	}
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

// RtpParameters describes the outgoing encoding the client should expect.
func (c *Consumer) RtpParameters() json.RawMessage {
	params := c.sender.GetParameters()
	b, err := json.Marshal(params)
	if err != nil {
		log.Error().Err(err).Str("module", "media.pion").
			Str("consumer", string(c.id)).Msg("marshal rtp parameters")
		return json.RawMessage("null")
	}
	return b
}

func (c *Consumer) OnTransportClose(fn func()) {
	c.cbMu.Lock()
	c.onTransportClose = fn
	c.cbMu.Unlock()
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.cbMu.Lock()
	c.onProducerClose = fn
	c.cbMu.Unlock()
}

func (c *Consumer) fireTransportClose() {
	c.cbMu.Lock()
	fn := c.onTransportClose
	c.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) fireProducerClose() {
	c.stop()
	c.transport.removeConsumer(c.id)
	c.cbMu.Lock()
	fn := c.onProducerClose
	c.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) Close() error {
	c.transport.removeConsumer(c.id)
	c.stop()
	return nil
}

func (c *Consumer) stop() {
	c.closeOnce.Do(func() {
		c.src.unsubscribe(c.id)
		if err := c.sender.Stop(); err != nil {
			log.Error().Err(err).Str("module", "media.pion").
				Str("consumer", string(c.id)).Msg("sender stop")
		}
	})
}
