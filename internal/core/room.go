package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

// ErrRoomClosed is returned when an operation races with room teardown.
// The caller re-resolves the room; a join simply re-creates it.
var ErrRoomClosed = &Error{Kind: KindNotFound, Detail: "Room not found"}

// Room owns one router, one audio level observer and the peer set. Every
// operation that reads-then-writes peers, or mutates a peer's producer or
// consumer set and then notifies siblings, runs under r.mu for the whole of
// validation + mutation + notification. That makes each signaling operation
// atomic as seen by every other peer in the room.
type Room struct {
	id       domain.RoomID
	worker   media.Worker
	router   media.Router
	observer media.AudioLevelObserver
	opts     RoomOptions

	reg    *Registry
	binder PeerBinder

	mu            sync.Mutex
	peers         map[domain.PeerID]*Peer
	lastSpeakerID domain.PeerID
	closed        bool
}

func newRoom(id domain.RoomID, worker media.Worker, router media.Router, observer media.AudioLevelObserver, reg *Registry, binder PeerBinder, opts RoomOptions) *Room {
	return &Room{
		id:       id,
		worker:   worker,
		router:   router,
		observer: observer,
		opts:     opts,
		reg:      reg,
		binder:   binder,
		peers:    make(map[domain.PeerID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// RtpCapabilities needs no lock: the router is immutable for the room's life.
func (r *Room) RtpCapabilities() json.RawMessage {
	return r.router.RtpCapabilities()
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// JoinResult is the direct response payload for an admitted peer.
type JoinResult struct {
	RtpCapabilities json.RawMessage
	Peers           []PeerInfo
	Producers       []ProducerInfo
	IsCreator       bool
}

// AdmitPeer inserts the peer, binds the global indices, snapshots the room
// for the join response and tells the siblings, all in one critical section.
func (r *Room) AdmitPeer(sid SessionID, peerID domain.PeerID, displayName string, conn SignalConn) (*JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	if _, ok := r.peers[peerID]; ok {
		return nil, Conflictf("Peer already exists in room")
	}

	peer := newPeer(peerID, displayName, sid, conn)
	r.peers[peerID] = peer
	r.binder.BindPeer(sid, peerID, r.id)

	res := &JoinResult{
		RtpCapabilities: r.router.RtpCapabilities(),
		Peers:           make([]PeerInfo, 0, len(r.peers)-1),
		Producers:       make([]ProducerInfo, 0),
		IsCreator:       len(r.peers) == 1,
	}
	for _, other := range r.peers {
		if other.id == peerID {
			continue
		}
		res.Peers = append(res.Peers, PeerInfo{ID: other.id, DisplayName: other.displayName, ConnectionState: other.state})
		for _, prod := range other.producers {
			res.Producers = append(res.Producers, ProducerInfo{
				ID:          prod.ID,
				PeerID:      other.id,
				Kind:        prod.Kind,
				Source:      prod.Source,
				DisplayName: other.displayName,
				Muted:       prod.Muted,
			})
		}
	}

	r.fanout(peerID, PeerJoinedNotice{
		Type:        "peerJoined",
		PeerID:      peerID,
		DisplayName: displayName,
		IsCreator:   res.IsCreator,
	})
	peer.state = domain.StateConnected

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(peerID)).Int("peers", len(r.peers)).Msg("peer joined")
	return res, nil
}

// CreateTransport creates the peer's transport for the given direction.
// A repeated request replaces the old transport; the engine-side close of
// the old one prunes its producers and consumers through their callbacks.
func (r *Room) CreateTransport(peerID domain.PeerID, dir domain.TransportDirection) (*media.TransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return nil, NotFoundf("Peer not found")
	}
	t, err := r.router.NewTransport(media.TransportOptions{
		PeerID:                          peerID,
		Direction:                       dir,
		InitialAvailableOutgoingBitrate: r.opts.InitialAvailableOutgoingBitrate,
	})
	if err != nil {
		return nil, EngineErr("Failed to create transport", err)
	}
	if old := peer.transport(dir); old != nil {
		if cerr := old.Close(); cerr != nil {
			log.Error().Err(cerr).Str("module", "core.room").Str("peer", string(peerID)).Msg("close replaced transport")
		}
	}
	peer.setTransport(dir, t)
	info := t.Info()
	return &info, nil
}

func (r *Room) ConnectTransport(peerID domain.PeerID, dir domain.TransportDirection, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	t := peer.transport(dir)
	if t == nil {
		return NotFoundf("Transport not found")
	}
	if err := t.Connect(dtlsParameters); err != nil {
		return EngineErr("Failed to connect transport", err)
	}
	return nil
}

// Produce creates the engine producer, registers it on the peer and tells
// the siblings, all under the lock: no peer can observe a producer id that
// was broadcast but not yet registered, or vice versa.
func (r *Room) Produce(peerID domain.PeerID, kind domain.MediaKind, source domain.ProducerSource, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return "", NotFoundf("Peer not found")
	}
	if peer.sendTransport == nil {
		return "", NotFoundf("Peer or transport not found")
	}

	var encodings []media.Encoding
	if kind == domain.KindVideo && source != domain.SourceScreen {
		encodings = r.opts.SimulcastEncodings
	}

	ep, err := peer.sendTransport.Produce(media.ProduceOptions{
		Kind:          kind,
		RtpParameters: rtpParameters,
		Encodings:     encodings,
	})
	if err != nil {
		return "", EngineErr("Failed to create producer", err)
	}

	prod := &Producer{ID: ep.ID(), Source: source, Kind: kind, engine: ep}
	peer.producers[prod.ID] = prod

	if kind == domain.KindAudio {
		if aerr := r.observer.AddProducer(prod.ID); aerr != nil {
			// Speaker detection is best-effort signaling; the producer stays.
			log.Error().Err(aerr).Str("module", "core.room").Str("producer", string(prod.ID)).Msg("observer add producer")
		}
	}

	// Engine callbacks run as independent tasks and take the lock themselves.
	prodID := prod.ID
	ep.OnTransportClose(func() {
		go r.onProducerTransportClose(peerID, prodID)
	})

	r.fanout(peerID, NewProducerNotice{
		Type:        "newProducer",
		ID:          prod.ID,
		PeerID:      peerID,
		Kind:        kind,
		Source:      source,
		DisplayName: peer.displayName,
		Muted:       prod.Muted,
	})

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(peerID)).Str("producer", string(prod.ID)).Str("kind", string(kind)).Str("source", string(source)).Msg("producer created")
	return prod.ID, nil
}

func (r *Room) onProducerTransportClose(peerID domain.PeerID, producerID domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	peer, ok := r.peers[peerID]
	if !ok {
		return
	}
	prod, ok := peer.producers[producerID]
	if !ok {
		return
	}
	delete(peer.producers, producerID)
	if prod.Kind == domain.KindAudio {
		r.observer.RemoveProducer(producerID)
	}
	r.fanout(peerID, ProducerClosedNotice{Type: "producerClosed", PeerID: peerID, ProducerID: producerID})
}

// ConsumeResult is the direct response payload for a created consumer.
type ConsumeResult struct {
	ID            domain.ConsumerID
	ProducerID    domain.ProducerID
	Kind          domain.MediaKind
	RtpParameters json.RawMessage
	PeerID        domain.PeerID
	DisplayName   string
	Source        domain.ProducerSource
	Muted         bool
}

// Consume locates the producer's owner with a linear scan over the peer set;
// per-room peer counts are small enough that an index is not worth carrying.
func (r *Room) Consume(peerID domain.PeerID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*ConsumeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return nil, NotFoundf("Peer not found")
	}
	if peer.recvTransport == nil {
		return nil, NotFoundf("Peer or transport not found")
	}

	owner, prod, ok := r.ownerOfProducerLocked(producerID)
	if !ok {
		return nil, NotFoundf("Producer not found")
	}
	if _, dup := peer.consumers[producerID]; dup {
		return nil, Conflictf("Consumer already exists")
	}

	ec, err := peer.recvTransport.Consume(media.ConsumeOptions{
		ProducerID:      producerID,
		RtpCapabilities: rtpCapabilities,
	})
	if err != nil {
		return nil, EngineErr("Failed to create consumer", err)
	}

	cons := &Consumer{ID: ec.ID(), PeerID: owner.id, ProducerID: producerID, engine: ec}
	peer.consumers[producerID] = cons

	prune := func() {
		go r.onConsumerGone(peerID, producerID)
	}
	ec.OnTransportClose(prune)
	ec.OnProducerClose(prune)

	return &ConsumeResult{
		ID:            cons.ID,
		ProducerID:    producerID,
		Kind:          prod.Kind,
		RtpParameters: ec.RtpParameters(),
		PeerID:        owner.id,
		DisplayName:   owner.displayName,
		Source:        prod.Source,
		Muted:         prod.Muted,
	}, nil
}

func (r *Room) onConsumerGone(peerID domain.PeerID, producerID domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if peer, ok := r.peers[peerID]; ok {
		delete(peer.consumers, producerID)
	}
}

func (r *Room) SetProducerMuted(peerID domain.PeerID, producerID domain.ProducerID, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	prod, ok := peer.producers[producerID]
	if !ok {
		return NotFoundf("Producer not found")
	}
	prod.Muted = muted
	r.fanout(peerID, ProducerMutedNotice{Type: "producerMuted", PeerID: peerID, ProducerID: producerID, Muted: muted})
	return nil
}

func (r *Room) PauseProducer(peerID domain.PeerID, producerID domain.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	prod, ok := peer.producers[producerID]
	if !ok {
		return NotFoundf("Producer not found")
	}
	if err := prod.engine.Pause(); err != nil {
		return EngineErr("Failed to pause producer", err)
	}
	prod.Paused = true
	return nil
}

func (r *Room) ResumeProducer(peerID domain.PeerID, producerID domain.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	prod, ok := peer.producers[producerID]
	if !ok {
		return NotFoundf("Producer not found")
	}
	if err := prod.engine.Resume(); err != nil {
		return EngineErr("Failed to resume producer", err)
	}
	prod.Paused = false
	return nil
}

// CloseProducer is not idempotent at the signaling level: a second call for
// the same id reports NotFound, matching removal from the peer's map.
func (r *Room) CloseProducer(peerID domain.PeerID, producerID domain.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	prod, ok := peer.producers[producerID]
	if !ok {
		return NotFoundf("Producer not found")
	}
	if err := prod.engine.Close(); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("producer", string(producerID)).Msg("producer close")
	}
	delete(peer.producers, producerID)
	if prod.Kind == domain.KindAudio {
		r.observer.RemoveProducer(producerID)
	}
	r.fanout(peerID, ProducerClosedNotice{Type: "producerClosed", PeerID: peerID, ProducerID: producerID})
	return nil
}

// Chat fans the message out to every peer, the sender included; the sender's
// ack travels separately with the request id.
func (r *Room) Chat(peerID domain.PeerID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return NotFoundf("Peer not found")
	}
	r.fanoutAll(ChatNotice{
		Type:        "chat",
		Message:     message,
		PeerID:      peerID,
		DisplayName: peer.displayName,
		Timestamp:   time.Now().UnixMilli(),
	})
	return nil
}

// RemovePeer tears the peer down: every producer and consumer is closed
// best-effort, siblings are notified, and if the room is now empty the room
// itself is destroyed, all before the lock is released. No joiner can race
// into a room that is mid-teardown.
func (r *Room) RemovePeer(peerID domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePeerLocked(peerID)
}

func (r *Room) removePeerLocked(peerID domain.PeerID) {
	peer, ok := r.peers[peerID]
	if !ok {
		return
	}

	for id, prod := range peer.producers {
		if err := prod.engine.Close(); err != nil {
			log.Error().Err(err).Str("module", "core.room").Str("producer", string(id)).Msg("producer close")
		}
		if prod.Kind == domain.KindAudio {
			r.observer.RemoveProducer(id)
		}
		r.fanout(peerID, ProducerClosedNotice{Type: "producerClosed", PeerID: peerID, ProducerID: id})
		delete(peer.producers, id)
	}
	for id, cons := range peer.consumers {
		if err := cons.engine.Close(); err != nil {
			log.Error().Err(err).Str("module", "core.room").Str("consumer", string(cons.ID)).Msg("consumer close")
		}
		delete(peer.consumers, id)
	}
	if peer.sendTransport != nil {
		if err := peer.sendTransport.Close(); err != nil {
			log.Error().Err(err).Str("module", "core.room").Str("peer", string(peerID)).Msg("send transport close")
		}
	}
	if peer.recvTransport != nil {
		if err := peer.recvTransport.Close(); err != nil {
			log.Error().Err(err).Str("module", "core.room").Str("peer", string(peerID)).Msg("recv transport close")
		}
	}

	delete(r.peers, peerID)
	r.binder.UnbindPeer(peer.sid, peerID)
	peer.state = domain.StateDisconnected
	if r.lastSpeakerID == peerID {
		r.lastSpeakerID = ""
	}

	r.fanout(peerID, PeerLeftNotice{Type: "peerLeft", PeerID: peerID, DisplayName: peer.displayName})

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(peerID)).Int("peers", len(r.peers)).Msg("peer removed")

	if len(r.peers) == 0 {
		r.teardownLocked()
	}
}

func (r *Room) teardownLocked() {
	if r.closed {
		return
	}
	r.closed = true
	if err := r.observer.Close(); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).Msg("observer close")
	}
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).Msg("router close")
	}
	r.reg.remove(r.id)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room destroyed")
}

// Drain removes every peer through the regular removal path. Used on
// process shutdown; the last removal destroys the room.
func (r *Room) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.peers {
		r.removePeerLocked(id)
	}
}

func (r *Room) ownerOfProducerLocked(producerID domain.ProducerID) (*Peer, *Producer, bool) {
	for _, p := range r.peers {
		if prod, ok := p.producers[producerID]; ok {
			return p, prod, true
		}
	}
	return nil, nil, false
}

func (r *Room) fanout(except domain.PeerID, v any) {
	frame, ok := encodeNotice(v)
	if !ok {
		return
	}
	for id, p := range r.peers {
		if id == except {
			continue
		}
		if err := p.conn.TrySend(frame); err != nil {
			log.Debug().Err(err).Str("module", "core.room").Str("peer", string(id)).Msg("notice dropped")
		}
	}
}

func (r *Room) fanoutAll(v any) {
	r.fanout("", v)
}
