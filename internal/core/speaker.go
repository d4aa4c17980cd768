package core

import (
	"github.com/kvey/Huddle/internal/media"
)

// SpeakerDetector turns the observer's volume and silence events into
// activeSpeaker notifications. The observer invokes the handlers from engine
// goroutines; each handler takes the room lock itself, so speaker changes
// are serialized with every other room operation.
type SpeakerDetector struct {
	room *Room
}

func attachSpeakerDetector(room *Room, observer media.AudioLevelObserver) *SpeakerDetector {
	d := &SpeakerDetector{room: room}
	observer.OnVolumes(d.HandleVolumes)
	observer.OnSilence(d.HandleSilence)
	return d
}

// HandleVolumes considers the loudest sample only (the observer reports at
// most one entry). A sample for an unknown producer is ignored. An emission
// happens on a genuine transition: a new speaker above the room threshold.
// Repeated samples for the current speaker are suppressed, as are
// sub-threshold samples for anyone else, so a sustained single speaker does
// not cause a notification storm.
func (d *SpeakerDetector) HandleVolumes(samples []media.VolumeSample) {
	if len(samples) == 0 {
		return
	}
	d.room.handleVolume(samples[0])
}

// HandleSilence clears the speaker and broadcasts the null-speaker sentinel.
func (d *SpeakerDetector) HandleSilence() {
	d.room.handleSilence()
}

func (r *Room) handleVolume(s media.VolumeSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	owner, _, ok := r.ownerOfProducerLocked(s.ProducerID)
	if !ok {
		return
	}
	if owner.id == r.lastSpeakerID {
		return
	}
	if s.Volume <= r.opts.SpeakingThreshold {
		return
	}
	r.lastSpeakerID = owner.id
	speakerID := owner.id
	r.fanoutAll(ActiveSpeakerNotice{Type: "activeSpeaker", PeerID: &speakerID, Volume: s.Volume})
}

func (r *Room) handleSilence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.lastSpeakerID = ""
	r.fanoutAll(ActiveSpeakerNotice{Type: "activeSpeaker", PeerID: nil, Volume: NoSpeakerVolume})
}
