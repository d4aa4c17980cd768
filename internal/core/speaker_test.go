package core

import (
	"testing"

	"github.com/kvey/Huddle/internal/media"
	"github.com/kvey/Huddle/internal/media/mediatest"
)

// speakers decodes the activeSpeaker frames a conn has seen, as
// (peerId-or-nil, volume) pairs.
func speakers(t *testing.T, conn *fakeConn) []map[string]any {
	t.Helper()
	return conn.notices(t, "activeSpeaker")
}

func TestActiveSpeakerTransitions(t *testing.T) {
	room := newTestRoom(t)
	connA, _ := admit(t, room, "alice")
	admit(t, room, "bob")
	prodA := produceAudio(t, room, "alice")
	prodB := produceAudio(t, room, "bob")
	obs := room.observer.(*mediatest.Observer)

	// Alice speaks above the -60 threshold.
	obs.EmitVolumes(media.VolumeSample{ProducerID: prodA, Volume: -40})
	got := speakers(t, connA)
	if len(got) != 1 || got[0]["peerId"] != "alice" || got[0]["volume"] != float64(-40) {
		t.Fatalf("after alice speaks, notices = %+v", got)
	}

	// Same speaker again: suppressed.
	obs.EmitVolumes(media.VolumeSample{ProducerID: prodA, Volume: -35})
	if got = speakers(t, connA); len(got) != 1 {
		t.Fatalf("repeated speaker not suppressed, notices = %+v", got)
	}

	// Bob below the threshold: suppressed, alice keeps the floor.
	obs.EmitVolumes(media.VolumeSample{ProducerID: prodB, Volume: -70})
	if got = speakers(t, connA); len(got) != 1 {
		t.Fatalf("sub-threshold sample emitted, notices = %+v", got)
	}

	// Bob above the threshold: the speaker flips.
	obs.EmitVolumes(media.VolumeSample{ProducerID: prodB, Volume: -50})
	got = speakers(t, connA)
	if len(got) != 2 || got[1]["peerId"] != "bob" {
		t.Fatalf("after bob speaks, notices = %+v", got)
	}
}

func TestSilenceClearsSpeaker(t *testing.T) {
	room := newTestRoom(t)
	connA, _ := admit(t, room, "alice")
	prodA := produceAudio(t, room, "alice")
	obs := room.observer.(*mediatest.Observer)

	obs.EmitVolumes(media.VolumeSample{ProducerID: prodA, Volume: -40})
	obs.EmitSilence()

	got := speakers(t, connA)
	if len(got) != 2 {
		t.Fatalf("notices = %+v, want speak then silence", got)
	}
	if got[1]["peerId"] != nil || got[1]["volume"] != float64(NoSpeakerVolume) {
		t.Errorf("silence notice = %+v, want null peer at %d", got[1], NoSpeakerVolume)
	}

	// After silence the same speaker is a fresh transition.
	obs.EmitVolumes(media.VolumeSample{ProducerID: prodA, Volume: -45})
	if got = speakers(t, connA); len(got) != 3 || got[2]["peerId"] != "alice" {
		t.Fatalf("after re-speak, notices = %+v", got)
	}
}

func TestVolumeForUnknownProducerIgnored(t *testing.T) {
	room := newTestRoom(t)
	connA, _ := admit(t, room, "alice")
	obs := room.observer.(*mediatest.Observer)

	obs.EmitVolumes(media.VolumeSample{ProducerID: "ghost", Volume: -10})
	if got := speakers(t, connA); len(got) != 0 {
		t.Errorf("notices = %+v, want none", got)
	}
}

func TestLeaverClearsActiveSpeaker(t *testing.T) {
	room := newTestRoom(t)
	admit(t, room, "alice")
	connB, _ := admit(t, room, "bob")
	prodA := produceAudio(t, room, "alice")
	obs := room.observer.(*mediatest.Observer)

	obs.EmitVolumes(media.VolumeSample{ProducerID: prodA, Volume: -40})
	room.RemovePeer("alice")
	if room.lastSpeakerID != "" {
		t.Errorf("lastSpeakerID = %q after the speaker left", room.lastSpeakerID)
	}
	if got := speakers(t, connB); len(got) != 1 {
		t.Errorf("bob's notices = %+v", got)
	}
}
