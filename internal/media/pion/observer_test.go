package pion

import (
	"context"
	"testing"
	"time"

	"github.com/kvey/Huddle/internal/media"
)

func newTestObserver(t *testing.T) (*Observer, chan []media.VolumeSample, chan struct{}) {
	t.Helper()
	obs := newObserver(context.Background(), media.RouterOptions{
		AudioLevelThreshold: -60,
		AudioLevelInterval:  50,
	})
	t.Cleanup(func() { _ = obs.Close() })

	volumes := make(chan []media.VolumeSample, 16)
	silences := make(chan struct{}, 16)
	obs.OnVolumes(func(s []media.VolumeSample) { volumes <- s })
	obs.OnSilence(func() { silences <- struct{}{} })
	return obs, volumes, silences
}

func waitVolumes(t *testing.T, ch chan []media.VolumeSample) []media.VolumeSample {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no volumes emitted")
		return nil
	}
}

func TestObserverEmitsLoudestTrackedProducer(t *testing.T) {
	obs, volumes, _ := newTestObserver(t)
	if err := obs.AddProducer("p1"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}
	if err := obs.AddProducer("p2"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	obs.report("p1", -50)
	obs.report("p2", -30)
	obs.report("p1", -45)

	got := waitVolumes(t, volumes)
	if len(got) != 1 || got[0].ProducerID != "p2" || got[0].Volume != -30 {
		t.Errorf("samples = %+v, want p2 at -30", got)
	}
}

func TestObserverIgnoresUntrackedAndQuiet(t *testing.T) {
	obs, volumes, _ := newTestObserver(t)
	if err := obs.AddProducer("p1"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	obs.report("stranger", -10) // never added
	obs.report("p1", -80)       // below threshold

	select {
	case got := <-volumes:
		t.Errorf("unexpected volumes %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserverSilenceTransition(t *testing.T) {
	obs, volumes, silences := newTestObserver(t)
	if err := obs.AddProducer("p1"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	obs.report("p1", -40)
	waitVolumes(t, volumes)

	// No further reports: exactly one silence transition follows.
	select {
	case <-silences:
	case <-time.After(time.Second):
		t.Fatal("no silence emitted after reports stopped")
	}
	select {
	case <-silences:
		t.Error("silence emitted twice for one transition")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserverStopsAfterClose(t *testing.T) {
	obs, volumes, _ := newTestObserver(t)
	if err := obs.AddProducer("p1"); err != nil {
		t.Fatalf("AddProducer: %v", err)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	obs.report("p1", -20)
	select {
	case got := <-volumes:
		t.Errorf("volumes after close: %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
}
