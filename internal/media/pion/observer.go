package pion

import (
	"context"
	"sync"
	"time"

	"github.com/kvey/Huddle/internal/domain"
	"github.com/kvey/Huddle/internal/media"
)

const (
	defaultLevelThreshold = -60
	defaultLevelInterval  = 800
)

// Observer aggregates the audio levels reported by producer read loops and
// emits the loudest speaker once per interval. Levels at or below the
// threshold never surface as volumes; an interval with no report above the
// threshold emits a single silence transition.
type Observer struct {
	threshold int
	interval  time.Duration

	mu        sync.Mutex
	tracked   map[domain.ProducerID]struct{}
	loudestID domain.ProducerID
	loudest   int
	hasReport bool
	speaking  bool
	onVolumes func([]media.VolumeSample)
	onSilence func()
	closed    bool

	cancel context.CancelFunc
}

func newObserver(ctx context.Context, opts media.RouterOptions) *Observer {
	threshold := opts.AudioLevelThreshold
	if threshold == 0 {
		threshold = defaultLevelThreshold
	}
	interval := opts.AudioLevelInterval
	if interval <= 0 {
		interval = defaultLevelInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	o := &Observer{
		threshold: threshold,
		interval:  time.Duration(interval) * time.Millisecond,
		tracked:   make(map[domain.ProducerID]struct{}),
		cancel:    cancel,
	}
	go o.loop(ctx)
	return o
}

func (o *Observer) AddProducer(id domain.ProducerID) error {
	o.mu.Lock()
	o.tracked[id] = struct{}{}
	o.mu.Unlock()
	return nil
}

func (o *Observer) RemoveProducer(id domain.ProducerID) {
	o.mu.Lock()
	delete(o.tracked, id)
	if o.loudestID == id {
		o.hasReport = false
	}
	o.mu.Unlock()
}

func (o *Observer) OnVolumes(fn func(samples []media.VolumeSample)) {
	o.mu.Lock()
	o.onVolumes = fn
	o.mu.Unlock()
}

func (o *Observer) OnSilence(fn func()) {
	o.mu.Lock()
	o.onSilence = fn
	o.mu.Unlock()
}

// report records one level observation. Called from producer read loops.
func (o *Observer) report(id domain.ProducerID, level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, ok := o.tracked[id]; !ok {
		return
	}
	if level <= o.threshold {
		return
	}
	if !o.hasReport || level > o.loudest {
		o.loudestID = id
		o.loudest = level
		o.hasReport = true
	}
}

func (o *Observer) loop(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.flush()
		}
	}
}

func (o *Observer) flush() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	var samples []media.VolumeSample
	var silence bool
	if o.hasReport {
		samples = []media.VolumeSample{{ProducerID: o.loudestID, Volume: o.loudest}}
		o.hasReport = false
		o.speaking = true
	} else if o.speaking {
		o.speaking = false
		silence = true
	}
	volumes := o.onVolumes
	silenced := o.onSilence
	o.mu.Unlock()

	if samples != nil && volumes != nil {
		volumes(samples)
	}
	if silence && silenced != nil {
		silenced()
	}
}

func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	return nil
}
