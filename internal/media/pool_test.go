package media_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kvey/Huddle/internal/media"
	"github.com/kvey/Huddle/internal/media/mediatest"
)

func newPool(t *testing.T, engine *mediatest.Engine, size int, onDied func(string, error)) *media.WorkerPool {
	t.Helper()
	if onDied == nil {
		onDied = func(string, error) {}
	}
	pool, err := media.NewWorkerPool(context.Background(), engine, media.PoolOptions{
		Size:       size,
		RTCMinPort: 40000,
		RTCMaxPort: 49999,
	}, onDied)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	return pool
}

func TestAssignRoundRobin(t *testing.T) {
	engine := mediatest.NewEngine()
	pool := newPool(t, engine, 3, nil)
	defer pool.Close()

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		seen[pool.Assign().ID()]++
	}
	if len(seen) != 3 {
		t.Fatalf("assignments hit %d workers, want 3", len(seen))
	}
	for id, n := range seen {
		if n != 2 {
			t.Errorf("worker %s assigned %d times, want 2", id, n)
		}
	}
}

func TestPortRangeSplit(t *testing.T) {
	engine := mediatest.NewEngine()
	pool := newPool(t, engine, 4, nil)
	defer pool.Close()

	prevMax := 40000 - 1
	for i, w := range engine.Workers {
		opts := w.Opts()
		if opts.RTCMinPort != prevMax+1 {
			t.Errorf("worker %d min port = %d, want %d", i, opts.RTCMinPort, prevMax+1)
		}
		if opts.RTCMaxPort < opts.RTCMinPort {
			t.Errorf("worker %d has empty range %d..%d", i, opts.RTCMinPort, opts.RTCMaxPort)
		}
		prevMax = opts.RTCMaxPort
	}
	if prevMax != 49999 {
		t.Errorf("last worker max port = %d, want 49999", prevMax)
	}
}

func TestInvalidPoolSize(t *testing.T) {
	_, err := media.NewWorkerPool(context.Background(), mediatest.NewEngine(), media.PoolOptions{Size: 0}, func(string, error) {})
	if err == nil {
		t.Fatal("zero-size pool accepted")
	}
}

func TestOnDiedHook(t *testing.T) {
	engine := mediatest.NewEngine()

	var mu sync.Mutex
	var gotID string
	var gotErr error
	pool := newPool(t, engine, 2, func(id string, err error) {
		mu.Lock()
		gotID, gotErr = id, err
		mu.Unlock()
	})
	defer pool.Close()

	boom := errors.New("segfault")
	engine.Workers[1].Die(boom)

	mu.Lock()
	defer mu.Unlock()
	if gotID != engine.Workers[1].ID() {
		t.Errorf("died hook got worker %q, want %q", gotID, engine.Workers[1].ID())
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("died hook got err %v, want %v", gotErr, boom)
	}
}

func TestCloseShutsDownWorkers(t *testing.T) {
	engine := mediatest.NewEngine()
	pool := newPool(t, engine, 2, nil)

	pool.Close()
	if pool.Size() != 0 {
		t.Errorf("Size after close = %d", pool.Size())
	}
	for i, w := range engine.Workers {
		if !w.Closed() {
			t.Errorf("worker %d not closed", i)
		}
	}
}
