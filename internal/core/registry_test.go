package core

import (
	"sync"
	"testing"
)

func TestGetOrCreateIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.GetOrCreate("room-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := reg.GetOrCreate("room-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Error("same id produced two room instances")
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
}

func TestConcurrentGetOrCreateSingleInstance(t *testing.T) {
	reg := newTestRegistry(t)

	const n = 32
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := reg.GetOrCreate("contended")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatal("concurrent creations produced distinct rooms")
		}
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
}

func TestGetUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t)
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get returned a room that was never created")
	}
}
