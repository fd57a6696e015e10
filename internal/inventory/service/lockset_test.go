package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSet_SerializesSameKey(t *testing.T) {
	s := newLockSet()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("medicine_lot/1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, s.size(), "released keys are forgotten")
}

func TestLockSet_OverlappingSetsDoNotDeadlock(t *testing.T) {
	s := newLockSet()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				s.Lock("a", "b", "c")()
			}()
			go func() {
				defer wg.Done()
				s.Lock("c", "b", "a", "a")()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock set deadlocked")
	}
}

func TestLockSet_DistinctKeysDoNotBlock(t *testing.T) {
	s := newLockSet()
	unlock := s.Lock("x")
	defer unlock()

	acquired := make(chan struct{})
	go func() {
		s.Lock("y")()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("unrelated key blocked")
	}
}
