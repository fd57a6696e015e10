package service

import (
	"sort"
	"sync"
)

// lockSet hands out one mutex per key. Keys are locked in sorted order so
// two callers asking for overlapping sets cannot deadlock.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*keyLock)}
}

// Lock blocks until every key is held and returns the function that
// releases them.
func (s *lockSet) Lock(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			uniq = append(uniq, k)
		}
	}

	held := make([]*keyLock, 0, len(uniq))
	for _, k := range uniq {
		l := s.acquire(k)
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			s.release(uniq[i])
		}
	}
}

func (s *lockSet) acquire(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *lockSet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *lockSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
