// Package kv defines the counter store shared by the rate limiter, the lockout tracker
// and the token revocation list, with a process-local implementation.
//
// The in-memory Store is not shared between processes: running several API instances
// requires a shared backing (see storage/kv/redis).
package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Store is a key/value store of integer counters with per-key expiry.
type Store interface {
	// Get returns the value of key, or ErrNotFound if it is missing or expired.
	Get(ctx context.Context, key string) (int64, error)
	// Set stores value under key for ttl. A ttl <= 0 keeps the key until removed.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Increment adds 1 to key and returns the new value along with the key's remaining ttl.
	// A missing or expired key starts at 1 and expires after ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
	// Expire sets the remaining ttl of key. A ttl <= 0 removes the key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

var nowFunc = time.Now // mockable

type entry struct {
	value     int64
	expiresAt time.Time // zero: no expiry
	timer     *time.Timer
	gen       uint64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. Expiry is checked on every access;
// a timer per key evicts entries nobody reads again so memory stays bounded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	e := &entry{value: value}
	s.entries[key] = e
	s.schedule(key, e, ttl)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.entries[key] = e
		s.schedule(key, e, ttl)
	}
	e.value++

	var remaining time.Duration
	if !e.expiresAt.IsZero() {
		remaining = e.expiresAt.Sub(nowFunc())
	}
	return e.value, remaining, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		s.remove(key)
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	s.schedule(key, e, ttl)
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowFunc()
	var n int
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops all eviction timers and drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		s.remove(key)
	}
	s.closed = true
	return nil
}

// lookup returns the live entry for key, dropping it if it has expired. mu must be held.
func (s *MemoryStore) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(nowFunc()) {
		s.remove(key)
		return nil, false
	}
	return e, true
}

// remove deletes key and stops its timer. mu must be held.
func (s *MemoryStore) remove(key string) {
	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// schedule sets the expiry of e and arms its eviction timer. mu must be held.
func (s *MemoryStore) schedule(key string, e *entry, ttl time.Duration) {
	e.gen++
	e.timer = nil
	if ttl <= 0 {
		e.expiresAt = time.Time{}
		return
	}
	e.expiresAt = nowFunc().Add(ttl)
	if s.closed {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(ttl, func() { s.evict(key, e, gen) })
}

func (s *MemoryStore) evict(key string, e *entry, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the key may have been replaced or its ttl changed since the timer was armed
	if cur, ok := s.entries[key]; ok && cur == e && e.gen == gen {
		delete(s.entries, key)
	}
}
