// Package store provides a generic in-memory map whose entries expire.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLStore is a concurrency-safe map with per-entry expiry. Expired entries are
// invisible to readers immediately and reclaimed by a background sweep.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]entry[V]
	now     func() time.Time
	onEvict func(key K, value V)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a TTLStore.
type Option[K comparable, V any] func(*TTLStore[K, V])

// WithClock replaces time.Now, for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(s *TTLStore[K, V]) { s.now = now }
}

// WithEvict registers a callback run (outside the lock) for entries removed by the sweep.
func WithEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(s *TTLStore[K, V]) { s.onEvict = fn }
}

// New starts a store that sweeps every sweepInterval. A zero interval disables
// the sweep; expired entries are then only dropped on overwrite or Delete.
func New[K comparable, V any](sweepInterval time.Duration, opts ...Option[K, V]) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:  make(map[K]entry[V]),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Set stores value for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns a live value.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds a live value.
func (s *TTLStore[K, V]) Has(key K) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key, reporting whether it was present.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Len counts live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.items {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Close stops the sweep. Safe to call more than once.
func (s *TTLStore[K, V]) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *TTLStore[K, V]) expired(e entry[V]) bool {
	return s.now().After(e.expiresAt)
}

func (s *TTLStore[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep drops expired entries now and returns how many were removed.
func (s *TTLStore[K, V]) Sweep() int {
	type evicted struct {
		key   K
		value V
	}

	s.mu.Lock()
	var gone []evicted
	for k, e := range s.items {
		if s.expired(e) {
			gone = append(gone, evicted{k, e.value})
			delete(s.items, k)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, g := range gone {
			onEvict(g.key, g.value)
		}
	}
	return len(gone)
}
