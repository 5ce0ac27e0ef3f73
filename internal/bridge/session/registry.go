package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/voicebridge/internal/bridge/store"
)

// DefaultTombstoneTTL is how long a removed call id is remembered.
const DefaultTombstoneTTL = 5 * time.Minute

// Registry indexes live sessions by call id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tombstones   *store.TTLStore[string, time.Time]
	tombstoneTTL time.Duration
}

// NewRegistry returns an empty registry that remembers removed call ids for
// tombstoneTTL.
func NewRegistry(tombstoneTTL time.Duration) *Registry {
	if tombstoneTTL <= 0 {
		tombstoneTTL = DefaultTombstoneTTL
	}
	return &Registry{
		sessions: make(map[string]*Session),
		tombstones: store.New[string, time.Time](tombstoneTTL,
			store.WithEvict[string, time.Time](func(callID string, closedAt time.Time) {
				slog.Debug("[Registry] Tombstone expired", "call_id", callID, "closed_at", closedAt)
			}),
		),
		tombstoneTTL: tombstoneTTL,
	}
}

// Put registers s under s.CallID.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.CallID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.CallID] = s
	r.tombstones.Delete(s.CallID)
	return nil
}

// Get returns the live session for callID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove drops callID, reporting whether it was present. Removing an absent
// id is a no-op.
func (r *Registry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[callID]; !ok {
		return false
	}
	delete(r.sessions, callID)
	r.tombstones.Set(callID, time.Now(), r.tombstoneTTL)
	return true
}

// RemoveSession drops callID only if it still maps to s.
func (r *Registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.CallID]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.CallID)
	r.tombstones.Set(s.CallID, time.Now(), r.tombstoneTTL)
	return true
}

// WasClosed reports whether callID was removed recently and is not live again.
func (r *Registry) WasClosed(callID string) bool {
	if _, live := r.Get(callID); live {
		return false
	}
	return r.tombstones.Has(callID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of all live sessions, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close stops the tombstone sweep.
func (r *Registry) Close() {
	r.tombstones.Close()
}
