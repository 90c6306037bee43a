package store

import (
	"sync"
	"time"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
)

// Store holds the most recent raw observation per device. The receiver is the
// sole writer, the translator reads snapshots; both hold the lock only long
// enough to copy one entry or the key set. No history is kept.
type Store struct {
	mu      sync.RWMutex
	entries map[model.DeviceKey]model.RawObservation
}

func New() *Store {
	return &Store{
		entries: make(map[model.DeviceKey]model.RawObservation),
	}
}

// Put replaces the entry for key. Later messages supersede earlier ones.
func (s *Store) Put(key model.DeviceKey, obs model.RawObservation) {
	s.mu.Lock()
	s.entries[key] = obs
	s.mu.Unlock()
}

func (s *Store) Get(key model.DeviceKey) (model.RawObservation, bool) {
	s.mu.RLock()
	obs, ok := s.entries[key]
	s.mu.RUnlock()
	return obs, ok
}

// Snapshot returns a copy of the table. Writers proceed as soon as the copy
// completes; translation works against the copy.
func (s *Store) Snapshot() map[model.DeviceKey]model.RawObservation {
	s.mu.RLock()
	out := make(map[model.DeviceKey]model.RawObservation, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	s.mu.RUnlock()
	return out
}

// Prune drops entries received before cutoff and reports how many were
// removed. Staleness for poll output is the translator's concern; Prune only
// bounds memory held for devices that went away entirely.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	removed := 0
	for k, v := range s.entries {
		if v.ReceivedAt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return n
}
