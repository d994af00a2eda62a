// Package alerts holds the most recent machine alerts in a bounded ring.
package alerts

import (
	"sync"
	"time"

	"equipguard/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	ring  []model.Alert
	head  int // index of the oldest alert once the ring is full
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, ring: make([]model.Alert, 0, limit)}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) < s.limit {
		s.ring = append(s.ring, alert)
		return
	}
	s.ring[s.head] = alert
	s.head = (s.head + 1) % s.limit
}

// ordered returns alerts oldest first. Callers hold the read lock.
func (s *Store) ordered() []model.Alert {
	out := make([]model.Alert, 0, len(s.ring))
	out = append(out, s.ring[s.head:]...)
	return append(out, s.ring[:s.head]...)
}

// List returns up to limit of the newest alerts, oldest first.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered()
	if limit <= 0 || limit > len(all) {
		return all
	}
	return all[len(all)-limit:]
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.ordered() {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ForMachine(machineID string, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.ordered() {
		if a.MachineID == machineID {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ring)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]model.Alert, 0, s.limit)
	s.head = 0
}
