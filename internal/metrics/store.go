// Package metrics keeps running per-machine prediction statistics in memory.
package metrics

import (
	"sort"
	"sync"
	"time"

	"equipguard/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	byMachine map[string]*model.MachineStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byMachine: make(map[string]*model.MachineStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Record folds one prediction into its machine's counters.
func (s *Store) Record(p model.Prediction) {
	if p.MachineID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byMachine[p.MachineID]
	if !ok {
		m = &model.MachineStats{MachineID: p.MachineID, ByStatus: make(map[string]int, model.NumStatuses)}
		s.byMachine[p.MachineID] = m
	}
	m.Predictions++
	m.ByStatus[p.Result.Status.String()]++
	if p.Result.IsAnomaly {
		m.Anomalies++
	}
	m.Last = p.Result
	m.LastInput = p.Features
	s.updatedAt[p.MachineID] = time.Now().UTC()
	if len(s.byMachine) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(machineID string) (model.MachineStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byMachine[machineID]
	if !ok {
		return model.MachineStats{}, time.Time{}, false
	}
	return clone(m), s.updatedAt[machineID], true
}

// GetAll returns a snapshot sorted by machine id.
func (s *Store) GetAll() []model.MachineStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MachineStats, 0, len(s.byMachine))
	for _, m := range s.byMachine {
		out = append(out, clone(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}

func clone(m *model.MachineStats) model.MachineStats {
	c := *m
	c.ByStatus = make(map[string]int, len(m.ByStatus))
	for k, v := range m.ByStatus {
		c.ByStatus[k] = v
	}
	return c
}

func (s *Store) evictOldest() {
	var oldestMachine string
	var oldest time.Time
	for machine, ts := range s.updatedAt {
		if oldestMachine == "" || ts.Before(oldest) {
			oldestMachine = machine
			oldest = ts
		}
	}
	if oldestMachine != "" {
		delete(s.byMachine, oldestMachine)
		delete(s.updatedAt, oldestMachine)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMachine = make(map[string]*model.MachineStats)
	s.updatedAt = make(map[string]time.Time)
}
