package api

import (
	"slices"
	"sync"

	"github.com/samcharles93/offload/internal/session"
)

const defaultStoreCapacity = 64

// RunStore keeps the most recent benchmark reports by run id.
type RunStore struct {
	mu    sync.Mutex
	cap   int
	order []string
	runs  map[string]*session.Report
}

func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &RunStore{cap: capacity, runs: make(map[string]*session.Report)}
}

// Put stores rep, evicting the oldest report when full.
func (s *RunStore) Put(rep *session.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rep.RunID]; !ok {
		s.order = append(s.order, rep.RunID)
	}
	s.runs[rep.RunID] = rep
	for len(s.order) > s.cap {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *RunStore) Get(id string) (*session.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.runs[id]
	return rep, ok
}

// IDs returns run ids, newest first.
func (s *RunStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Clone(s.order)
	slices.Reverse(ids)
	return ids
}
