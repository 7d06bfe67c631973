package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	units map[string][]*UnitRecord // run ID -> scoreboards
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:  make(map[string]*Run),
		units: make(map[string][]*UnitRecord),
	}
}

func (s *MemStore) CreateRun(run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt == "" {
		run.StartedAt = nowUTC()
	}
	cp := *run
	// Counters are FinishRun's to fill, matching the SQL insert.
	cp.FinishedAt = ""
	cp.Units, cp.Promoted, cp.Faults = 0, 0, 0
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) FinishRun(id string, units, promoted, faults int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish run: no run with id %s", id)
	}
	run.FinishedAt = nowUTC()
	run.Units = units
	run.Promoted = promoted
	run.Faults = faults
	return nil
}

func (s *MemStore) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *MemStore) ListRuns() ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		list = append(list, &cp)
	}
	// Newest first, matching the SQL ordering.
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt != list[j].StartedAt {
			return list[i].StartedAt > list[j].StartedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *MemStore) LatestRun() (*Run, error) {
	runs, err := s.ListRuns()
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

func (s *MemStore) SaveUnitResult(rec *UnitRecord) error {
	if rec == nil {
		return errors.New("unit record is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	recs := s.units[rec.RunID]
	for i, existing := range recs {
		if existing.UnitID == rec.UnitID {
			recs[i] = &cp
			return nil
		}
	}
	s.units[rec.RunID] = append(recs, &cp)
	return nil
}

func (s *MemStore) ListUnitResults(runID string) ([]*UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.units[runID]
	list := make([]*UnitRecord, 0, len(recs))
	for _, rec := range recs {
		cp := *rec
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UnitID < list[j].UnitID })
	return list, nil
}

func (s *MemStore) Close() error { return nil }
