// Package memory implements store.Store in process memory for tests and
// local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
)

// Store keeps every record in memory. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	raw        []model.RawEnvelope
	normalized map[string]model.NormalizedEvent
	unified    map[string]model.UnifiedEvent
	crosswalk  []model.CrosswalkRow
	deadLetter []model.DeadLetterEntry
	runs       []model.PipelineRun

	// FailSaveFusion, when set, makes the next SaveFusion call return the
	// error without writing anything.
	FailSaveFusion error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		normalized: make(map[string]model.NormalizedEvent),
		unified:    make(map[string]model.UnifiedEvent),
	}
}

func (s *Store) AppendRaw(_ context.Context, env model.RawEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, env)
	return nil
}

// RawCount reports the raw log size.
func (s *Store) RawCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw)
}

func (s *Store) UpsertNormalized(_ context.Context, e model.NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.normalized[e.EventUID]; ok {
		existing.Merge(e)
		s.normalized[e.EventUID] = existing
		return nil
	}
	s.normalized[e.EventUID] = e
	return nil
}

func (s *Store) ReadWindow(_ context.Context, since time.Time) ([]model.NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.NormalizedEvent
	for _, e := range s.normalized {
		if !e.OriginTimeUTC.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OriginTimeUTC.Equal(out[j].OriginTimeUTC) {
			return out[i].OriginTimeUTC.Before(out[j].OriginTimeUTC)
		}
		return out[i].EventUID < out[j].EventUID
	})
	return out, nil
}

func (s *Store) LatestOriginTime(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Time
	found := false
	for _, e := range s.normalized {
		if !found || e.OriginTimeUTC.After(max) {
			max = e.OriginTimeUTC
			found = true
		}
	}
	return max, found, nil
}

func (s *Store) SaveFusion(_ context.Context, unified []model.UnifiedEvent, rows []model.CrosswalkRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaveFusion != nil {
		err := s.FailSaveFusion
		s.FailSaveFusion = nil
		return err
	}
	for _, u := range unified {
		if prev, ok := s.unified[u.UnifiedEventID]; ok {
			u.CreatedAt = prev.CreatedAt
		}
		s.unified[u.UnifiedEventID] = u
	}
	for _, row := range rows {
		replaced := false
		for i := range s.crosswalk {
			if s.crosswalk[i].EventUID == row.EventUID && s.crosswalk[i].UnifiedEventID == row.UnifiedEventID {
				s.crosswalk[i].MatchScore = row.MatchScore
				s.crosswalk[i].IsPreferred = row.IsPreferred
				replaced = true
				break
			}
		}
		if !replaced {
			s.crosswalk = append(s.crosswalk, row)
		}
	}
	return nil
}

func (s *Store) ExistingCrosswalk(_ context.Context, eventUIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(eventUIDs))
	for _, uid := range eventUIDs {
		want[uid] = struct{}{}
	}
	out := make(map[string]string)
	latest := make(map[string]time.Time)
	for _, row := range s.crosswalk {
		if _, ok := want[row.EventUID]; !ok {
			continue
		}
		if prev, seen := latest[row.EventUID]; !seen || row.CreatedAt.After(prev) {
			latest[row.EventUID] = row.CreatedAt
			out[row.EventUID] = row.UnifiedEventID
		}
	}
	return out, nil
}

func (s *Store) ListUnified(_ context.Context, limit int) ([]model.UnifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.UnifiedEvent, 0, len(s.unified))
	for _, u := range s.unified {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].UnifiedEventID < out[j].UnifiedEventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUnified(_ context.Context, unifiedEventID string) (model.UnifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.unified[unifiedEventID]
	if !ok {
		return model.UnifiedEvent{}, store.ErrNotFound
	}
	return u, nil
}

// Crosswalk returns a copy of all crosswalk rows.
func (s *Store) Crosswalk() []model.CrosswalkRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CrosswalkRow, len(s.crosswalk))
	copy(out, s.crosswalk)
	return out
}

// SeedCrosswalk preloads crosswalk rows, for identity-reuse tests.
func (s *Store) SeedCrosswalk(rows ...model.CrosswalkRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crosswalk = append(s.crosswalk, rows...)
}

func (s *Store) AppendDeadLetter(_ context.Context, d model.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetter = append(s.deadLetter, d)
	return nil
}

func (s *Store) ListDeadLetters(_ context.Context, limit int) ([]model.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DeadLetterEntry, len(s.deadLetter))
	copy(out, s.deadLetter)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendRun(_ context.Context, r model.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]model.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PipelineRun, len(s.runs))
	copy(out, s.runs)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
