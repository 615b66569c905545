// Package testutil provides an in-memory store implementation for tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/s100-analytics/backend/internal/models"
	"github.com/s100-analytics/backend/internal/store"
)

// MemStore is an in-memory store.Store with transactional ingest semantics:
// a pending transaction sees its own writes, and nothing becomes visible to
// other readers until Commit. It mirrors the uniqueness constraint on
// (equipment, hash_sig).
type MemStore struct {
	mu         sync.Mutex
	RawLogs    []*models.RawLog
	Runs       map[string]*models.Run
	Daily      map[string]*models.DailyMetrics
	Ingestions map[string]time.Time

	// FailCommitWith, when set, makes the next Commit fail once with the
	// given error. Used to exercise the rollback path.
	FailCommitWith error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		Runs:       make(map[string]*models.Run),
		Daily:      make(map[string]*models.DailyMetrics),
		Ingestions: make(map[string]time.Time),
	}
}

type memTx struct {
	s        *MemStore
	rawLogs  []*models.RawLog
	newRuns  map[string]*models.Run
	updated  map[string]*models.Run
	finished bool
}

// BeginIngest implements store.Store.
func (m *MemStore) BeginIngest(ctx context.Context) (store.IngestTx, error) {
	return &memTx{
		s:       m,
		newRuns: make(map[string]*models.Run),
		updated: make(map[string]*models.Run),
	}, nil
}

func (t *memTx) RawExists(ctx context.Context, equipment, hashSig string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, r := range t.s.RawLogs {
		if r.Equipment == equipment && r.HashSig == hashSig {
			return true, nil
		}
	}
	for _, r := range t.rawLogs {
		if r.Equipment == equipment && r.HashSig == hashSig {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertRawLog(ctx context.Context, r *models.RawLog) error {
	cp := *r
	t.rawLogs = append(t.rawLogs, &cp)
	return nil
}

func (t *memTx) FindOverlappingRuns(ctx context.Context, key models.IdentityKey, start, end time.Time) ([]*models.Run, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var out []*models.Run
	match := func(r *models.Run) {
		if r.Equipment != key.Equipment ||
			!ptrEq(r.ProjectCustomer, key.Customer) ||
			!ptrEq(r.ProjectCode, key.Code) ||
			!ptrEq(r.SampleNo, key.SampleNo) ||
			!ptrEq(r.TestItem, key.TestItem) {
			return
		}
		// Closed-interval overlap: touching endpoints count.
		if !r.StTime.After(end) && !r.SpTime.Before(start) {
			cp := *r
			out = append(out, &cp)
		}
	}
	for id, r := range t.s.Runs {
		if _, pending := t.updated[id]; pending {
			continue
		}
		match(r)
	}
	for _, r := range t.updated {
		match(r)
	}
	for _, r := range t.newRuns {
		match(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertRun(ctx context.Context, r *models.Run) error {
	cp := *r
	t.newRuns[r.ID] = &cp
	return nil
}

func (t *memTx) UpdateRun(ctx context.Context, r *models.Run) error {
	cp := *r
	if _, ok := t.newRuns[r.ID]; ok {
		t.newRuns[r.ID] = &cp
		return nil
	}
	t.updated[r.ID] = &cp
	return nil
}

func (t *memTx) Commit() error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.finished = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.s.FailCommitWith; err != nil {
		t.s.FailCommitWith = nil
		return err
	}

	// Uniqueness backstop on (equipment, hash_sig).
	for _, r := range t.rawLogs {
		for _, existing := range t.s.RawLogs {
			if existing.Equipment == r.Equipment && existing.HashSig == r.HashSig {
				return fmt.Errorf("commit: %w", store.ErrConflict)
			}
		}
	}

	t.s.RawLogs = append(t.s.RawLogs, t.rawLogs...)
	for id, r := range t.newRuns {
		t.s.Runs[id] = r
	}
	for id, r := range t.updated {
		t.s.Runs[id] = r
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.finished = true
	return nil
}

// RecordIngestion implements store.Store.
func (m *MemStore) RecordIngestion(ctx context.Context, equipment, sourceFile string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ingestions[equipment+"|"+sourceFile] = at
	return nil
}

// RunsOverlappingWindow implements store.Store with half-open window
// semantics.
func (m *MemStore) RunsOverlappingWindow(ctx context.Context, equipment string, start, end time.Time) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, r := range m.Runs {
		if r.Equipment == equipment && r.StTime.Before(end) && r.SpTime.After(start) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StTime.Before(out[j].StTime) })
	return out, nil
}

// ReplaceDailyMetrics implements store.Store.
func (m *MemStore) ReplaceDailyMetrics(ctx context.Context, dm *models.DailyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dm
	m.Daily[dm.Equipment+"|"+dm.Day.Format("2006-01-02")] = &cp
	return nil
}

// DailyMetricsRange implements store.Store.
func (m *MemStore) DailyMetricsRange(ctx context.Context, equipment string, start, end *time.Time) ([]*models.DailyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DailyMetrics
	for _, dm := range m.Daily {
		if dm.Equipment != equipment {
			continue
		}
		if start != nil && dm.Day.Before(*start) {
			continue
		}
		if end != nil && !dm.Day.Before(*end) {
			continue
		}
		cp := *dm
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// QueryRuns implements store.Store.
func (m *MemStore) QueryRuns(ctx context.Context, f store.RunFilter) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, r := range m.Runs {
		if f.Equipment != "" && r.Equipment != f.Equipment {
			continue
		}
		if f.Start != nil && r.StTime.Before(*f.Start) {
			continue
		}
		if f.End != nil && !r.SpTime.Before(*f.End) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StTime.Before(out[j].StTime) })
	return out, nil
}

// Close implements store.Store.
func (m *MemStore) Close() error { return nil }

// RunList returns all committed runs sorted by start time.
func (m *MemStore) RunList() []*models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Run, 0, len(m.Runs))
	for _, r := range m.Runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StTime.Before(out[j].StTime) })
	return out
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
