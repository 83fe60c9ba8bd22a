package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. A single mutex provides the
// mutual exclusion the Store contract asks for, so it is only shared between
// goroutines of one process. It backs the "memory" driver and the tests.
type MemoryStore struct {
	mu       sync.Mutex
	queued   map[int64]*Task
	running  map[int64]*Task
	settings map[string]string
	nextID   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queued:   make(map[int64]*Task),
		running:  make(map[int64]*Task),
		settings: make(map[string]string),
		nextID:   1,
	}
}

// SetNextID moves the identifier sequence to id.
func (s *MemoryStore) SetNextID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = id
}

// Ready always succeeds.
func (s *MemoryStore) Ready(ctx context.Context) error {
	return nil
}

// Insert appends a task to the queued set.
func (s *MemoryStore) Insert(ctx context.Context, t *Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t), nil
}

func (s *MemoryStore) insertLocked(t *Task) *Task {
	rec := cloneTask(t)
	rec.ID = s.nextID
	rec.StartedAt = nil
	s.nextID++
	s.queued[rec.ID] = rec
	return cloneTask(rec)
}

// InsertUnique inserts t unless an equal task exists, escalating queued matches.
func (s *MemoryStore) InsertUnique(ctx context.Context, t *Task, matchParams bool) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var params Params
	if matchParams {
		params = nonNilParams(t.Params)
	}

	found := false
	for _, rec := range s.queued {
		if matches(rec, t.Callback, params) {
			found = true
			if rec.Priority > t.Priority {
				rec.Priority = t.Priority
			}
		}
	}
	if found {
		return nil, nil
	}
	for _, rec := range s.running {
		if matches(rec, t.Callback, params) {
			return nil, nil
		}
	}

	return s.insertLocked(t), nil
}

// Exists reports whether a matching task exists in either set.
func (s *MemoryStore) Exists(ctx context.Context, cb Callback, params Params) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range []map[int64]*Task{s.queued, s.running} {
		for _, rec := range set {
			if matches(rec, cb, params) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Get looks in the queued set first, then the running set.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.queued[id]; ok {
		return cloneTask(rec), nil
	}
	if rec, ok := s.running[id]; ok {
		return cloneTask(rec), nil
	}
	return nil, ErrTaskNotFound
}

// RunningExists reports whether id is in the running set.
func (s *MemoryStore) RunningExists(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok, nil
}

// Count returns the number of tasks in set matching q.
func (s *MemoryStore) Count(ctx context.Context, set Set, q Query, orphanedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selectLocked(set, q, orphanedBefore)), nil
}

// List returns the page of tasks in set matching q.
func (s *MemoryStore) List(ctx context.Context, set Set, q Query, orphanedBefore time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.selectLocked(set, q, orphanedBefore)
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Count > 0 && len(rows) > q.Count {
		rows = rows[:q.Count]
	}

	out := make([]*Task, 0, len(rows))
	for _, rec := range rows {
		t := cloneTask(rec)
		if t.IsPeriodic() {
			t.Params = nil
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) selectLocked(set Set, q Query, orphanedBefore time.Time) []*Task {
	source := s.queued
	if set == SetRunning {
		source = s.running
	}

	var rows []*Task
	for _, rec := range source {
		if q.Callback != nil && !rec.Callback.Equal(*q.Callback) {
			continue
		}
		if q.Params != nil && !rec.Params.Equal(q.Params) {
			continue
		}
		if q.Priority != nil && rec.Priority != q.Priority.Clamp() {
			continue
		}
		if q.Description != nil && rec.Description != *q.Description {
			continue
		}
		if set == SetRunning && !orphanedBefore.IsZero() && !rec.StartedAt.Before(orphanedBefore) {
			continue
		}
		rows = append(rows, rec)
	}

	if set == SetRunning {
		sortByStart(rows)
	} else {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Priority != rows[j].Priority {
				return rows[i].Priority < rows[j].Priority
			}
			return rows[i].ID < rows[j].ID
		})
	}
	return rows
}

// Delete removes id from both sets.
func (s *MemoryStore) Delete(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if _, ok := s.queued[id]; ok {
		delete(s.queued, id)
		n++
	}
	if _, ok := s.running[id]; ok {
		delete(s.running, id)
		n++
	}
	return n, nil
}

// DeleteRunning removes id from the running set.
func (s *MemoryStore) DeleteRunning(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return 0, nil
	}
	delete(s.running, id)
	return 1, nil
}

// Claim moves the front of the queue into the running set.
func (s *MemoryStore) Claim(ctx context.Context, maxRunning int, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queued) == 0 || len(s.running) >= maxRunning {
		return nil, nil
	}

	next := s.selectLocked(SetQueued, Query{}, time.Time{})[0]
	delete(s.queued, next.ID)
	started := now
	next.StartedAt = &started
	s.running[next.ID] = next
	s.settings[SettingLastRunAt] = now.UTC().Format(time.RFC3339Nano)
	return cloneTask(next), nil
}

// Requeue moves id from the running set back to the queued set.
func (s *MemoryStore) Requeue(ctx context.Context, id int64, priority *Priority) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.running[id]
	if !ok {
		return false, nil
	}
	delete(s.running, id)
	rec.StartedAt = nil
	if priority != nil {
		rec.Priority = priority.Clamp()
	}
	s.queued[id] = rec
	return true, nil
}

// PruneRunning deletes the oldest running rows beyond keep.
func (s *MemoryStore) PruneRunning(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.running) - keep
	if excess <= 0 {
		return 0, nil
	}
	rows := make([]*Task, 0, len(s.running))
	for _, rec := range s.running {
		rows = append(rows, rec)
	}
	sortByStart(rows)
	for _, rec := range rows[:excess] {
		delete(s.running, rec.ID)
	}
	return int64(excess), nil
}

// NextID returns the identifier the next Insert will receive.
func (s *MemoryStore) NextID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID, nil
}

// ResetQueued restarts the identifier sequence when the queue is empty.
func (s *MemoryStore) ResetQueued(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) > 0 {
		return false, nil
	}
	s.queued = make(map[int64]*Task)
	s.nextID = 1
	return true, nil
}

// Setting returns a scalar setting.
func (s *MemoryStore) Setting(ctx context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[name]
	return v, ok, nil
}

// SetSetting stores a scalar setting.
func (s *MemoryStore) SetSetting(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
	return nil
}

func matches(rec *Task, cb Callback, params Params) bool {
	if !rec.Callback.Equal(cb) {
		return false
	}
	return params == nil || rec.Params.Equal(params)
}

func sortByStart(rows []*Task) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].StartedAt, rows[j].StartedAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return rows[i].ID < rows[j].ID
	})
}

func nonNilParams(p Params) Params {
	if p == nil {
		return Params{}
	}
	return p
}

func cloneTask(t *Task) *Task {
	c := *t
	if t.Params != nil {
		c.Params = append(Params{}, t.Params...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
