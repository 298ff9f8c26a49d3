package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/dashboard"
	"github.com/geocoder89/timetracker/internal/domain/timeentry"
)

type TimeEntriesRepo struct {
	s *Store
}

// withProjectLocked fills in the project name the way the postgres join does.
func (r *TimeEntriesRepo) withProjectLocked(e timeentry.TimeEntry) timeentry.TimeEntry {
	if e.ProjectID == nil {
		e.ProjectName = ""
		return e
	}
	if p, ok := r.s.projects[*e.ProjectID]; ok {
		e.ProjectName = p.Name
	}
	return e
}

func (r *TimeEntriesRepo) Start(ctx context.Context, e timeentry.TimeEntry) (timeentry.TimeEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if e.ProjectID != nil {
		p, ok := r.s.projects[*e.ProjectID]
		if !ok || p.UserID != e.UserID {
			return timeentry.TimeEntry{}, timeentry.ErrProjectMissing
		}
	}

	for _, existing := range r.s.entries {
		if existing.UserID == e.UserID && existing.IsRunning() {
			return timeentry.TimeEntry{}, timeentry.ErrAlreadyRunning
		}
	}

	e.Recompute()
	e = r.withProjectLocked(e)
	r.s.entries[e.ID] = e
	return e, nil
}

func (r *TimeEntriesRepo) Stop(ctx context.Context, userID, id string, now time.Time) (timeentry.TimeEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entries[id]
	if !ok || e.UserID != userID || e.Status != timeentry.StatusRunning {
		return timeentry.TimeEntry{}, timeentry.ErrNotFound
	}

	e.Stop(now)
	r.s.entries[id] = e
	return r.withProjectLocked(e), nil
}

func (r *TimeEntriesRepo) GetRunning(ctx context.Context, userID string) (timeentry.TimeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, e := range r.s.entries {
		if e.UserID == userID && e.IsRunning() {
			return r.withProjectLocked(e), nil
		}
	}
	return timeentry.TimeEntry{}, timeentry.ErrNotFound
}

func (r *TimeEntriesRepo) ListRecent(ctx context.Context, userID string, limit int) ([]timeentry.TimeEntry, error) {
	if limit <= 0 {
		limit = timeentry.ListLimit
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]timeentry.TimeEntry, 0)
	for _, e := range r.s.entries {
		if e.UserID == userID {
			out = append(out, r.withProjectLocked(e))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TimeEntriesRepo) StoppedTotals(ctx context.Context, userID string, b dashboard.Boundaries) (dashboard.Totals, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	mine := make([]timeentry.TimeEntry, 0)
	for _, e := range r.s.entries {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	return dashboard.TotalsFrom(mine, b), nil
}

// Put stores e as-is. Tests use it to seed historical entries.
func (r *TimeEntriesRepo) Put(e timeentry.TimeEntry) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e.Recompute()
	r.s.entries[e.ID] = e
}
