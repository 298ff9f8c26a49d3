package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
)

type JobsRepo struct {
	s *Store
}

func (s *Store) hasIdempotencyKeyLocked(key *string) bool {
	if key == nil {
		return false
	}
	for _, j := range s.jobs {
		if j.IdempotencyKey != nil && *j.IdempotencyKey == *key {
			return true
		}
	}
	return false
}

func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.hasIdempotencyKeyLocked(req.IdempotencyKey) {
		return job.Job{}, job.ErrDuplicateKey
	}

	j := job.New(req)
	r.s.jobs[j.ID] = j
	return j, nil
}

func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	ready := make([]job.Job, 0)
	for _, j := range r.s.jobs {
		if j.Status == job.StatusPending && !j.RunAt.After(now) && j.Attempts < j.MaxAttempts {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return job.Job{}, job.ErrJobNotFound
	}

	sort.Slice(ready, func(a, b int) bool {
		if ready[a].Priority != ready[b].Priority {
			return ready[a].Priority > ready[b].Priority
		}
		if !ready[a].RunAt.Equal(ready[b].RunAt) {
			return ready[a].RunAt.Before(ready[b].RunAt)
		}
		return ready[a].CreatedAt.Before(ready[b].CreatedAt)
	})

	j := ready[0]
	j.Status = job.StatusProcessing
	j.LockedAt = &now
	wid := workerID
	j.LockedBy = &wid
	j.UpdatedAt = now

	r.s.jobs[j.ID] = j
	return j, nil
}

func (r *JobsRepo) update(id string, fn func(j *job.Job)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	fn(&j)
	j.LockedAt = nil
	j.LockedBy = nil
	j.UpdatedAt = time.Now().UTC()
	r.s.jobs[id] = j
	return nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusDone
		j.LastError = nil
	})
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.Attempts++
		msg := errMsg
		j.LastError = &msg
	})
}

func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.update(id, func(j *job.Job) {
		j.Status = job.StatusPending
		j.Attempts++
		j.RunAt = runAt
		msg := errMsg
		j.LastError = &msg
	})
}

func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	cutoff := time.Now().UTC().Add(-lockTTL)

	var n int64
	for id, j := range r.s.jobs {
		if j.Status == job.StatusProcessing && j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.Status = job.StatusPending
			j.LockedAt = nil
			j.LockedBy = nil
			j.UpdatedAt = time.Now().UTC()
			r.s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every job, oldest first.
func (r *JobsRepo) All() []job.Job {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]job.Job, 0, len(r.s.jobs))
	for _, j := range r.s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Get is a test helper.
func (r *JobsRepo) Get(id string) (job.Job, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	j, ok := r.s.jobs[id]
	return j, ok
}
