package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

const insertJobSQL = `INSERT INTO jobs (
	id, type, payload, status, attempts, max_attempts, run_at, locked_at, locked_by,
	last_error, idempotency_key, priority, user_id, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,
	$10,$11,$12,$13,$14,$15
)
ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`

// CreateTx enqueues inside the caller's transaction so the job commits or
// rolls back with the row that caused it. A taken idempotency key yields
// job.ErrDuplicateKey and leaves the transaction usable.
func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)

	var inserted int64
	err := r.prom.ObserveDB("jobs.create_tx", func() error {
		tag, e := tx.Exec(ctx, insertJobSQL,
			j.ID, j.Type, j.Payload, string(j.Status), j.Attempts, j.MaxAttempts, j.RunAt, j.LockedAt, j.LockedBy,
			j.LastError, j.IdempotencyKey, j.Priority, j.UserID, j.CreatedAt, j.UpdatedAt,
		)
		if e != nil {
			return e
		}
		inserted = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return job.Job{}, err
	}
	if inserted == 0 {
		return job.Job{}, job.ErrDuplicateKey
	}
	return j, nil
}

// release moves a claimed job out of processing. set holds the status specific
// assignments; $1 is always the job id.
func (r *JobsRepo) release(ctx context.Context, metric, set string, args ...any) error {
	var affected int64

	err := r.prom.ObserveDB(metric, func() error {
		tag, e := r.pool.Exec(ctx,
			`UPDATE jobs SET `+set+`, locked_at = NULL, locked_by = NULL, updated_at = NOW() WHERE id = $1`,
			args...,
		)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	switch {
	case err != nil:
		return err
	case affected == 0:
		return job.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	return r.release(ctx, "jobs.mark_done", `status = 'done', last_error = NULL`, id)
}

// MarkFailed is terminal; the attempt that failed still counts.
func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.release(ctx, "jobs.mark_failed",
		`status = 'failed', attempts = attempts + 1, last_error = $2`,
		id, errMsg)
}

// Reschedule puts a job back to pending at runAt with one more attempt counted.
func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.release(ctx, "jobs.reschedule",
		`status = 'pending', attempts = attempts + 1, run_at = $2, last_error = $3`,
		id, runAt, errMsg)
}

// ClaimNext claims the highest priority ready job with SKIP LOCKED.
// It returns job.ErrJobNotFound when nothing is ready.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job
	var status string

	err := r.prom.ObserveDB("jobs.claim_next", func() error {
		return r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND attempts < max_attempts
			ORDER BY priority DESC, run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = 'processing',
		    locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING id, type, payload, status,
		          attempts, max_attempts,
		          run_at, locked_at, locked_by,
		          last_error, idempotency_key, priority, user_id, created_at, updated_at
	`, workerID).Scan(
			&j.ID, &j.Type, &j.Payload, &status,
			&j.Attempts, &j.MaxAttempts,
			&j.RunAt, &j.LockedAt, &j.LockedBy,
			&j.LastError, &j.IdempotencyKey, &j.Priority, &j.UserID, &j.CreatedAt, &j.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	return j, nil
}

// RequeueStaleProcessing releases jobs whose worker stopped heartbeating for longer than lockTTL.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}
	var rows int64

	err := r.prom.ObserveDB("jobs.requeue_stale", func() error {
		tag, e := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND locked_at IS NOT NULL
		  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
	`, secs)
		if e != nil {
			return e
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}
