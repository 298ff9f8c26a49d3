package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/dashboard"
	"github.com/geocoder89/timetracker/internal/domain/timeentry"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runningTimerIndex = "time_entries_one_running_per_user"

type TimeEntriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTimeEntriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *TimeEntriesRepo {
	return &TimeEntriesRepo{pool: pool, prom: prom}
}

// entries are always read joined with their project for the name
const entrySelect = `
	SELECT te.id, te.project_id, COALESCE(p.name, ''), te.user_id, te.description,
	       te.start_time, te.end_time, te.duration_seconds, te.status,
	       te.created_at, te.updated_at
	FROM time_entries te
	LEFT JOIN projects p ON p.id = te.project_id
`

func scanEntry(row pgx.Row) (timeentry.TimeEntry, error) {
	var e timeentry.TimeEntry
	var status string

	err := row.Scan(
		&e.ID, &e.ProjectID, &e.ProjectName, &e.UserID, &e.Description,
		&e.StartTime, &e.EndTime, &e.DurationSeconds, &status,
		&e.CreatedAt, &e.UpdatedAt,
	)
	e.Status = timeentry.Status(status)
	return e, err
}

// Start inserts a running entry for e.UserID. It fails with
// timeentry.ErrAlreadyRunning when the user has one open, and with
// timeentry.ErrProjectMissing when e.ProjectID is not one of the user's projects.
func (r *TimeEntriesRepo) Start(ctx context.Context, e timeentry.TimeEntry) (timeentry.TimeEntry, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return timeentry.TimeEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialise starts per user
	err = r.prom.ObserveDB("time_entries.start.lock_user", func() error {
		var id string
		return tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, e.UserID).Scan(&id)
	})
	if err != nil {
		return timeentry.TimeEntry{}, err
	}

	if e.ProjectID != nil {
		var name string
		err = r.prom.ObserveDB("time_entries.start.project", func() error {
			return tx.QueryRow(ctx,
				`SELECT name FROM projects WHERE id = $1 AND user_id = $2`,
				*e.ProjectID, e.UserID,
			).Scan(&name)
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return timeentry.TimeEntry{}, timeentry.ErrProjectMissing
			}
			return timeentry.TimeEntry{}, err
		}
		e.ProjectName = name
	}

	var running bool
	err = r.prom.ObserveDB("time_entries.start.check_running", func() error {
		return tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM time_entries
				WHERE user_id = $1 AND status = 'running' AND end_time IS NULL
			)
		`, e.UserID).Scan(&running)
	})
	if err != nil {
		return timeentry.TimeEntry{}, err
	}
	if running {
		return timeentry.TimeEntry{}, timeentry.ErrAlreadyRunning
	}

	e.Recompute()

	err = r.prom.ObserveDB("time_entries.start.insert", func() error {
		_, ex := tx.Exec(ctx, `
			INSERT INTO time_entries (id, project_id, user_id, description, start_time, end_time,
			                          duration_seconds, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, e.ID, e.ProjectID, e.UserID, e.Description, e.StartTime, e.EndTime,
			e.DurationSeconds, string(e.Status), e.CreatedAt, e.UpdatedAt)
		return ex
	})
	if err != nil {
		if name, ok := uniqueConstraint(err); ok && name == runningTimerIndex {
			return timeentry.TimeEntry{}, timeentry.ErrAlreadyRunning
		}
		return timeentry.TimeEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return timeentry.TimeEntry{}, err
	}
	return e, nil
}

// Stop closes the user's running entry id at now. Anything else is timeentry.ErrNotFound.
func (r *TimeEntriesRepo) Stop(ctx context.Context, userID, id string, now time.Time) (timeentry.TimeEntry, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return timeentry.TimeEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var e timeentry.TimeEntry
	err = r.prom.ObserveDB("time_entries.stop.lock", func() error {
		var ex error
		e, ex = scanEntry(tx.QueryRow(ctx, entrySelect+`
			WHERE te.id = $1 AND te.user_id = $2 AND te.status = 'running'
			FOR UPDATE OF te
		`, id, userID))
		return ex
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timeentry.TimeEntry{}, timeentry.ErrNotFound
		}
		return timeentry.TimeEntry{}, err
	}

	e.Stop(now)

	err = r.prom.ObserveDB("time_entries.stop.update", func() error {
		_, ex := tx.Exec(ctx, `
			UPDATE time_entries
			SET end_time = $2,
			    duration_seconds = $3,
			    status = $4,
			    updated_at = $5
			WHERE id = $1
		`, e.ID, e.EndTime, e.DurationSeconds, string(e.Status), e.UpdatedAt)
		return ex
	})
	if err != nil {
		return timeentry.TimeEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return timeentry.TimeEntry{}, err
	}
	return e, nil
}

// GetRunning returns timeentry.ErrNotFound when the user has no running entry.
func (r *TimeEntriesRepo) GetRunning(ctx context.Context, userID string) (timeentry.TimeEntry, error) {
	var e timeentry.TimeEntry

	err := r.prom.ObserveDB("time_entries.get_running", func() error {
		var ex error
		e, ex = scanEntry(r.pool.QueryRow(ctx, entrySelect+`
			WHERE te.user_id = $1 AND te.status = 'running' AND te.end_time IS NULL
			LIMIT 1
		`, userID))
		return ex
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timeentry.TimeEntry{}, timeentry.ErrNotFound
		}
		return timeentry.TimeEntry{}, err
	}
	return e, nil
}

// ListRecent returns up to limit entries by start_time, newest first.
func (r *TimeEntriesRepo) ListRecent(ctx context.Context, userID string, limit int) ([]timeentry.TimeEntry, error) {
	if limit <= 0 {
		limit = timeentry.ListLimit
	}

	var rows pgx.Rows
	err := r.prom.ObserveDB("time_entries.list_recent", func() error {
		var ex error
		rows, ex = r.pool.Query(ctx, entrySelect+`
			WHERE te.user_id = $1
			ORDER BY te.start_time DESC, te.id DESC
			LIMIT $2
		`, userID, limit)
		return ex
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]timeentry.TimeEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StoppedTotals sums duration_seconds of stopped entries that started on or after each boundary.
func (r *TimeEntriesRepo) StoppedTotals(ctx context.Context, userID string, b dashboard.Boundaries) (dashboard.Totals, error) {
	var today, week, month int64

	err := r.prom.ObserveDB("time_entries.stopped_totals", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT
				COALESCE(SUM(duration_seconds) FILTER (WHERE start_time >= $2), 0),
				COALESCE(SUM(duration_seconds) FILTER (WHERE start_time >= $3), 0),
				COALESCE(SUM(duration_seconds) FILTER (WHERE start_time >= $4), 0)
			FROM time_entries
			WHERE user_id = $1 AND status = 'stopped'
		`, userID, b.Today, b.Week, b.Month).Scan(&today, &week, &month)
	})
	if err != nil {
		return dashboard.Totals{}, err
	}

	return dashboard.Totals{
		TodaySeconds: int(today),
		WeekSeconds:  int(week),
		MonthSeconds: int(month),
	}, nil
}
