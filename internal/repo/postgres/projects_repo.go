package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/timetracker/internal/domain/project"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProjectsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProjectsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProjectsRepo {
	return &ProjectsRepo{pool: pool, prom: prom}
}

const projectColumns = `id, name, description, color, user_id, is_active, created_at, updated_at`

func scanProject(row pgx.Row) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Color, &p.UserID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *ProjectsRepo) Create(ctx context.Context, p project.Project) (project.Project, error) {
	err := r.prom.ObserveDB("projects.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO projects (`+projectColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			p.ID, p.Name, p.Description, p.Color, p.UserID, p.IsActive, p.CreatedAt, p.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return project.Project{}, project.ErrNameTaken
		}
		return project.Project{}, err
	}
	return p, nil
}

// ListActive returns the user's active projects, newest first.
func (r *ProjectsRepo) ListActive(ctx context.Context, userID string) ([]project.Project, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("projects.list_active", func() error {
		var e error
		rows, e = r.pool.Query(ctx, `
			SELECT `+projectColumns+`
			FROM projects
			WHERE user_id = $1 AND is_active
			ORDER BY created_at DESC, id DESC
		`, userID)
		return e
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]project.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

func (r *ProjectsRepo) GetByID(ctx context.Context, id string) (project.Project, error) {
	var p project.Project

	err := r.prom.ObserveDB("projects.get_by_id", func() error {
		var e error
		p, e = scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return project.Project{}, project.ErrNotFound
		}
		return project.Project{}, err
	}
	return p, nil
}

// Update writes name, description and color of p. Ownership is checked by the caller.
func (r *ProjectsRepo) Update(ctx context.Context, p project.Project) (project.Project, error) {
	var updated project.Project

	err := r.prom.ObserveDB("projects.update", func() error {
		var e error
		updated, e = scanProject(r.pool.QueryRow(ctx, `
			UPDATE projects
			SET name = $2,
			    description = $3,
			    color = $4,
			    updated_at = NOW()
			WHERE id = $1 AND user_id = $5
			RETURNING `+projectColumns,
			p.ID, p.Name, p.Description, p.Color, p.UserID,
		))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return project.Project{}, project.ErrNotFound
		}
		if IsUniqueViolation(err) {
			return project.Project{}, project.ErrNameTaken
		}
		return project.Project{}, err
	}
	return updated, nil
}

// Deactivate flips is_active off. The row is kept for historical entries.
func (r *ProjectsRepo) Deactivate(ctx context.Context, id, userID string) error {
	var tag pgconn.CommandTag

	err := r.prom.ObserveDB("projects.deactivate", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
			UPDATE projects
			SET is_active = FALSE, updated_at = NOW()
			WHERE id = $1 AND user_id = $2
		`, id, userID)
		return e
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return project.ErrNotFound
	}
	return nil
}
