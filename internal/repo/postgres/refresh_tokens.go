package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/refreshtoken"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) Create(ctx context.Context, row refreshtoken.Row) error {
	return r.prom.ObserveDB("refresh_tokens.create", func() error {
		return insertRefreshToken(ctx, r.pool, row)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, row refreshtoken.Row) error {
	_, err := db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
		row.ID, row.UserID, row.TokenHash, row.ExpiresAt, row.RevokedAt, row.ReplacedBy, row.CreatedAt,
	)
	return err
}

// Rotate locks the presented token row, checks it, revokes it in favour of
// next and inserts next, all in one transaction. It returns the old row.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, oldID, presentedHash string, next refreshtoken.Row) (refreshtoken.Row, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return refreshtoken.Row{}, err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	var old refreshtoken.Row

	// Locks the row to prevent concurrent refresh races
	err = r.prom.ObserveDB("refresh_tokens.rotate.lock", func() error {
		return tx.QueryRow(ctx, `
			SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
			FROM refresh_tokens
			WHERE id = $1
			FOR UPDATE
		`, oldID).Scan(
			&old.ID,
			&old.UserID,
			&old.TokenHash,
			&old.ExpiresAt,
			&old.RevokedAt,
			&old.ReplacedBy,
			&old.CreatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return refreshtoken.Row{}, refreshtoken.ErrNotFound
		}
		return refreshtoken.Row{}, err
	}

	if err := old.CheckUsable(presentedHash, time.Now().UTC()); err != nil {
		return refreshtoken.Row{}, err
	}

	if next.UserID != old.UserID {
		return refreshtoken.Row{}, refreshtoken.ErrMismatch
	}

	err = r.prom.ObserveDB("refresh_tokens.rotate.revoke", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW(), replaced_by = $2
			WHERE id = $1
		`, old.ID, next.ID)
		return e
	})
	if err != nil {
		return refreshtoken.Row{}, err
	}

	err = r.prom.ObserveDB("refresh_tokens.rotate.insert", func() error {
		return insertRefreshToken(ctx, tx, next)
	})
	if err != nil {
		return refreshtoken.Row{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return refreshtoken.Row{}, err
	}

	return old, nil
}

// Revoke is idempotent; an unknown id is not an error.
func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return r.prom.ObserveDB("refresh_tokens.revoke", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE id = $1 AND revoked_at IS NULL
		`, id)
		return err
	})
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.prom.ObserveDB("refresh_tokens.revoke_all", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
		return err
	})
}
