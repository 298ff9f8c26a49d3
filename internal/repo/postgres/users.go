package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/user"
	"github.com/geocoder89/timetracker/internal/jobs"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	jobs *JobsRepo
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom, jobsRepo *JobsRepo) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom, jobs: jobsRepo}
}

const userColumns = `id, email, username, password_hash, is_email_verified, email_verification_token, created_at, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.IsEmailVerified,
		&u.EmailVerificationToken,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// Create inserts the user and enqueues its verification email in the same
// transaction, so a user never exists without a pending token delivery.
func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	jobReq, err := jobs.NewVerificationEmailJob(u)
	if err != nil {
		return user.User{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return user.User{}, err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	err = r.prom.ObserveDB("users.create", func() error {
		_, e := tx.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.Email, u.Username, u.PasswordHash, u.IsEmailVerified, u.EmailVerificationToken, u.CreatedAt, u.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if name, ok := uniqueConstraint(err); ok {
			switch name {
			case "users_email_uniq":
				return user.User{}, user.ErrEmailTaken
			case "users_username_uniq":
				return user.User{}, user.ErrUsernameTaken
			}
		}
		return user.User{}, err
	}

	// an existing job for this user already covers the email
	_, err = r.jobs.CreateTx(ctx, tx, jobReq)
	if err != nil && !errors.Is(err, job.ErrDuplicateKey) {
		return user.User{}, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.get_by_email", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

// VerifyEmail consumes a verification token. The conditional update makes the
// false -> true flip happen at most once.
func (r *UsersRepo) VerifyEmail(ctx context.Context, token string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.verify_email", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET is_email_verified = TRUE,
			    updated_at = NOW()
			WHERE email_verification_token = $1
			  AND is_email_verified = FALSE
			RETURNING `+userColumns,
			token,
		))
		return e
	})

	if err == nil {
		return u, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, err
	}

	// nothing updated: unknown token, or already consumed
	var verified bool
	err = r.prom.ObserveDB("users.verify_email.lookup", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT is_email_verified FROM users WHERE email_verification_token = $1`,
			token,
		).Scan(&verified)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrInvalidToken
		}
		return user.User{}, err
	}

	return user.User{}, user.ErrAlreadyVerified
}
