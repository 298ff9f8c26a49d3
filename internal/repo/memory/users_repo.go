package memory

import (
	"context"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/user"
	"github.com/geocoder89/timetracker/internal/jobs"
)

type UsersRepo struct {
	s *Store
}

// Create stores u and enqueues its verification email job under the same lock.
func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	req, err := jobs.NewVerificationEmailJob(u)
	if err != nil {
		return user.User{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return user.User{}, user.ErrEmailTaken
		}
		if existing.Username == u.Username {
			return user.User{}, user.ErrUsernameTaken
		}
	}

	r.s.users[u.ID] = u

	if !r.s.hasIdempotencyKeyLocked(req.IdempotencyKey) {
		j := job.New(req)
		r.s.jobs[j.ID] = j
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) VerifyEmail(ctx context.Context, token string) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, u := range r.s.users {
		if u.EmailVerificationToken != token {
			continue
		}
		if u.IsEmailVerified {
			return user.User{}, user.ErrAlreadyVerified
		}

		u.IsEmailVerified = true
		u.UpdatedAt = time.Now().UTC()
		r.s.users[id] = u
		return u, nil
	}

	return user.User{}, user.ErrInvalidToken
}
