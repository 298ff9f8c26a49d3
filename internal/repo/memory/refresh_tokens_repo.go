package memory

import (
	"context"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/refreshtoken"
)

type RefreshTokensRepo struct {
	s *Store
}

func (r *RefreshTokensRepo) Create(ctx context.Context, row refreshtoken.Row) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.refresh[row.ID] = row
	return nil
}

func (r *RefreshTokensRepo) Rotate(ctx context.Context, oldID, presentedHash string, next refreshtoken.Row) (refreshtoken.Row, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, ok := r.s.refresh[oldID]
	if !ok {
		return refreshtoken.Row{}, refreshtoken.ErrNotFound
	}

	if err := old.CheckUsable(presentedHash, time.Now().UTC()); err != nil {
		return refreshtoken.Row{}, err
	}
	if next.UserID != old.UserID {
		return refreshtoken.Row{}, refreshtoken.ErrMismatch
	}

	now := time.Now().UTC()
	revoked := old
	revoked.RevokedAt = &now
	nextID := next.ID
	revoked.ReplacedBy = &nextID

	r.s.refresh[old.ID] = revoked
	r.s.refresh[next.ID] = next
	return old, nil
}

func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.refresh[id]
	if !ok || row.RevokedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	row.RevokedAt = &now
	r.s.refresh[id] = row
	return nil
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	for id, row := range r.s.refresh {
		if row.UserID == userID && row.RevokedAt == nil {
			row.RevokedAt = &now
			r.s.refresh[id] = row
		}
	}
	return nil
}

// Get is a test helper.
func (r *RefreshTokensRepo) Get(id string) (refreshtoken.Row, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.refresh[id]
	return row, ok
}
