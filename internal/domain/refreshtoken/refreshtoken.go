package refreshtoken

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("refresh token not found")
	ErrRevoked  = errors.New("refresh token revoked")
	ErrExpired  = errors.New("refresh token expired")
	ErrMismatch = errors.New("refresh token hash mismatch")
)

// Row is the persisted side of a refresh token. The raw token never is.
type Row struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
	CreatedAt  time.Time
}

// CheckUsable validates a locked row against the presented token hash.
func (r Row) CheckUsable(presentedHash string, now time.Time) error {
	if r.RevokedAt != nil {
		return ErrRevoked
	}
	if now.After(r.ExpiresAt) {
		return ErrExpired
	}
	// prevents token substitution
	if r.TokenHash != presentedHash {
		return ErrMismatch
	}
	return nil
}
