package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Username               string    `json:"username"`
	PasswordHash           string    `json:"-"` // never expose hash in JSON
	IsEmailVerified        bool      `json:"isEmailVerified"`
	EmailVerificationToken string    `json:"-"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

var (
	ErrNotFound          = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already in use")
	ErrUsernameTaken     = errors.New("username already in use")
	ErrInvalidToken      = errors.New("invalid verification token")
	ErrAlreadyVerified   = errors.New("email already verified")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrInvalidCredential = errors.New("invalid credentials")
)

type RegisterRequest struct {
	Username        string `json:"username" binding:"required,min=3,max=150"`
	Email           string `json:"email" binding:"required,email,max=254"`
	Password        string `json:"password" binding:"required,min=8,max=72"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required,eqfield=Password"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required,uuid"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// New builds an unverified user with a fresh verification token.
func New(email, username, passwordHash string) User {
	now := time.Now().UTC()

	return User{
		ID:                     uuid.NewString(),
		Email:                  email,
		Username:               username,
		PasswordHash:           passwordHash,
		IsEmailVerified:        false,
		EmailVerificationToken: uuid.NewString(),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
