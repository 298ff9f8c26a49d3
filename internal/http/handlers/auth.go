package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/geocoder89/timetracker/internal/domain/refreshtoken"
	"github.com/geocoder89/timetracker/internal/domain/user"
	"github.com/geocoder89/timetracker/internal/security"
	"github.com/gin-gonic/gin"
)

type UserStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	VerifyEmail(ctx context.Context, token string) (user.User, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, row refreshtoken.Row) error
	Rotate(ctx context.Context, oldID, presentedHash string, next refreshtoken.Row) (refreshtoken.Row, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type AuthHandler struct {
	users           UserStore
	refreshStore    RefreshTokenStore
	jwt             *auth.Manager
	requireVerified bool
	log             *slog.Logger
}

func NewAuthHandler(users UserStore, refreshStore RefreshTokenStore, jwtManager *auth.Manager, requireVerified bool, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		users:           users,
		refreshStore:    refreshStore,
		jwt:             jwtManager,
		requireVerified: requireVerified,
		log:             log,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func requestContext(ctx *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), d)
}

// POST /api/auth/register/
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			RespondValidation(ctx, "password_too_long", "Password must be at most 72 bytes.")
			return
		}
		RespondInternal(ctx, "Could not create user")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.Create(cctx, user.New(normalizeEmail(req.Email), strings.TrimSpace(req.Username), hash))
	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			RespondValidation(ctx, "email_taken", "A user with this email already exists.")
		case errors.Is(err, user.ErrUsernameTaken):
			RespondValidation(ctx, "username_taken", "A user with this username already exists.")
		default:
			h.log.ErrorContext(cctx, "register user", "err", err)
			RespondInternal(ctx, "Could not create user")
		}
		return
	}

	h.log.InfoContext(cctx, "user registered", "user_id", u.ID)

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully. Please check your email to verify your account.",
		"userId":  u.ID,
	})
}

// POST /api/auth/verify-email/
func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	var req user.VerifyEmailRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	u, err := h.users.VerifyEmail(cctx, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidToken):
			RespondValidation(ctx, "invalid_token", "Invalid verification token.")
		case errors.Is(err, user.ErrAlreadyVerified):
			RespondValidation(ctx, "already_verified", "Email is already verified.")
		default:
			h.log.ErrorContext(cctx, "verify email", "err", err)
			RespondInternal(ctx, "Could not verify email")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Email verified successfully.",
		"userId":  u.ID,
	})
}

// POST /api/auth/login/
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	foundUser, err := h.authenticate(cctx, normalizeEmail(req.Email), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidCredential):
			RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		case errors.Is(err, user.ErrEmailNotVerified):
			RespondForbidden(ctx, "email_not_verified", "Please verify your email before logging in.")
		default:
			h.log.ErrorContext(cctx, "login lookup", "err", err)
			RespondInternal(ctx, "Could not log in")
		}
		return
	}

	pair, err := h.jwt.GeneratePair(foundUser.ID, foundUser.Email)
	if err != nil {
		RespondInternal(ctx, "Could not generate tokens")
		return
	}

	err = h.refreshStore.Create(cctx, h.refreshRow(foundUser.ID, pair))
	if err != nil {
		h.log.ErrorContext(cctx, "store refresh token", "err", err)
		RespondInternal(ctx, "Could not create session")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Login successful.",
		"user":    foundUser,
		"tokens":  pair,
	})
}

// POST /api/auth/refresh/
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req user.RefreshRequest

	if !BindJSON(ctx, &req) {
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(req.Refresh)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			RespondUnauthorized(ctx, "expired_refresh", "Refresh token expired.")
			return
		}
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	pair, err := h.jwt.GeneratePair(claims.UserID, claims.Email)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	_, err = h.refreshStore.Rotate(cctx, claims.JTI, h.jwt.HashRefreshToken(req.Refresh), h.refreshRow(claims.UserID, pair))
	if err != nil {
		switch {
		case errors.Is(err, refreshtoken.ErrExpired):
			RespondUnauthorized(ctx, "expired_refresh", "Refresh token expired.")
		case errors.Is(err, refreshtoken.ErrRevoked):
			// a consumed token came back: end every session of this user
			if rerr := h.refreshStore.RevokeAllForUser(cctx, claims.UserID); rerr != nil {
				h.log.ErrorContext(cctx, "revoke sessions after refresh reuse", "user_id", claims.UserID, "err", rerr)
			}
			h.log.WarnContext(cctx, "refresh token reuse", "user_id", claims.UserID, "jti", claims.JTI)
			RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		case errors.Is(err, refreshtoken.ErrNotFound),
			errors.Is(err, refreshtoken.ErrMismatch):
			RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		default:
			h.log.ErrorContext(cctx, "rotate refresh token", "err", err)
			RespondInternal(ctx, "Could not refresh session")
		}
		return
	}

	ctx.JSON(http.StatusOK, pair)
}

// POST /api/auth/logout/
func (h *AuthHandler) Logout(ctx *gin.Context) {
	var req user.RefreshRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// unknown or already invalid tokens are a no-op
	claims, err := h.jwt.VerifyRefreshToken(req.Refresh)
	if err != nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	if err := h.refreshStore.Revoke(cctx, claims.JTI); err != nil {
		h.log.ErrorContext(cctx, "revoke refresh token", "err", err)
		RespondInternal(ctx, "Could not log out")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// authenticate checks credentials and the verification gate.
func (h *AuthHandler) authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, user.ErrInvalidCredential
		}
		return user.User{}, err
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return user.User{}, user.ErrInvalidCredential
	}

	if h.requireVerified && !u.IsEmailVerified {
		return user.User{}, user.ErrEmailNotVerified
	}
	return u, nil
}

func (h *AuthHandler) refreshRow(userID string, pair auth.Pair) refreshtoken.Row {
	return refreshtoken.Row{
		ID:        pair.RefreshJTI,
		UserID:    userID,
		TokenHash: h.jwt.HashRefreshToken(pair.Refresh),
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
}
