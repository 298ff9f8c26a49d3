package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/db"
	apphttp "github.com/geocoder89/timetracker/internal/http"
	"github.com/geocoder89/timetracker/internal/http/handlers"
	"github.com/geocoder89/timetracker/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

type testApp struct {
	router http.Handler
	pool   *pgxpool.Pool
	jobs   *postgres.JobsRepo
	users  *postgres.UsersRepo
	log    *slog.Logger
}

// setupApp needs a disposable database in TEST_DB_DSN.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	if err := db.Migrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	resetDB(t, pool)

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	jobsRepo := postgres.NewJobsRepo(pool, nil)
	usersRepo := postgres.NewUsersRepo(pool, nil, jobsRepo)
	entries := postgres.NewTimeEntriesRepo(pool, nil)

	router := apphttp.NewRouter(apphttp.Deps{
		Env:                  "test",
		Log:                  logger,
		Users:                usersRepo,
		RefreshTokens:        postgres.NewRefreshTokensRepo(pool, nil),
		Projects:             postgres.NewProjectsRepo(pool, nil),
		TimeEntries:          entries,
		JWT:                  auth.NewManager("test-secret-key", 60*time.Minute, 7*24*time.Hour),
		RequireVerifiedEmail: true,
		Cache:                cache.NewMemory(time.Minute),
		Location:             time.UTC,
		Checks: []handlers.Check{
			{Name: "db", Ping: pool.Ping},
		},
	})

	return &testApp{router: router, pool: pool, jobs: jobsRepo, users: usersRepo, log: logger}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE notification_deliveries, jobs, time_entries, projects, refresh_tokens, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func (a *testApp) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d. body=%s", want, w.Code, w.Body.String())
	}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// registerVerifiedUser signs up email and confirms it, returning an access token.
func (a *testApp) registerVerifiedUser(t *testing.T, email, username string) (userID, access, refresh string) {
	t.Helper()

	mustStatus(t, a.call(t, http.MethodPost, "/api/auth/register/", "", map[string]string{
		"username":        username,
		"email":           email,
		"password":        "password123",
		"passwordConfirm": "password123",
	}), http.StatusCreated)

	u, err := a.users.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}

	mustStatus(t, a.call(t, http.MethodPost, "/api/auth/verify-email/", "", map[string]string{
		"token": u.EmailVerificationToken,
	}), http.StatusOK)

	var login struct {
		Tokens auth.Pair `json:"tokens"`
	}
	w := a.call(t, http.MethodPost, "/api/auth/login/", "", map[string]string{
		"email":    email,
		"password": "password123",
	})
	mustStatus(t, w, http.StatusOK)
	decodeJSON(t, w, &login)

	return u.ID, login.Tokens.Access, login.Tokens.Refresh
}
