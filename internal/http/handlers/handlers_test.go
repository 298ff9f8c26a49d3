package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/http/handlers"
	"github.com/geocoder89/timetracker/internal/http/middlewares"
	"github.com/geocoder89/timetracker/internal/repo/memory"
	"github.com/gin-gonic/gin"
)

// fixed Wednesday afternoon
var baseNow = time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store *memory.Store
	cache *cache.Memory
	jwt   *auth.Manager
	clock *testClock
	r     *gin.Engine
}

// newTestEnv wires handlers onto memory stores. Protected routes take the
// caller's id from X-Test-User instead of a bearer token.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store: memory.NewStore(),
		cache: cache.NewMemory(time.Minute),
		jwt:   auth.NewManager("test-secret", 15*time.Minute, 24*time.Hour),
		clock: &testClock{now: baseNow},
	}

	authH := handlers.NewAuthHandler(env.store.Users(), env.store.RefreshTokens(), env.jwt, true, nil)
	projectsH := handlers.NewProjectsHandler(env.store.Projects(), env.cache, nil)
	timerH := handlers.NewTimerHandler(env.store.TimeEntries(), env.cache, nil, nil).WithClock(env.clock.Now)
	dashboardH := handlers.NewDashboardHandler(env.store.TimeEntries(), env.cache, time.UTC, nil).WithClock(env.clock.Now)

	r := gin.New()
	r.POST("/api/auth/register/", authH.Register)
	r.POST("/api/auth/verify-email/", authH.VerifyEmail)
	r.POST("/api/auth/login/", authH.Login)
	r.POST("/api/auth/refresh/", authH.Refresh)
	r.POST("/api/auth/logout/", authH.Logout)

	p := r.Group("/api")
	p.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middlewares.CtxUserID, id)
		}
		c.Next()
	})
	p.GET("/projects/", projectsH.List)
	p.POST("/projects/", projectsH.Create)
	p.GET("/projects/:id/", projectsH.Get)
	p.PUT("/projects/:id/", projectsH.Update)
	p.DELETE("/projects/:id/", projectsH.Delete)
	p.GET("/time-entries/", timerH.ListEntries)
	p.POST("/timer/start/", timerH.Start)
	p.POST("/timer/stop/", timerH.Stop)
	p.GET("/timer/status/", timerH.Status)
	p.GET("/dashboard/", dashboardH.Summary)

	env.r = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, want, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)

	got := decode[errorBody](t, w)
	if got.Error.Code != code {
		t.Fatalf("error code = %q, want %q", got.Error.Code, code)
	}
}
