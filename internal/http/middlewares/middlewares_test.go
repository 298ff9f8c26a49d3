package middlewares

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/timetracker/internal/actorctx"
	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f fakeVerifier) VerifyAccessToken(string) (*auth.Claims, error) {
	return f.claims, f.err
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	return r
}

func TestRequireAuth(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier fakeVerifier
		want     int
	}{
		{"missing header", "", fakeVerifier{}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fakeVerifier{}, http.StatusUnauthorized},
		{"empty token", "Bearer  ", fakeVerifier{}, http.StatusUnauthorized},
		{"invalid token", "Bearer abc", fakeVerifier{err: errors.New("bad")}, http.StatusUnauthorized},
		{"valid token", "Bearer abc", fakeVerifier{claims: &auth.Claims{UserID: "u1", Email: "a@example.com"}}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newEngine()
			r.GET("/me", NewAuthMiddleware(tc.verifier).RequireAuth(), func(c *gin.Context) {
				id, _ := UserIDFromContext(c)
				if actor, _ := actorctx.UserIDFrom(c.Request.Context()); actor != id {
					c.String(http.StatusInternalServerError, "actor %q != %q", actor, id)
					return
				}
				c.String(http.StatusOK, id)
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("got %d want %d body=%s", w.Code, tc.want, w.Body.String())
			}

			if tc.want == http.StatusOK {
				if w.Body.String() != "u1" {
					t.Fatalf("user id not on context: %q", w.Body.String())
				}
				return
			}

			var body errorBody
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body.Error.Code != "unauthorized" || body.Error.RequestID == "" {
				t.Fatalf("unexpected error body: %s", w.Body.String())
			}
		})
	}
}

func TestRequestIDEchoesHeader(t *testing.T) {
	r := newEngine()
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRequestLoggerLogsRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := newEngine()
	r.Use(RequestLogger(log))
	r.GET("/api/items/:id/", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/items/7/", nil))

	out := buf.String()
	if !strings.Contains(out, `"route":"/api/items/:id/"`) || !strings.Contains(out, `"status":418`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestRequireJSON(t *testing.T) {
	r := newEngine()
	r.Use(RequireJSON())
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	r := newEngine()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing allow-origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow-origin for unknown origin")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	r := newEngine()
	r.Use(MaxBodyBytes(8))
	r.POST("/", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newEngine()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Content-Security-Policy") != defaultCSP {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}

func TestSecurityHeadersRelaxedForDocs(t *testing.T) {
	r := newEngine()
	r.Use(SecurityHeaders())
	r.GET("/docs", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs", nil))
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "https://unpkg.com") {
		t.Fatalf("docs page needs the swagger cdn: %q", w.Header().Get("Content-Security-Policy"))
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := rl.Allow(ctx, "k"); !ok {
			t.Fatalf("hit %d should pass", i)
		}
	}

	ok, retry, _ := rl.Allow(ctx, "k")
	if ok || retry != time.Minute {
		t.Fatalf("expected block with 1m retry, ok=%v retry=%v", ok, retry)
	}

	now = now.Add(61 * time.Second)
	if ok, _, _ := rl.Allow(ctx, "k"); !ok {
		t.Fatalf("new window should pass")
	}
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRedisRateLimiter(rdb, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, err := rl.Allow(ctx, "ip:1.2.3.4"); !ok || err != nil {
			t.Fatalf("hit %d should pass, err=%v", i, err)
		}
	}

	ok, retry, err := rl.Allow(ctx, "ip:1.2.3.4")
	if err != nil || ok {
		t.Fatalf("expected block, ok=%v err=%v", ok, err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry after %v", retry)
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _, _ := rl.Allow(ctx, "ip:1.2.3.4"); !ok {
		t.Fatalf("expired window should pass")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	r := newEngine()
	r.Use(RateLimiterMiddleware(NewRateLimiter(1, time.Minute), KeyByIP))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}
}
