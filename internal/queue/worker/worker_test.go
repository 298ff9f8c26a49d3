package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/user"
	"github.com/geocoder89/timetracker/internal/notifications"
	"github.com/geocoder89/timetracker/internal/repo/memory"
	"github.com/gin-gonic/gin"
)

type fakeNotifier struct {
	err   error
	calls int
	last  notifications.SendVerificationEmailInput
}

func (f *fakeNotifier) SendVerificationEmail(ctx context.Context, in notifications.SendVerificationEmailInput) (*string, error) {
	f.calls++
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	id := "msg"
	return &id, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, n notifications.Notifier) (*Worker, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	w := New(Config{WorkerID: "test-worker", PollInterval: 5 * time.Millisecond},
		store.Jobs(), store.Deliveries(), n,
		WithLogger(quietLogger()),
		WithBackoff(func(int) time.Duration { return time.Hour }),
	)
	return w, store
}

func registerUser(t *testing.T, store *memory.Store) user.User {
	t.Helper()

	u, err := store.Users().Create(context.Background(), user.New("a@example.com", "alice", "hash"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func onlyJob(t *testing.T, store *memory.Store) job.Job {
	t.Helper()

	all := store.Jobs().All()
	if len(all) != 1 {
		t.Fatalf("expected one job, got %d", len(all))
	}
	return all[0]
}

func TestProcessOne_SendsVerificationEmail(t *testing.T) {
	n := &fakeNotifier{}
	w, store := newTestWorker(t, n)
	u := registerUser(t, store)

	processed, err := w.ProcessOne(context.Background())
	if err != nil || !processed {
		t.Fatalf("expected a processed job, processed=%v err=%v", processed, err)
	}

	if n.calls != 1 || n.last.Token != u.EmailVerificationToken {
		t.Fatalf("notifier not called with token: %+v", n.last)
	}

	if got := onlyJob(t, store); got.Status != job.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if got := store.Deliveries().Status(u.ID); got != "sent" {
		t.Fatalf("expected delivery sent, got %q", got)
	}

	processed, err = w.ProcessOne(context.Background())
	if err != nil || processed {
		t.Fatalf("expected empty queue, processed=%v err=%v", processed, err)
	}
}

func TestProcessOne_RetriesWithBackoff(t *testing.T) {
	n := &fakeNotifier{err: errors.New("provider down")}
	w, store := newTestWorker(t, n)
	u := registerUser(t, store)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := onlyJob(t, store)
	if got.Status != job.StatusPending || got.Attempts != 1 {
		t.Fatalf("expected pending with 1 attempt, got %s/%d", got.Status, got.Attempts)
	}
	if got.RunAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("expected run_at pushed out by backoff, got %v", got.RunAt)
	}
	if got.LastError == nil || *got.LastError != "provider down" {
		t.Fatalf("expected last error recorded, got %v", got.LastError)
	}
	if s := store.Deliveries().Status(u.ID); s != "failed" {
		t.Fatalf("expected delivery failed, got %q", s)
	}
	if snap := w.Metrics().Snapshot(); snap.Retried != 1 {
		t.Fatalf("expected one retry, got %+v", snap)
	}
}

func TestProcessOne_FailsAtMaxAttempts(t *testing.T) {
	n := &fakeNotifier{err: errors.New("provider down")}
	w, store := newTestWorker(t, n)

	j, err := store.Jobs().Create(context.Background(), job.CreateRequest{
		Type:        "user.verification_email",
		Payload:     json.RawMessage(`{"userId":"u1","email":"a@example.com","token":"t"}`),
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.Jobs().Get(j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestProcessOne_UnknownTypeIsPermanent(t *testing.T) {
	w, store := newTestWorker(t, &fakeNotifier{})

	j, _ := store.Jobs().Create(context.Background(), job.CreateRequest{
		Type:    "nope",
		Payload: json.RawMessage(`{}`),
	})

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.Jobs().Get(j.ID)
	if got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("expected failed after one attempt, got %s/%d", got.Status, got.Attempts)
	}
}

func TestProcessOne_SkipsAlreadySent(t *testing.T) {
	n := &fakeNotifier{}
	w, store := newTestWorker(t, n)
	u := registerUser(t, store)
	ctx := context.Background()

	_ = store.Deliveries().TryStartVerification(ctx, "earlier", u.ID, u.Email)
	_ = store.Deliveries().MarkVerificationSent(ctx, u.ID, nil)

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if n.calls != 0 {
		t.Fatalf("notifier must not be called again, calls=%d", n.calls)
	}
	if got := onlyJob(t, store); got.Status != job.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if snap := w.Metrics().Snapshot(); snap.Deduplicated != 1 {
		t.Fatalf("expected one dedup, got %+v", snap)
	}
}

func TestProcessOne_ResumesSendAfterCrash(t *testing.T) {
	n := &fakeNotifier{}
	w, store := newTestWorker(t, n)
	u := registerUser(t, store)
	ctx := context.Background()

	// a previous run of this job claimed the delivery and died before reporting
	j := onlyJob(t, store)
	if err := store.Deliveries().TryStartVerification(ctx, j.ID, u.ID, u.Email); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if n.calls != 1 {
		t.Fatalf("expected the email to be sent once, calls=%d", n.calls)
	}
	if got := onlyJob(t, store); got.Status != job.StatusDone {
		t.Fatalf("expected done, got %s (last error %v)", got.Status, got.LastError)
	}
	if got := store.Deliveries().Status(u.ID); got != "sent" {
		t.Fatalf("expected delivery sent, got %q", got)
	}
}

func TestProcessOne_WaitsOnLiveSendFromOtherJob(t *testing.T) {
	n := &fakeNotifier{}
	w, store := newTestWorker(t, n)
	u := registerUser(t, store)
	ctx := context.Background()

	if err := store.Deliveries().TryStartVerification(ctx, "other-job", u.ID, u.Email); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if n.calls != 0 {
		t.Fatalf("notifier must wait for the live send, calls=%d", n.calls)
	}
	if got := onlyJob(t, store); got.Status != job.StatusPending || got.Attempts != 1 {
		t.Fatalf("expected pending retry, got %s/%d", got.Status, got.Attempts)
	}
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	n := &fakeNotifier{}
	w, store := newTestWorker(t, n)
	registerUser(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for onlyJob(t, store).Status != job.StatusDone {
		select {
		case <-deadline:
			t.Fatalf("job was not processed in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if w.isReady() {
		t.Fatalf("worker should not be ready after shutdown")
	}
}

func TestExponentialBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		min     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{3, 16 * time.Second},
		{30, 5 * time.Minute},
	}

	for _, tc := range cases {
		got := ExponentialBackoff(tc.attempt)
		if got < tc.min || got >= tc.min+maxJitter {
			t.Fatalf("attempt %d: got %v, want [%v, %v)", tc.attempt, got, tc.min, tc.min+maxJitter)
		}
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w, _ := newTestWorker(t, &fakeNotifier{})
	w.db = fakePinger{}
	h := w.HealthHandler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before run: %d", code)
	}

	w.setReady(true)
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz when ready: %d", code)
	}

	w.db = fakePinger{err: errors.New("down")}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with db down: %d", code)
	}

	if code := get("/stats"); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
}
