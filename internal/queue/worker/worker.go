package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/notifications"
	"github.com/geocoder89/timetracker/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type DeliveriesRepository interface {
	TryStartVerification(ctx context.Context, jobID, userID, recipient string) error
	MarkVerificationSent(ctx context.Context, userID string, providerMessageID *string) error
	MarkVerificationFailed(ctx context.Context, userID string, errMsg string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	LockTTL       time.Duration
	JobTimeout    time.Duration
}

type Worker struct {
	cfg        Config
	repo       JobsRepository
	deliveries DeliveriesRepository
	notifier   notifications.Notifier
	log        *slog.Logger
	prom       *observability.Prom
	metrics    *observability.JobMetrics
	db         Pinger

	backoff func(attempt int) time.Duration

	readyMu sync.RWMutex
	ready   bool
}

type Option func(*Worker)

func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

func WithProm(p *observability.Prom) Option {
	return func(w *Worker) { w.prom = p }
}

func WithMetrics(m *observability.JobMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDBPinger makes /readyz also check the database.
func WithDBPinger(p Pinger) Option {
	return func(w *Worker) { w.db = p }
}

func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(w *Worker) { w.backoff = fn }
}

func New(cfg Config, repo JobsRepository, deliveries DeliveriesRepository, notifier notifications.Notifier, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}

	w := &Worker{
		cfg:        cfg,
		repo:       repo,
		deliveries: deliveries,
		notifier:   notifier,
		log:        slog.Default(),
		metrics:    observability.NewJobMetrics(),
		backoff:    ExponentialBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) isReady() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

// Run polls for jobs until ctx is cancelled, running at most
// cfg.Concurrency of them at once. In-flight jobs get cfg.ShutdownGrace to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(w.cfg.LockTTL / 2)
	defer staleTicker.Stop()

	// jobs keep running through shutdown until the grace period ends
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	w.log.Info("worker started", "worker_id", w.cfg.WorkerID, "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			w.setReady(false)
			w.log.Info("worker received shutdown signal")
			return w.drain(&wg, cancelJobs)

		case <-staleTicker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				w.log.Error("requeue stale jobs failed", "err", err)
			} else if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
			default:
				continue // pool is full
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.drainQueue(ctx, jobCtx)
			}()
		}
	}
}

// drainQueue processes jobs back to back until the queue is empty or shutdown starts.
func (w *Worker) drainQueue(runCtx, jobCtx context.Context) {
	for runCtx.Err() == nil {
		processed, err := w.ProcessOne(jobCtx)
		if err != nil {
			w.log.Error("process job failed", "err", err)
			return
		}
		if !processed {
			return
		}
	}
}

func (w *Worker) drain(wg *sync.WaitGroup, cancelJobs context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		cancelJobs()
		<-done
		return errors.New("worker shutdown grace period exceeded")
	}
}
