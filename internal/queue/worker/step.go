package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/delivery"
	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/jobs"
	"github.com/geocoder89/timetracker/internal/notifications"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// ProcessOne claims and runs a single job. It reports false when nothing was ready.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	w.metrics.IncClaimed()
	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	runCtx, cancelRun := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err = w.execute(runCtx, j)
	cancelRun()
	elapsed := time.Since(start)
	w.metrics.ObserveDuration(elapsed)

	if err != nil {
		w.handleFailure(ctx, j, err, elapsed)
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.metrics.IncDone()
	w.prom.ObserveJob(j.Type, "done", elapsed)
	w.log.InfoContext(ctx, "job done", "job_id", j.ID, "type", j.Type, "attempts", j.Attempts+1)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	switch j.Type {
	case jobs.TypeVerificationEmail:
		return w.sendVerificationEmail(ctx, j)
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrPermanent, j.Type)
	}
}

func (w *Worker) sendVerificationEmail(ctx context.Context, j job.Job) error {
	p, err := jobs.DecodeVerificationEmail(j)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	err = w.deliveries.TryStartVerification(ctx, j.ID, p.UserID, p.Email)
	if err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			w.metrics.IncDeduplicated()
			w.log.InfoContext(ctx, "verification email already sent", "job_id", j.ID, "user_id", p.UserID)
			return nil
		}
		// ErrInProgress included: another attempt owns it, come back later
		return err
	}

	msgID, err := w.notifier.SendVerificationEmail(ctx, notifications.SendVerificationEmailInput{
		UserID:   p.UserID,
		Email:    p.Email,
		Username: p.Username,
		Token:    p.Token,
	})
	if err != nil {
		if markErr := w.deliveries.MarkVerificationFailed(ctx, p.UserID, err.Error()); markErr != nil {
			w.log.ErrorContext(ctx, "mark delivery failed", "user_id", p.UserID, "err", markErr)
		}
		return err
	}

	return w.deliveries.MarkVerificationSent(ctx, p.UserID, msgID)
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error, elapsed time.Duration) {
	msg := cause.Error()
	attempt := j.Attempts + 1

	if errors.Is(cause, ErrPermanent) || attempt >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, msg); err != nil {
			w.log.ErrorContext(ctx, "mark job failed", "job_id", j.ID, "err", err)
		}
		w.metrics.IncFailed()
		w.prom.ObserveJob(j.Type, "failed", elapsed)
		w.log.ErrorContext(ctx, "job failed", "job_id", j.ID, "type", j.Type, "attempts", attempt, "err", msg)
		return
	}

	runAt := time.Now().UTC().Add(w.backoff(j.Attempts))
	if err := w.repo.Reschedule(ctx, j.ID, runAt, msg); err != nil {
		w.log.ErrorContext(ctx, "reschedule job", "job_id", j.ID, "err", err)
		return
	}

	w.metrics.IncRetried()
	w.prom.ObserveJob(j.Type, "retry", elapsed)
	w.log.WarnContext(ctx, "job rescheduled", "job_id", j.ID, "type", j.Type, "attempts", attempt, "run_at", runAt, "err", msg)
}
