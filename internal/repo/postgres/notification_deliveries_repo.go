package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/delivery"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationDeliveriesRepo records at most one successful delivery per (kind, user).
type NotificationDeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewNotificationDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *NotificationDeliveriesRepo {
	return &NotificationDeliveriesRepo{pool: pool, prom: prom}
}

// TryStartVerification claims the right to send the verification email for userID.
// It returns delivery.ErrAlreadySent or delivery.ErrInProgress when another
// attempt owns it.
func (r *NotificationDeliveriesRepo) TryStartVerification(ctx context.Context, jobID, userID, recipient string) error {
	kind := delivery.KindVerificationEmail

	err := r.prom.ObserveDB("deliveries.try_start.insert", func() error {
		_, e := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (kind, user_id, job_id, recipient, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
	`, kind, userID, jobID, recipient)
		return e
	})

	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// Row exists. Only one worker can flip it back to sending: a failed row,
	// a row left behind by this same job, or one whose sender went quiet.
	var claimed int64
	err = r.prom.ObserveDB("deliveries.try_start.reclaim", func() error {
		tag, e := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending',
		    job_id = $3,
		    recipient = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND user_id = $2
		  AND (
		    status = 'failed'
		    OR (status = 'sending' AND (job_id = $3 OR updated_at < NOW() - $5::float8 * INTERVAL '1 second'))
		  )
	`, kind, userID, jobID, recipient, delivery.SendingLease.Seconds())
		if e != nil {
			return e
		}
		claimed = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}
	if claimed == 1 {
		return nil
	}

	var status string
	var sentAt *time.Time

	err = r.prom.ObserveDB("deliveries.try_start.lookup", func() error {
		return r.pool.QueryRow(ctx, `
		SELECT status, sent_at
		FROM notification_deliveries
		WHERE kind = $1 AND user_id = $2
	`, kind, userID).Scan(&status, &sentAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// row vanished; let the caller retry
			return nil
		}
		return err
	}

	if sentAt != nil || status == "sent" {
		return delivery.ErrAlreadySent
	}

	return delivery.ErrInProgress
}

func (r *NotificationDeliveriesRepo) MarkVerificationSent(ctx context.Context, userID string, providerMessageID *string) error {
	return r.prom.ObserveDB("deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent',
		    sent_at = NOW(),
		    provider_message_id = $3,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND user_id = $2
	`, delivery.KindVerificationEmail, userID, providerMessageID)
		return err
	})
}

func (r *NotificationDeliveriesRepo) MarkVerificationFailed(ctx context.Context, userID string, errMsg string) error {
	return r.prom.ObserveDB("deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $3,
		    updated_at = NOW()
		WHERE kind = $1 AND user_id = $2
	`, delivery.KindVerificationEmail, userID, errMsg)
		return err
	})
}
