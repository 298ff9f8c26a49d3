package memory

import (
	"context"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/delivery"
)

type deliveryRow struct {
	JobID             string
	Recipient         string
	Status            string
	ProviderMessageID *string
	LastError         *string
	SentAt            *time.Time
	UpdatedAt         time.Time
}

type DeliveriesRepo struct {
	s *Store
}

func deliveryKey(userID string) string {
	return delivery.KindVerificationEmail + ":" + userID
}

func (r *DeliveriesRepo) TryStartVerification(ctx context.Context, jobID, userID, recipient string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := deliveryKey(userID)
	row, ok := r.s.deliveries[key]
	now := time.Now().UTC()

	switch {
	case !ok, row.Status == "failed", reclaimable(row, jobID, now):
		r.s.deliveries[key] = deliveryRow{JobID: jobID, Recipient: recipient, Status: "sending", UpdatedAt: now}
		return nil
	case row.SentAt != nil || row.Status == "sent":
		return delivery.ErrAlreadySent
	default:
		return delivery.ErrInProgress
	}
}

func reclaimable(row deliveryRow, jobID string, now time.Time) bool {
	if row.Status != "sending" {
		return false
	}
	return row.JobID == jobID || now.Sub(row.UpdatedAt) > delivery.SendingLease
}

func (r *DeliveriesRepo) MarkVerificationSent(ctx context.Context, userID string, providerMessageID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := deliveryKey(userID)
	row := r.s.deliveries[key]
	now := time.Now().UTC()
	row.Status = "sent"
	row.SentAt = &now
	row.ProviderMessageID = providerMessageID
	row.LastError = nil
	row.UpdatedAt = now
	r.s.deliveries[key] = row
	return nil
}

func (r *DeliveriesRepo) MarkVerificationFailed(ctx context.Context, userID string, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := deliveryKey(userID)
	row, ok := r.s.deliveries[key]
	if !ok {
		return nil
	}
	row.Status = "failed"
	msg := errMsg
	row.LastError = &msg
	row.UpdatedAt = time.Now().UTC()
	r.s.deliveries[key] = row
	return nil
}

// Backdate shifts the last update of userID's delivery, simulating a sender
// that stopped reporting.
func (r *DeliveriesRepo) Backdate(userID string, d time.Duration) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := deliveryKey(userID)
	if row, ok := r.s.deliveries[key]; ok {
		row.UpdatedAt = row.UpdatedAt.Add(-d)
		r.s.deliveries[key] = row
	}
}

// Status is a test helper returning the delivery status for userID.
func (r *DeliveriesRepo) Status(userID string) string {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.deliveries[deliveryKey(userID)].Status
}
