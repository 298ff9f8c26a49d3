package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/user"
)

const TypeVerificationEmail = "user.verification_email"

var (
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for job type")
)

type VerificationEmailPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	Token       string    `json:"token"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p VerificationEmailPayload) Validate() error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.Token) == "" {
		return ErrInvalidJobPayload
	}
	return nil
}

func (p VerificationEmailPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// VerificationEmailKey dedupes the job per user.
func VerificationEmailKey(userID string) string {
	return "user:verify_email:" + userID
}

// NewVerificationEmailJob builds the create request enqueued at registration.
func NewVerificationEmailJob(u user.User) (job.CreateRequest, error) {
	payload := VerificationEmailPayload{
		UserID:      u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Token:       u.EmailVerificationToken,
		RequestedAt: time.Now().UTC(),
	}

	if err := payload.Validate(); err != nil {
		return job.CreateRequest{}, err
	}

	raw, err := payload.JSON()
	if err != nil {
		return job.CreateRequest{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	key := VerificationEmailKey(u.ID)
	uid := u.ID

	return job.CreateRequest{
		Type:           TypeVerificationEmail,
		Payload:        raw,
		MaxAttempts:    10,
		IdempotencyKey: &key,
		Priority:       10,
		UserID:         &uid,
	}, nil
}

// DecodeVerificationEmail pulls the payload back out of a claimed job.
func DecodeVerificationEmail(j job.Job) (VerificationEmailPayload, error) {
	if j.Type != TypeVerificationEmail {
		return VerificationEmailPayload{}, ErrPayloadTypeMismatch
	}

	var p VerificationEmailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return VerificationEmailPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if err := p.Validate(); err != nil {
		return VerificationEmailPayload{}, err
	}
	return p, nil
}
