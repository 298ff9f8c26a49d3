package jobs

import (
	"errors"
	"testing"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/user"
)

func TestVerificationEmail_EncodeDecode(t *testing.T) {
	u := user.New("a@x.com", "alice", "hash")

	req, err := NewVerificationEmailJob(u)
	if err != nil {
		t.Fatalf("NewVerificationEmailJob error: %v", err)
	}

	if req.IdempotencyKey == nil || *req.IdempotencyKey != VerificationEmailKey(u.ID) {
		t.Fatalf("unexpected idempotency key: %v", req.IdempotencyKey)
	}

	j := job.New(req)

	p, err := DecodeVerificationEmail(j)
	if err != nil {
		t.Fatalf("DecodeVerificationEmail error: %v", err)
	}

	if p.Token != u.EmailVerificationToken {
		t.Fatalf("token = %q, want %q", p.Token, u.EmailVerificationToken)
	}
	if p.Email != "a@x.com" || p.Username != "alice" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestDecodeVerificationEmail_TypeMismatch(t *testing.T) {
	j := job.New(job.CreateRequest{Type: "something.else", Payload: []byte(`{}`)})

	if _, err := DecodeVerificationEmail(j); !errors.Is(err, ErrPayloadTypeMismatch) {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestDecodeVerificationEmail_MissingFields(t *testing.T) {
	j := job.New(job.CreateRequest{Type: TypeVerificationEmail, Payload: []byte(`{"userId":"u1"}`)})

	if _, err := DecodeVerificationEmail(j); !errors.Is(err, ErrInvalidJobPayload) {
		t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
	}
}

func TestDecodeVerificationEmail_BadJSON(t *testing.T) {
	j := job.New(job.CreateRequest{Type: TypeVerificationEmail, Payload: []byte(`{`)})

	if _, err := DecodeVerificationEmail(j); !errors.Is(err, ErrInvalidJobPayload) {
		t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
	}
}
