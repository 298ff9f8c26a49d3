package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrProviderDown = errors.New("notification provider down")

// LogNotifier writes the verification link to the log instead of mailing it.
type LogNotifier struct {
	log     *slog.Logger
	urlBase string

	// Delay and Fail simulate a slow or broken provider.
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger, verifyURLBase string) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log, urlBase: verifyURLBase}
}

func (n *LogNotifier) VerificationURL(token string) string {
	base := strings.TrimRight(n.urlBase, "/")
	if base == "" {
		return token
	}
	return base + "?token=" + token
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, in SendVerificationEmailInput) (*string, error) {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n.Fail {
		return nil, ErrProviderDown
	}

	id := "log-" + uuid.NewString()

	n.log.InfoContext(ctx, "notification.verification_email",
		"user_id", in.UserID,
		"email", in.Email,
		"username", in.Username,
		"verify_url", n.VerificationURL(in.Token),
		"message_id", id,
	)
	return &id, nil
}
