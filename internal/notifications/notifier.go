package notifications

import "context"

type SendVerificationEmailInput struct {
	UserID   string
	Email    string
	Username string
	Token    string
}

// Notifier delivers user-facing messages. Implementations return a provider
// message id when the provider hands one back.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, input SendVerificationEmailInput) (providerMessageID *string, err error)
}
