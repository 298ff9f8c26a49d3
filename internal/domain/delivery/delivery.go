package delivery

import (
	"errors"
	"time"
)

const KindVerificationEmail = "user.verification_email"

// SendingLease is how long a "sending" row blocks other jobs. After that the
// sender is presumed dead and the row can be reclaimed.
const SendingLease = 5 * time.Minute

var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification send in progress")
)
