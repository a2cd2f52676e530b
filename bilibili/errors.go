package bilibili

import (
	"errors"
	"fmt"
)

// ErrSessionExpired means the account's cookies are no longer valid.
// Fatal to that account's poller; other accounts are unaffected.
var ErrSessionExpired = errors.New("bilibili: session expired")

// API codes that indicate the login session is gone
const (
	codeNotLoggedIn   = -101
	codeAccountBanned = -102
	codeCSRFInvalid   = -111
)

// TransientError wraps a retryable failure: transport errors, HTTP 5xx,
// undecodable responses, and non-auth API error codes on fetches.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("bilibili: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SendError is a definitive send failure reported by the API.
// Not retried automatically, to avoid duplicate sends.
type SendError struct {
	Code    int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("bilibili: send failed: code %d: %s", e.Code, e.Message)
}

// classifyFetchCode maps a non-zero API code on a read endpoint to an error
func classifyFetchCode(op string, code int, message string) error {
	switch code {
	case codeNotLoggedIn, codeAccountBanned:
		return fmt.Errorf("%s: code %d: %s: %w", op, code, message, ErrSessionExpired)
	default:
		return &TransientError{Op: op, Err: fmt.Errorf("api code %d: %s", code, message)}
	}
}
