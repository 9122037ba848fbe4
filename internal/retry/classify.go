package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the recovery category of a failed operation.
type Kind string

const (
	// KindOK means the operation succeeded.
	KindOK Kind = "ok"
	// KindRetryable covers rate limiting (429) and server errors (5xx).
	KindRetryable Kind = "retry"
	// KindFatal means credentials were rejected (401/403) and must be
	// refreshed before the category is attempted again.
	KindFatal Kind = "fatal"
	// KindUnknown is any other failure; it is surfaced, not retried.
	KindUnknown Kind = "error"
)

// Suggested waits and recovery actions.
const (
	RateLimitWait            = 30 * time.Second
	ServerErrorWait          = 60 * time.Second
	ActionRefreshCredentials = "refresh_credentials"
)

// Error classes used for the error distribution in metrics.
const (
	ClassRateLimit = "rate_limit"
	ClassAuth      = "auth"
	ClassNetwork   = "network"
	ClassOther     = "other"
)

// ErrorTypeNetwork marks a RemoteError without a response, such as a
// connection failure that exhausted the transport's own retries.
const ErrorTypeNetwork = "NetworkError"

// RemoteError is a failed call to the remote service carrying its HTTP
// status code. Classification requires this structured value.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.StatusCode == 0 {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s", e.Op, msg)
		}
		return msg
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the status code from err if it wraps a RemoteError.
func StatusCode(err error) (int, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode, true
	}
	return 0, false
}

// Outcome is the explicit result of classifying an operation's error.
type Outcome struct {
	Kind       Kind          `json:"status"`
	Message    string        `json:"message"`
	Wait       time.Duration `json:"wait_time,omitempty"`
	Action     string        `json:"action,omitempty"`
	ErrorType  string        `json:"error_type,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
}

// Class returns the metrics error class for the outcome.
func (o Outcome) Class() string {
	switch {
	case o.Kind == KindOK:
		return ""
	case o.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimit
	case o.Kind == KindFatal:
		return ClassAuth
	case o.StatusCode >= 500, o.ErrorType == ErrorTypeNetwork:
		return ClassNetwork
	default:
		return ClassOther
	}
}

// Classify maps an error into a recovery outcome. Precedence: 429, then
// 401/403, then 5xx, then everything else. Only the structured status code
// of a RemoteError is inspected, never the message text.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: KindOK}
	}

	var re *RemoteError
	if !errors.As(err, &re) {
		return Outcome{
			Kind:      KindUnknown,
			Message:   err.Error(),
			ErrorType: errorType(err),
		}
	}

	code := re.StatusCode
	switch {
	case code == 0:
		return Outcome{
			Kind:      KindUnknown,
			Message:   re.Error(),
			ErrorType: ErrorTypeNetwork,
		}
	case code == http.StatusTooManyRequests:
		return Outcome{
			Kind:       KindRetryable,
			Message:    "Rate limit reached",
			Wait:       RateLimitWait,
			StatusCode: code,
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Outcome{
			Kind:       KindFatal,
			Message:    "Authentication failed",
			Action:     ActionRefreshCredentials,
			StatusCode: code,
		}
	case code >= 500 && code <= 599:
		return Outcome{
			Kind:       KindRetryable,
			Message:    "Server error",
			Wait:       ServerErrorWait,
			StatusCode: code,
		}
	default:
		return Outcome{
			Kind:       KindUnknown,
			Message:    re.Error(),
			ErrorType:  "RemoteError",
			StatusCode: code,
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}
	return fmt.Sprintf("%T", err)
}

// IsRetryable reports whether err classifies as retryable.
func IsRetryable(err error) bool {
	return Classify(err).Kind == KindRetryable
}
