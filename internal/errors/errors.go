package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure for retry decisions.
type Kind string

const (
	KindRateLimit Kind = "rate_limit"
	KindTimeout   Kind = "timeout"
	KindParse     Kind = "parse"
	KindUpstream  Kind = "upstream"
	KindExhausted Kind = "exhausted"
	KindSink      Kind = "sink"
	KindConfig    Kind = "config"
	KindInput     Kind = "input"
	KindInternal  Kind = "internal"
)

type AppError struct {
	Code    string
	Kind    Kind
	Message string
	// Status is the upstream HTTP status, when one was received.
	Status int
	// Attempt is the number of attempts made before this error surfaced.
	Attempt int
	// Stage names the normalizer stage that failed.
	Stage string
	Cause error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempt)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code string, kind Kind, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigInvalid = &AppError{Code: "CONFIG_001", Kind: KindConfig, Message: "invalid configuration"}
	ErrRegistry      = &AppError{Code: "CONFIG_002", Kind: KindConfig, Message: "invalid supplier registry"}

	ErrRateLimited   = &AppError{Code: "AI_001", Kind: KindRateLimit, Message: "rate limit exceeded"}
	ErrTimeout       = &AppError{Code: "AI_002", Kind: KindTimeout, Message: "analysis call timed out"}
	ErrUpstream      = &AppError{Code: "AI_003", Kind: KindUpstream, Message: "analysis API error"}
	ErrEmptyResponse = &AppError{Code: "AI_004", Kind: KindUpstream, Message: "analysis API returned no text"}

	ErrAttemptsExhausted = &AppError{Code: "QUEUE_001", Kind: KindExhausted, Message: "retry attempts exhausted"}
	ErrQueueClosed       = &AppError{Code: "QUEUE_002", Kind: KindInternal, Message: "queue closed"}

	ErrParse = &AppError{Code: "PARSE_001", Kind: KindParse, Message: "unparsable analysis output"}

	ErrSinkDelivery = &AppError{Code: "SINK_001", Kind: KindSink, Message: "sink delivery failed"}

	ErrBadRequest   = &AppError{Code: "GEN_001", Kind: KindInput, Message: "bad request"}
	ErrUnauthorized = &AppError{Code: "GEN_002", Kind: KindInput, Message: "unauthorized"}
)

// RateLimited reports an upstream throttling response.
func RateLimited(status int, message string) *AppError {
	return &AppError{Code: ErrRateLimited.Code, Kind: KindRateLimit, Message: message, Status: status}
}

func Timeout(cause error) *AppError {
	return &AppError{Code: ErrTimeout.Code, Kind: KindTimeout, Message: ErrTimeout.Message, Cause: cause}
}

// Upstream carries the server-supplied message of a non-success response.
func Upstream(status int, message string) *AppError {
	return &AppError{Code: ErrUpstream.Code, Kind: KindUpstream, Message: message, Status: status}
}

func Parse(stage string, cause error) *AppError {
	return &AppError{Code: ErrParse.Code, Kind: KindParse, Message: ErrParse.Message, Stage: stage, Cause: cause}
}

func Exhausted(attempt int, cause error) *AppError {
	return &AppError{Code: ErrAttemptsExhausted.Code, Kind: KindExhausted, Message: ErrAttemptsExhausted.Message, Attempt: attempt, Cause: cause}
}

func SinkDelivery(sink string, attempt int, cause error) *AppError {
	return &AppError{Code: ErrSinkDelivery.Code, Kind: KindSink, Message: "delivery to " + sink + " failed", Attempt: attempt, Cause: cause}
}

func Wrap(err error, code string, kind Kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Cause:   err,
	}
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsAppError(err error) bool {
	_, ok := As(err)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a fresh attempt may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTimeout:
		return true
	}
	return false
}
