// Package classify turns raw upstream error text into the error taxonomy
// the pool and query engine act on.
package classify

import (
	"fmt"
	"regexp"
)

// Kind is one of the error taxonomy buckets from the error-handling design.
type Kind string

const (
	ValidationError  Kind = "validation_error"
	SessionInvalid   Kind = "session_invalid"
	QuotaExhausted   Kind = "quota_exhausted"
	SilentDowngrade  Kind = "silent_downgrade"
	EmptyResponse    Kind = "empty_response"
	Transient        Kind = "transient"
	Fatal            Kind = "fatal"
)

// Error wraps a classified failure. Classification never happens while
// holding the pool mutex (callers classify first, then take the lock to
// record the result).
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a fixed message, no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an already-decided kind to an underlying error. It does no
// classification itself; use FromMessage to pick a kind from message text.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// quotaKeywordRe matches the quota-exhaustion vocabulary on word boundaries.
// Bare "pro" or "limit" substrings are deliberately excluded: they would
// otherwise false-match "provide", "process", "unlimited".
var quotaKeywordRe = regexp.MustCompile(`(?i)\b(pro queries|pro search|rate[- ]limit|quota|remaining|file upload)\b`)

// FromMessage classifies a raw upstream error message using the keyword
// pattern. It never returns ValidationError or SilentDowngrade — those are
// detected structurally, not from message text.
func FromMessage(message string) Kind {
	if quotaKeywordRe.MatchString(message) {
		return QuotaExhausted
	}
	return Transient
}

// ValidationErrorf builds a ValidationError with a formatted message.
func ValidationErrorf(format string, args ...any) *Error {
	return New(ValidationError, fmt.Sprintf(format, args...))
}
