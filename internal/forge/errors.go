package forge

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	// KindTransient covers network failures and upstream 5xx responses;
	// the pipeline retries these within its budget.
	KindTransient ErrorKind = iota
	// KindAuth means the credential was rejected. Never retried.
	KindAuth
	// KindNotFound means the repository, branch or resource is missing.
	KindNotFound
	// KindRateLimited means the upstream asked us to back off; RetryAfter
	// carries its hint when one was given.
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Error is the only error type adapters return for upstream failures.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func IsAuth(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindAuth
}

func IsNotFound(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindNotFound
}

func IsRateLimited(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindRateLimited
}

func IsTransient(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindTransient
}

// RetryAfter extracts the upstream backoff hint, zero when absent.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
