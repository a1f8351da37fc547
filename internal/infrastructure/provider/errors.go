package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures so the sync coordinator can decide
// between retrying, backing off, and giving up on the item.
type ErrorKind int

const (
	// KindTransient covers network failures and 5xx responses; retryable.
	KindTransient ErrorKind = iota
	// KindAuthInvalid means the credential was rejected; terminal for this
	// sync, the item needs a re-link.
	KindAuthInvalid
	// KindRateLimited means the provider asked us to slow down; retry after
	// the indicated delay.
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthInvalid:
		return "auth_invalid"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuthInvalid reports whether err is a credential rejection.
func IsAuthInvalid(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindAuthInvalid
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// RetryAfter returns the provider-requested delay and whether err is a rate
// limit. A zero delay with ok=true means "retry at your own pace".
func RetryAfter(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited {
		return pe.RetryAfter, true
	}
	return 0, false
}
