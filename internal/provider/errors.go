package provider

import (
	"errors"
	"fmt"
)

// Kind classifies adapter and credential failures so callers can decide
// whether to abort, skip, or retry.
type Kind int

const (
	// KindConfig is a missing or malformed credential/config field.
	// Fatal, never retried.
	KindConfig Kind = iota + 1

	// KindAuthExpired means the provider rejected the refresh token or
	// bearer credential. The account requires re-consent; subsequent
	// syncs short-circuit until re-authorized.
	KindAuthExpired

	// KindTransient is a network or provider outage, safe to retry on
	// the next scheduled tick.
	KindTransient

	// KindNotFound means a referenced mailbox/folder no longer exists
	// upstream. Adapters return an empty result instead.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuthExpired:
		return "auth_expired"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error wrapping err.
func Errorf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, or zero if it carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsConfig reports whether err is a fatal configuration error.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }

// IsAuthExpired reports whether err means the account needs re-consent.
func IsAuthExpired(err error) bool { return KindOf(err) == KindAuthExpired }

// IsTransient reports whether err is retryable on a later tick.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsNotFound reports whether err refers to a missing upstream resource.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
