package capture

import (
	"errors"
	"fmt"
)

// Kind classifies a capture failure.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindTransport
	KindProvider
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProvider:
		return "provider"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrMissingCredential means no capture-provider credential is configured.
var ErrMissingCredential = errors.New("capture provider credential not configured")

// Error is a failed capture. Reason is safe to show to a user.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a transport or provider-reported failure.
// Config and validation failures cannot change on a second attempt.
func Retryable(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == KindTransport || ce.Kind == KindProvider
}

// KindOf returns the Kind of err, or 0 when err is not a capture error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
