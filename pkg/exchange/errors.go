package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the taxonomy in the design: who retries it,
// and whether it ever surfaces as a halt condition.
type Kind string

const (
	KindConfiguration           Kind = "CONFIGURATION"
	KindTransportTransient      Kind = "TRANSPORT_TRANSIENT"
	KindTransportPermanent      Kind = "TRANSPORT_PERMANENT"
	KindAuthentication          Kind = "AUTHENTICATION"
	KindClockSkew               Kind = "CLOCK_SKEW"
	KindRateLimited             Kind = "RATE_LIMITED"
	KindOrderExecution          Kind = "ORDER_EXECUTION"
	KindStatusCheck             Kind = "STATUS_CHECK"
	KindEmergencyClosureFailure Kind = "EMERGENCY_CLOSURE_FAILURE"
	KindInvariantViolation      Kind = "INVARIANT_VIOLATION"
)

// Error is a taxonomy-tagged error. errors.As unwraps to this type so
// callers can branch on Kind without string matching.
type Error struct {
	Kind Kind
	Op   string // short operation name, e.g. "SubmitOrder"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Retryable reports whether the taxonomy kind is one the gateway's retry
// loop should act on (transient transport or a single clock-skew resync).
func (k Kind) Retryable() bool {
	return k == KindTransportTransient || k == KindClockSkew
}
