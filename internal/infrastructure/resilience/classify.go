package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// Verdict tells the executor what to do with a failed call.
type Verdict struct {
	Retry bool
	// Trip counts the failure against the circuit breaker.
	Trip bool
}

var (
	// Transient failures are retried and count against the breaker.
	Transient = Verdict{Retry: true, Trip: true}
	// Broken failures are not retried but still count against the breaker.
	Broken = Verdict{Trip: true}
	// Rejected failures are the caller's fault: no retry, no trip.
	Rejected = Verdict{}
)

type Classifier func(err error) Verdict

// Settle handles outcomes shared by every collaborator. ok is false when the
// adapter's own classifier must decide.
func Settle(err error) (v Verdict, ok bool) {
	switch {
	case err == nil:
		return Rejected, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Rejected, true
	case IsCircuitOpen(err):
		return Transient, true
	case domain.IsKind(err, domain.ErrTemporary):
		return Transient, true
	}
	return Verdict{}, false
}

// AsTemporary tags err with domain.ErrTemporary when classify considers it
// retryable, so HTTP callers map it to 503.
func AsTemporary(operation string, err error, classify Classifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if IsCircuitOpen(err) || classify(err).Retry {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
