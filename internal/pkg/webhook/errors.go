package webhook

import (
	"errors"
	"fmt"
)

// ValidationError marks a permanent failure: invalid signature, missing
// required metadata, or a payload that fails schema validation. It is never
// retried and maps to a 4xx response at the HTTP boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "webhook validation failed: " + e.Reason
}

// NewValidationError builds a ValidationError with a printf-style reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProcessingError marks a transient failure: the booking service or the
// store misbehaved and the attempt is worth retrying.
type ProcessingError struct {
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return "webhook processing failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "webhook processing failed: " + e.Reason
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// OutcomeKind tags the result of one processing attempt. The worker's retry
// policy dispatches on the tag instead of on error identity.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransientFailure
	OutcomePermanentFailure
)

// Outcome is the processor's result for a single event.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func TransientFailure(reason string) Outcome {
	return Outcome{Kind: OutcomeTransientFailure, Reason: reason}
}

func PermanentFailure(reason string) Outcome {
	return Outcome{Kind: OutcomePermanentFailure, Reason: reason}
}
