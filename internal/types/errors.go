package types

import (
	"errors"
	"fmt"
)

// ErrLoadNotFound reports a load id absent from storage.
var ErrLoadNotFound = errors.New("load not found")

// ValidationError reports malformed or missing required input. It fails the
// invocation before any side effects happen.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps a failure or timeout from the completion
// service, persistence, or outbound delivery. It propagates as a processing
// failure with no field updates applied and no email sent.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// PolicyViolation reports that the negotiation policy is unusable: the rate
// range is inverted or a policy field is missing. The ladder is skipped
// rather than guessing at a rate.
type PolicyViolation struct {
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("negotiation policy violation: %s", e.Reason)
}
