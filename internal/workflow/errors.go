package workflow

import "fmt"

// ValidationError indicates the payload failed a local check before any
// remote call was made. Always retryable with corrected input.
type ValidationError struct {
	Kind   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s input: %s", e.Kind, e.Reason)
}

// RejectionError indicates the backend understood the request but declined
// it on domain grounds. Terminal for the attempt, retryable with different
// input; not a system failure.
type RejectionError struct {
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s request rejected: %s", e.Kind, e.Message)
}

// TimeoutError indicates the polling ceiling was exceeded while the backend
// still reported the operation in flight.
type TimeoutError struct {
	Unit    UnitKey
	Elapsed string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation for %s still running after %s; gave up polling", e.Unit, e.Elapsed)
}

// SupersededError indicates a run was cancelled because a newer run started
// for the same unit.
type SupersededError struct {
	Unit UnitKey
}

// Error implements the error interface.
func (e *SupersededError) Error() string {
	return fmt.Sprintf("run for %s superseded by a newer run", e.Unit)
}
