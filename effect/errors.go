package effect

import (
	"errors"
	"fmt"
)

// Sentinel errors for execution outcomes that carry no extra payload.
var (
	// ErrTimeoutExceeded is returned when a timed effect did not complete
	// within its duration.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrRaceTimeout is returned when no race branch succeeded.
	ErrRaceTimeout = errors.New("race timeout: no branch succeeded")

	// ErrSessionNotFound is returned when a coordination session id does not
	// resolve to a live session.
	ErrSessionNotFound = errors.New("coordination session not found")
)

// UnknownEffectError is returned when the engine is asked to execute a
// descriptor kind it does not recognize.
type UnknownEffectError struct {
	Tag string
}

func (e *UnknownEffectError) Error() string {
	return fmt.Sprintf("unknown effect: %q", e.Tag)
}

// ExecutionError wraps any unexpected leaf failure so callers always see a
// value from the taxonomy rather than an arbitrary error.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// RetriesExhaustedError is returned when a retry combinator used up all its
// attempts. Last carries the final attempt's failure.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// CompensationError is returned when both the primary effect and its
// compensation fallback failed.
type CompensationError struct {
	Original     error
	Compensation error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed: %v (original: %v)", e.Compensation, e.Original)
}

func (e *CompensationError) Unwrap() error { return e.Original }

// CoordinationError is returned when a coordination protocol failed mid
// flight. Partial holds the outputs gathered before the failure, keyed by
// peer id.
type CoordinationError struct {
	Cause   error
	Partial map[string]any
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination failed: %v (%d partial results)", e.Cause, len(e.Partial))
}

func (e *CoordinationError) Unwrap() error { return e.Cause }

// Failed normalizes err into the taxonomy: errors already belonging to it
// pass through, anything else is wrapped as an ExecutionError.
func Failed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeoutExceeded) || errors.Is(err, ErrRaceTimeout) || errors.Is(err, ErrSessionNotFound) {
		return err
	}
	var (
		unknown      *UnknownEffectError
		execution    *ExecutionError
		retries      *RetriesExhaustedError
		compensation *CompensationError
		coordination *CoordinationError
	)
	if errors.As(err, &unknown) || errors.As(err, &execution) || errors.As(err, &retries) ||
		errors.As(err, &compensation) || errors.As(err, &coordination) {
		return err
	}
	return &ExecutionError{Cause: err}
}
