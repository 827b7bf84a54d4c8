package dbsp

import (
	"errors"
	"fmt"

	"github.com/l7mp/ddflow/pkg/progress"
)

var (
	// ErrMalformedInput is returned when an input record falls outside the expected domain.
	ErrMalformedInput = errors.New("malformed input")
	// ErrInvalidGraph is returned when a dataflow is constructed incorrectly.
	ErrInvalidGraph = errors.New("invalid dataflow graph")
	// ErrResourceExhausted is returned when an operator exceeds its configured memory bound.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrDivergence is returned when an iteration scope exceeds its round bound.
	ErrDivergence = errors.New("iteration diverged")
	// ErrClosed is returned when updating an input session that has been closed.
	ErrClosed = errors.New("input session closed")
)

// OperatorError reports a failure of an operator at a given time.
type OperatorError struct {
	Op    string
	Time  progress.Time
	Cause error
}

// Error implements the error interface.
func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %s at %s: %v", e.Op, e.Time, e.Cause)
}

// Unwrap returns the cause.
func (e *OperatorError) Unwrap() error { return e.Cause }

func newOperatorError(op string, t progress.Time, cause error) error {
	var oe *OperatorError
	if errors.As(cause, &oe) {
		return cause
	}
	return &OperatorError{Op: op, Time: t, Cause: cause}
}
