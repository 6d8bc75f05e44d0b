package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidNodeConfig is returned when a node is missing a
	// parameter its kind requires.
	ErrInvalidNodeConfig = errors.New("invalid node configuration")

	// ErrJumpTargetMissing is returned when a jump node's target no
	// longer exists in the graph at execution time.
	ErrJumpTargetMissing = errors.New("jump target missing from graph")

	// ErrIdentityNotFound is returned by collaborators when the subject
	// no longer exists.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrUnknownOperator is returned for a condition operator outside
	// the supported set.
	ErrUnknownOperator = errors.New("unknown condition operator")
)

// TransientError marks a collaborator failure worth retrying: network
// faults, provider 5xx responses, timeouts. Anything not marked
// transient is treated as permanent and fails the enrollment.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MarkTransient wraps an error so the executor retries instead of
// failing the enrollment.
func MarkTransient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether an error should be retried. Timeouts
// count as transient even when the collaborator did not mark them.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
