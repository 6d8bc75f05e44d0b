// Package persistence defines the storage contracts of the flow
// engine and the standardized error types all implementations use.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrAutomationNotFound indicates no automation exists for the id.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrEnrollmentNotFound indicates no enrollment exists for the id.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrAlreadyEnrolled indicates a non-terminal enrollment already
	// exists for the (automation, identity) pair.
	ErrAlreadyEnrolled = errors.New("identity already enrolled")

	// ErrStaleLock indicates a commit lost the race: the row was
	// advanced or reclaimed by another process since it was claimed.
	// Callers treat it as benign and drop the commit.
	ErrStaleLock = errors.New("stale enrollment lock")
)

// EnrollmentError wraps enrollment store failures with operation
// context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates an enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsStaleLock checks whether an error is a lost commit race.
func IsStaleLock(err error) bool {
	return errors.Is(err, ErrStaleLock)
}

// IsAlreadyEnrolled checks whether an error is the at-most-one-active
// guard firing.
func IsAlreadyEnrolled(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled)
}
