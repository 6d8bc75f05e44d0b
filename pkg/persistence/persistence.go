package persistence

import (
	"context"
	"time"

	"github.com/woolane/journey/pkg/models"
)

// Persistence aggregates the engine's repositories behind one
// connection-owning facade.
type Persistence interface {
	AutomationRepository() AutomationRepository
	EnrollmentRepository() EnrollmentRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automation definitions. Graphs are
// validated before Save; the repository does not re-check structure.
type AutomationRepository interface {
	Save(ctx context.Context, automation *models.Automation) error
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	All(ctx context.Context) ([]*models.Automation, error)

	// ActiveByTrigger returns the active automations whose trigger
	// type matches, for enrollment fan-out.
	ActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error)

	// SetActive flips the active flag. Disabling stops new
	// enrollments only; in-flight ones keep running.
	SetActive(ctx context.Context, id string, active bool) error
}

// EnrollmentRepository stores per-contact journey state. The claim /
// commit pair is the engine's unit of mutual exclusion: a row is only
// mutated under a lease obtained by ClaimDue and a commit carrying the
// matching lock token.
type EnrollmentRepository interface {
	// Create inserts a new enrollment, enforcing at most one
	// non-terminal enrollment per (automation, identity) pair. It
	// returns ErrAlreadyEnrolled when the guard fires.
	Create(ctx context.Context, enrollment *models.Enrollment) error

	GetByID(ctx context.Context, id string) (*models.Enrollment, error)

	// ClaimDue atomically selects up to batchSize due enrollments
	// (waiting with wakeAt <= now, or active) and marks them claimed
	// with a fresh lock token and a lease expiring at now+leaseFor.
	ClaimDue(ctx context.Context, now time.Time, batchSize int, claimedBy string, leaseFor time.Duration) ([]*models.Enrollment, error)

	// CommitAdvance applies the post-step state under compare-and-swap
	// on the lock token. ErrStaleLock means another process already
	// advanced or reclaimed the row.
	CommitAdvance(ctx context.Context, enrollmentID, lockToken string, change models.StateChange) error

	// ReleaseExpiredClaims returns rows whose lease ran out without a
	// commit to their pre-claim status, so the next tick retries them.
	// It reports how many rows were released.
	ReleaseExpiredClaims(ctx context.Context, now time.Time) (int, error)

	// HasEnrollmentForEvent reports whether the external event id was
	// already used to enroll this identity, for duplicate delivery
	// suppression.
	HasEnrollmentForEvent(ctx context.Context, automationID, eventID string) (bool, error)

	// HasAnyEnrollment reports whether the identity ever enrolled in
	// the automation, terminal or not. Used by the once re-entry
	// policy.
	HasAnyEnrollment(ctx context.Context, automationID, identity string) (bool, error)

	// ExitAll transitions every non-terminal enrollment of an
	// automation to exited: the operator drain operation. It reports
	// how many rows changed.
	ExitAll(ctx context.Context, automationID string) (int, error)

	// CountByStatus returns enrollment counts per status for the
	// dashboard.
	CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int64, error)

	// ListByAutomation returns enrollments of an automation, newest
	// first, optionally filtered by status.
	ListByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error)
}
