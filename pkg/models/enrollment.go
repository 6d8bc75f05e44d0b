package models

import "time"

// EnrollmentStatus is the lifecycle state of one contact's journey
// through an automation.
type EnrollmentStatus string

// Active enrollments are due immediately, waiting ones sleep until
// WakeAt, and claimed ones are leased to a ticker mid-step.
const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentWaiting   EnrollmentStatus = "waiting"
	EnrollmentClaimed   EnrollmentStatus = "claimed"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
	EnrollmentFailed    EnrollmentStatus = "failed"
)

// IsTerminal reports whether the status ends the journey. Terminal
// enrollments persist for audit and statistics.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentExited, EnrollmentFailed:
		return true
	default:
		return false
	}
}

// Enrollment is one contact's traversal of an automation's graph.
// Rows are mutated only through the store's claim/commit cycle; the
// lock token changes on every claim and the version on every commit.
type Enrollment struct {
	ID           string `json:"id"`
	AutomationID string `json:"automation_id" validate:"required"`
	Identity     string `json:"identity"      validate:"required"`
	EventID      string `json:"event_id,omitempty"`

	CurrentNodeID string           `json:"current_node_id"`
	Status        EnrollmentStatus `json:"status"`
	WakeAt        *time.Time       `json:"wake_at,omitempty"`

	// Claim lease fields, set only while Status is claimed.
	LockToken      string           `json:"lock_token,omitempty"`
	ClaimedBy      string           `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time       `json:"claim_expires_at,omitempty"`
	ClaimedFrom    EnrollmentStatus `json:"claimed_from,omitempty"`

	// Retry bookkeeping for the current node. The counter resets when
	// the enrollment advances to a different node.
	AttemptNodeID string `json:"attempt_node_id,omitempty"`
	AttemptCount  int    `json:"attempt_count,omitempty"`
	LastError     string `json:"last_error,omitempty"`

	// Goals holds the goal names recorded by goal nodes the journey
	// has passed through.
	Goals []string `json:"goals,omitempty"`

	Version        int64     `json:"version"`
	EnrolledAt     time.Time `json:"enrolled_at"`
	LastAdvancedAt time.Time `json:"last_advanced_at"`
}

// StateChange is the full post-step state a ticker commits for a
// claimed enrollment. The store applies it atomically, guarded by the
// enrollment's lock token.
type StateChange struct {
	Status        EnrollmentStatus
	CurrentNodeID string
	WakeAt        *time.Time
	AttemptNodeID string
	AttemptCount  int
	LastError     string
	Goals         []string
}
