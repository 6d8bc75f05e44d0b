package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

// EnrollmentRepository stores enrollments as JSON files under
// <root>/enrollments. All mutating operations run under the shared
// store mutex so claim and commit stay atomic relative to each other.
type EnrollmentRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *EnrollmentRepository) dir() string {
	return filepath.Join(r.root, "enrollments")
}

// Create inserts an enrollment, enforcing at most one non-terminal
// enrollment per (automation, identity) pair.
func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.loadAll()
	if err != nil {
		return err
	}

	for _, row := range existing {
		if row.AutomationID == enrollment.AutomationID &&
			row.Identity == enrollment.Identity &&
			!row.Status.IsTerminal() {
			return persistence.NewEnrollmentError("Create", row.ID, persistence.ErrAlreadyEnrolled)
		}
	}

	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}

	enrollment.LastAdvancedAt = now

	return r.write(enrollment)
}

// GetByID reads one enrollment.
func (r *EnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	return r.read(id)
}

// ClaimDue marks up to batchSize due enrollments claimed under a
// fresh lock token and lease, and returns the claimed rows.
func (r *EnrollmentRepository) ClaimDue(_ context.Context, now time.Time, batchSize int, claimedBy string, leaseFor time.Duration) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, row := range all {
		if isDue(row, now) {
			due = append(due, row)
		}
	}

	// Oldest work first: waiting rows by wake time, active rows by
	// last advance.
	sort.Slice(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})

	if batchSize > 0 && len(due) > batchSize {
		due = due[:batchSize]
	}

	expiry := now.Add(leaseFor)
	claimed := make([]*models.Enrollment, 0, len(due))

	for _, row := range due {
		row.ClaimedFrom = row.Status
		row.Status = models.EnrollmentClaimed
		row.LockToken = uuid.New().String()
		row.ClaimedBy = claimedBy
		row.ClaimExpiresAt = &expiry

		if err := r.write(row); err != nil {
			return nil, err
		}

		claimed = append(claimed, row)
	}

	return claimed, nil
}

func isDue(row *models.Enrollment, now time.Time) bool {
	switch row.Status {
	case models.EnrollmentActive:
		return true
	case models.EnrollmentWaiting:
		return row.WakeAt != nil && !row.WakeAt.After(now)
	default:
		return false
	}
}

func dueAt(row *models.Enrollment) time.Time {
	if row.Status == models.EnrollmentWaiting && row.WakeAt != nil {
		return *row.WakeAt
	}

	return row.LastAdvancedAt
}

// CommitAdvance applies the post-step state if the lock token still
// matches; otherwise the commit lost the race and ErrStaleLock is
// returned.
func (r *EnrollmentRepository) CommitAdvance(_ context.Context, enrollmentID, lockToken string, change models.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.read(enrollmentID)
	if err != nil {
		return err
	}

	if row.Status != models.EnrollmentClaimed || row.LockToken != lockToken {
		return persistence.NewEnrollmentError("CommitAdvance", enrollmentID, persistence.ErrStaleLock)
	}

	row.Status = change.Status
	row.CurrentNodeID = change.CurrentNodeID
	row.WakeAt = change.WakeAt
	row.AttemptNodeID = change.AttemptNodeID
	row.AttemptCount = change.AttemptCount
	row.LastError = change.LastError
	row.Goals = change.Goals

	row.LockToken = ""
	row.ClaimedBy = ""
	row.ClaimExpiresAt = nil
	row.ClaimedFrom = ""
	row.Version++
	row.LastAdvancedAt = time.Now().UTC()

	return r.write(row)
}

// ReleaseExpiredClaims restores rows whose lease expired without a
// commit to their pre-claim status.
func (r *EnrollmentRepository) ReleaseExpiredClaims(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return 0, err
	}

	released := 0

	for _, row := range all {
		if row.Status != models.EnrollmentClaimed {
			continue
		}

		if row.ClaimExpiresAt == nil || row.ClaimExpiresAt.After(now) {
			continue
		}

		row.Status = row.ClaimedFrom
		if row.Status == "" {
			row.Status = models.EnrollmentActive
		}

		row.LockToken = ""
		row.ClaimedBy = ""
		row.ClaimExpiresAt = nil
		row.ClaimedFrom = ""

		if err := r.write(row); err != nil {
			return released, err
		}

		released++
	}

	return released, nil
}

// HasEnrollmentForEvent reports whether the external event id already
// produced an enrollment in the automation.
func (r *EnrollmentRepository) HasEnrollmentForEvent(_ context.Context, automationID, eventID string) (bool, error) {
	all, err := r.loadAll()
	if err != nil {
		return false, err
	}

	for _, row := range all {
		if row.AutomationID == automationID && row.EventID == eventID {
			return true, nil
		}
	}

	return false, nil
}

// HasAnyEnrollment reports whether the identity ever enrolled in the
// automation.
func (r *EnrollmentRepository) HasAnyEnrollment(_ context.Context, automationID, identity string) (bool, error) {
	all, err := r.loadAll()
	if err != nil {
		return false, err
	}

	for _, row := range all {
		if row.AutomationID == automationID && row.Identity == identity {
			return true, nil
		}
	}

	return false, nil
}

// ExitAll transitions every non-terminal enrollment of the automation
// to exited.
func (r *EnrollmentRepository) ExitAll(_ context.Context, automationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return 0, err
	}

	exited := 0

	for _, row := range all {
		if row.AutomationID != automationID || row.Status.IsTerminal() {
			continue
		}

		row.Status = models.EnrollmentExited
		row.WakeAt = nil
		row.LockToken = ""
		row.ClaimedBy = ""
		row.ClaimExpiresAt = nil
		row.ClaimedFrom = ""
		row.Version++
		row.LastAdvancedAt = time.Now().UTC()

		if err := r.write(row); err != nil {
			return exited, err
		}

		exited++
	}

	return exited, nil
}

// CountByStatus returns enrollment counts per status for one
// automation.
func (r *EnrollmentRepository) CountByStatus(_ context.Context, automationID string) (map[models.EnrollmentStatus]int64, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	counts := make(map[models.EnrollmentStatus]int64)

	for _, row := range all {
		if row.AutomationID == automationID {
			counts[row.Status]++
		}
	}

	return counts, nil
}

// ListByAutomation returns an automation's enrollments, newest first.
func (r *EnrollmentRepository) ListByAutomation(_ context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]*models.Enrollment, 0)

	for _, row := range all {
		if row.AutomationID != automationID {
			continue
		}

		if status != nil && row.Status != *status {
			continue
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].EnrolledAt.After(rows[j].EnrolledAt)
	})

	return rows, nil
}

func (r *EnrollmentRepository) loadAll() ([]*models.Enrollment, error) {
	root := os.DirFS(r.dir())

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	rows := make([]*models.Enrollment, 0, len(files))

	for _, file := range files {
		row, err := r.read(file[:len(file)-len(".json")])
		if err != nil {
			return nil, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func (r *EnrollmentRepository) read(id string) (*models.Enrollment, error) {
	path := filepath.Clean(filepath.Join(r.dir(), id+".json"))

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewEnrollmentError("read", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to read enrollment %s: %w", id, err)
	}

	var row models.Enrollment
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal enrollment %s: %w", id, err)
	}

	return &row, nil
}

func (r *EnrollmentRepository) write(row *models.Enrollment) error {
	if err := os.MkdirAll(r.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create enrollments directory: %w", err)
	}

	data, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment %s: %w", row.ID, err)
	}

	path := filepath.Join(r.dir(), row.ID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write enrollment %s: %w", row.ID, err)
	}

	return nil
}
