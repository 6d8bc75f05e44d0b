package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

const uniqueViolation = "23505"

// EnrollmentRepository handles enrollment rows. Claiming uses
// FOR UPDATE SKIP LOCKED so horizontally scaled tickers never block
// each other on the same rows, and commits compare-and-swap on the
// lock token.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id, automation_id, identity, event_id, current_node_id, status,
	wake_at, lock_token, claimed_by, claim_expires_at, claimed_from,
	attempt_node_id, attempt_count, last_error, goals, version,
	enrolled_at, last_advanced_at
`

// Create inserts an enrollment. The partial unique index on
// (automation_id, identity) over non-terminal rows turns a concurrent
// duplicate into a unique violation, which maps to
// ErrAlreadyEnrolled.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
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

	goalsJSON, err := json.Marshal(goalsOrEmpty(enrollment.Goals))
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}

	query := `
		INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.Identity,
		enrollment.EventID,
		enrollment.CurrentNodeID,
		enrollment.Status,
		enrollment.WakeAt,
		enrollment.LockToken,
		enrollment.ClaimedBy,
		enrollment.ClaimExpiresAt,
		enrollment.ClaimedFrom,
		enrollment.AttemptNodeID,
		enrollment.AttemptCount,
		enrollment.LastError,
		goalsJSON,
		enrollment.Version,
		enrollment.EnrolledAt,
		enrollment.LastAdvancedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrAlreadyEnrolled)
		}

		return fmt.Errorf("failed to insert enrollment: %w", err)
	}

	return nil
}

// GetByID returns one enrollment or ErrEnrollmentNotFound.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("GetByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment %s: %w", id, err)
	}

	return enrollment, nil
}

// ClaimDue atomically claims up to batchSize due enrollments. The
// inner SELECT takes row locks with SKIP LOCKED so concurrent tickers
// partition the due set instead of colliding on it.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, batchSize int, claimedBy string, leaseFor time.Duration) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments SET
			claimed_from = status,
			status = 'claimed',
			lock_token = $4,
			claimed_by = $2,
			claim_expires_at = $3
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status = 'active'
			   OR (status = 'waiting' AND wake_at <= $1)
			ORDER BY COALESCE(wake_at, last_advanced_at)
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	rows, err := r.db.QueryContext(ctx, query,
		now, claimedBy, now.Add(leaseFor), uuid.New().String(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	claimed := make([]*models.Enrollment, 0, batchSize)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed enrollment: %w", err)
		}

		claimed = append(claimed, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed enrollments: %w", err)
	}

	return claimed, nil
}

// CommitAdvance applies the post-step state guarded by the lock
// token. Zero rows affected means the claim is gone: ErrStaleLock.
func (r *EnrollmentRepository) CommitAdvance(ctx context.Context, enrollmentID, lockToken string, change models.StateChange) error {
	goalsJSON, err := json.Marshal(goalsOrEmpty(change.Goals))
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}

	query := `
		UPDATE enrollments SET
			status = $3,
			current_node_id = $4,
			wake_at = $5,
			attempt_node_id = $6,
			attempt_count = $7,
			last_error = $8,
			goals = $9,
			lock_token = '',
			claimed_by = '',
			claim_expires_at = NULL,
			claimed_from = '',
			version = version + 1,
			last_advanced_at = NOW()
		WHERE id = $1 AND lock_token = $2 AND status = 'claimed'
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollmentID,
		lockToken,
		change.Status,
		change.CurrentNodeID,
		change.WakeAt,
		change.AttemptNodeID,
		change.AttemptCount,
		change.LastError,
		goalsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to commit enrollment %s: %w", enrollmentID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("CommitAdvance", enrollmentID, persistence.ErrStaleLock)
	}

	return nil
}

// ReleaseExpiredClaims restores rows with an expired lease to their
// pre-claim status.
func (r *EnrollmentRepository) ReleaseExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE enrollments SET
			status = CASE WHEN claimed_from = '' THEN 'active' ELSE claimed_from END,
			lock_token = '',
			claimed_by = '',
			claim_expires_at = NULL,
			claimed_from = ''
		WHERE status = 'claimed' AND claim_expires_at <= $1
	`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return int(affected), nil
}

// HasEnrollmentForEvent reports whether the external event id already
// enrolled someone in the automation.
func (r *EnrollmentRepository) HasEnrollmentForEvent(ctx context.Context, automationID, eventID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE automation_id = $1 AND event_id = $2)`,
		automationID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event id: %w", err)
	}

	return exists, nil
}

// HasAnyEnrollment reports whether the identity ever enrolled in the
// automation.
func (r *EnrollmentRepository) HasAnyEnrollment(ctx context.Context, automationID, identity string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE automation_id = $1 AND identity = $2)`,
		automationID, identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment history: %w", err)
	}

	return exists, nil
}

// ExitAll drains an automation: every non-terminal enrollment becomes
// exited.
func (r *EnrollmentRepository) ExitAll(ctx context.Context, automationID string) (int, error) {
	query := `
		UPDATE enrollments SET
			status = 'exited',
			wake_at = NULL,
			lock_token = '',
			claimed_by = '',
			claim_expires_at = NULL,
			claimed_from = '',
			version = version + 1,
			last_advanced_at = NOW()
		WHERE automation_id = $1 AND status NOT IN ('completed', 'exited', 'failed')
	`

	result, err := r.db.ExecContext(ctx, query, automationID)
	if err != nil {
		return 0, fmt.Errorf("failed to exit enrollments: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return int(affected), nil
}

// CountByStatus returns enrollment counts per status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enrollments WHERE automation_id = $1 GROUP BY status`,
		automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	counts := make(map[models.EnrollmentStatus]int64)

	for rows.Next() {
		var (
			status models.EnrollmentStatus
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}

		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// ListByAutomation returns an automation's enrollments, newest first.
func (r *EnrollmentRepository) ListByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE automation_id = $1`
	args := []any{automationID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}

	query += ` ORDER BY enrolled_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment models.Enrollment
		goalsJSON  []byte
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.Identity,
		&enrollment.EventID,
		&enrollment.CurrentNodeID,
		&enrollment.Status,
		&enrollment.WakeAt,
		&enrollment.LockToken,
		&enrollment.ClaimedBy,
		&enrollment.ClaimExpiresAt,
		&enrollment.ClaimedFrom,
		&enrollment.AttemptNodeID,
		&enrollment.AttemptCount,
		&enrollment.LastError,
		&goalsJSON,
		&enrollment.Version,
		&enrollment.EnrolledAt,
		&enrollment.LastAdvancedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(goalsJSON, &enrollment.Goals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal goals: %w", err)
	}

	return &enrollment, nil
}

func goalsOrEmpty(goals []string) []string {
	if goals == nil {
		return []string{}
	}

	return goals
}
