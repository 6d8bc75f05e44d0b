package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/woolane/journey/pkg/persistence"
)

// Job is one unit of background work handed to the surrounding
// application's queue. ID doubles as the singleton identity: the
// queue never holds two pending jobs with the same id.
type Job struct {
	ID       string
	Priority int
	Repeat   string // cron expression for repeatable jobs, empty for one-shot
	Payload  map[string]any
}

// JobQueue is the external queue contract. Only the contract lives
// here; the implementation belongs to the surrounding application.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

const tenantSyncPriority = 10

// TenantSyncHousekeeping returns a housekeeping func that fans one
// sync job out per account with automations, plus an expired-claim
// sweep. Runs on the orchestrator's coarse cadence.
func TenantSyncHousekeeping(store persistence.Persistence, queue JobQueue, logger *slog.Logger) func(ctx context.Context) error {
	logger = logger.With("module", "tenant_sync")

	return func(ctx context.Context) error {
		released, err := store.EnrollmentRepository().ReleaseExpiredClaims(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to sweep expired claims: %w", err)
		}

		if released > 0 {
			logger.WarnContext(ctx, "Housekeeping released expired claims", "count", released)
		}

		if queue == nil {
			return nil
		}

		automations, err := store.AutomationRepository().All(ctx)
		if err != nil {
			return fmt.Errorf("failed to list automations for tenant sync: %w", err)
		}

		accounts := make(map[string]bool)

		for _, automation := range automations {
			if automation.AccountID == "" || accounts[automation.AccountID] {
				continue
			}

			accounts[automation.AccountID] = true

			job := Job{
				ID:       "tenant-sync-" + automation.AccountID,
				Priority: tenantSyncPriority,
				Payload:  map[string]any{"account_id": automation.AccountID},
			}

			if err := queue.Enqueue(ctx, job); err != nil {
				logger.ErrorContext(ctx, "Failed to enqueue tenant sync job",
					"account_id", automation.AccountID, "error", err)
			}
		}

		return nil
	}
}
