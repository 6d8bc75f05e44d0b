// Package ticker drives the enrollment state machine: each tick
// claims a batch of due enrollments, executes their current node and
// commits the resulting transition under the claim's lock token.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/woolane/journey/pkg/eventbus"
	"github.com/woolane/journey/pkg/events"
	"github.com/woolane/journey/pkg/executor"
	"github.com/woolane/journey/pkg/flow"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/otelhelper"
	"github.com/woolane/journey/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBatchSize   = 100
	defaultLease       = 5 * time.Minute
	defaultMaxAttempts = 5
)

// Config carries the ticker's dependencies. Publisher and Tracer are
// optional; without them lifecycle events and spans are simply not
// emitted.
type Config struct {
	ID          string
	Persistence persistence.Persistence
	Executor    *executor.Executor
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
	Clock       executor.Clock
	Tracer      trace.Tracer
	BatchSize   int
	LeaseFor    time.Duration
	MaxAttempts int
}

type Ticker struct {
	id          string
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	executor    *executor.Executor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         executor.Clock
	tracer      trace.Tracer
	batchSize   int
	leaseFor    time.Duration
	maxAttempts int
}

func New(cfg Config) *Ticker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = defaultLease
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ticker{
		id:          cfg.ID,
		automations: cfg.Persistence.AutomationRepository(),
		enrollments: cfg.Persistence.EnrollmentRepository(),
		executor:    cfg.Executor,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.With("module", "ticker", "ticker_id", cfg.ID),
		now:         cfg.Clock,
		tracer:      cfg.Tracer,
		batchSize:   cfg.BatchSize,
		leaseFor:    cfg.LeaseFor,
		maxAttempts: cfg.MaxAttempts,
	}
}

// graphEntry caches one automation's validated graph for the duration
// of a tick. err records automations that failed to load or validate.
type graphEntry struct {
	graph *flow.ValidatedGraph
	err   error
}

// Tick processes one batch of due enrollments. Only store-level
// failures return an error; per-enrollment failures are committed as
// state and never abort the batch.
func (t *Ticker) Tick(ctx context.Context) error {
	now := t.now()

	released, err := t.enrollments.ReleaseExpiredClaims(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to release expired claims: %w", err)
	}

	if released > 0 {
		t.logger.WarnContext(ctx, "Released expired claims", "count", released)
	}

	claimed, err := t.enrollments.ClaimDue(ctx, now, t.batchSize, t.id, t.leaseFor)
	if err != nil {
		return fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	if len(claimed) == 0 {
		return nil
	}

	t.logger.InfoContext(ctx, "Processing claimed enrollments", "count", len(claimed))

	graphs := make(map[string]*graphEntry)

	for _, enrollment := range claimed {
		t.process(ctx, graphs, enrollment)
	}

	return nil
}

func (t *Ticker) process(ctx context.Context, graphs map[string]*graphEntry, enrollment *models.Enrollment) {
	logger := t.logger.With(
		"enrollment_id", enrollment.ID,
		"automation_id", enrollment.AutomationID,
		"node_id", enrollment.CurrentNodeID,
	)

	var span trace.Span
	if t.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, t.tracer, "ticker.process enrollment",
			attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
			attribute.String(otelhelper.AutomationIDKey, enrollment.AutomationID),
			attribute.String(otelhelper.NodeIDKey, enrollment.CurrentNodeID),
		)
		defer span.End()
	}

	change := t.step(ctx, graphs, enrollment)

	if span != nil && change.Status == models.EnrollmentFailed {
		otelhelper.SetError(span, errors.New(change.LastError))
	}

	t.commit(ctx, logger, enrollment, change)
}

func (t *Ticker) step(ctx context.Context, graphs map[string]*graphEntry, enrollment *models.Enrollment) models.StateChange {
	entry := t.graphFor(ctx, graphs, enrollment.AutomationID)
	if entry.err != nil {
		return t.failedChange(enrollment, entry.err)
	}

	node := entry.graph.Node(enrollment.CurrentNodeID)
	if node == nil {
		// The graph was edited and the node the enrollment sits on is
		// gone. Advancing would be undefined, so the journey fails
		// with a diagnostic.
		drift := fmt.Errorf("node %s no longer exists in automation %s",
			enrollment.CurrentNodeID, enrollment.AutomationID)

		return t.failedChange(enrollment, drift)
	}

	outcome := t.executor.Execute(ctx, entry.graph, enrollment, node)

	return t.translate(enrollment, node, outcome)
}

func (t *Ticker) graphFor(ctx context.Context, graphs map[string]*graphEntry, automationID string) *graphEntry {
	if entry, ok := graphs[automationID]; ok {
		return entry
	}

	entry := &graphEntry{}

	automation, err := t.automations.GetByID(ctx, automationID)
	if err != nil {
		entry.err = fmt.Errorf("failed to load automation: %w", err)
	} else {
		entry.graph, entry.err = flow.Validate(automation)
	}

	graphs[automationID] = entry

	return entry
}

// translate maps a step outcome onto the state the store commits.
func (t *Ticker) translate(enrollment *models.Enrollment, node *models.Node, outcome executor.Outcome) models.StateChange {
	switch outcome.Kind {
	case executor.OutcomeAdvance:
		return models.StateChange{
			Status:        models.EnrollmentActive,
			CurrentNodeID: outcome.NextNodeID,
			Goals:         appendGoal(enrollment.Goals, outcome.Goal),
		}
	case executor.OutcomeWait:
		wakeAt := outcome.WakeAt

		return models.StateChange{
			Status:        models.EnrollmentWaiting,
			CurrentNodeID: outcome.NextNodeID,
			WakeAt:        &wakeAt,
			Goals:         enrollment.Goals,
		}
	case executor.OutcomeTerminate:
		status := models.EnrollmentCompleted
		if outcome.Reason == executor.ReasonExitNode {
			status = models.EnrollmentExited
		}

		return models.StateChange{
			Status:        status,
			CurrentNodeID: enrollment.CurrentNodeID,
			Goals:         appendGoal(enrollment.Goals, outcome.Goal),
		}
	case executor.OutcomeRetry:
		attempts := 1
		if enrollment.AttemptNodeID == node.ID {
			attempts = enrollment.AttemptCount + 1
		}

		if attempts >= t.maxAttempts {
			return models.StateChange{
				Status:        models.EnrollmentFailed,
				CurrentNodeID: enrollment.CurrentNodeID,
				AttemptNodeID: node.ID,
				AttemptCount:  attempts,
				LastError:     fmt.Sprintf("retry budget exhausted: %v", outcome.Err),
				Goals:         enrollment.Goals,
			}
		}

		wakeAt := t.now().Add(outcome.After)

		return models.StateChange{
			Status:        models.EnrollmentWaiting,
			CurrentNodeID: enrollment.CurrentNodeID,
			WakeAt:        &wakeAt,
			AttemptNodeID: node.ID,
			AttemptCount:  attempts,
			LastError:     outcome.Err.Error(),
			Goals:         enrollment.Goals,
		}
	case executor.OutcomeFail:
		change := t.failedChange(enrollment, outcome.Err)
		change.AttemptNodeID = node.ID

		return change
	default:
		return t.failedChange(enrollment, fmt.Errorf("unknown outcome kind %q", outcome.Kind))
	}
}

func appendGoal(goals []string, goal string) []string {
	if goal == "" {
		return goals
	}

	return append(append([]string{}, goals...), goal)
}

func (t *Ticker) failedChange(enrollment *models.Enrollment, err error) models.StateChange {
	return models.StateChange{
		Status:        models.EnrollmentFailed,
		CurrentNodeID: enrollment.CurrentNodeID,
		AttemptCount:  enrollment.AttemptCount,
		LastError:     err.Error(),
		Goals:         enrollment.Goals,
	}
}

func (t *Ticker) commit(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, change models.StateChange) {
	err := t.enrollments.CommitAdvance(ctx, enrollment.ID, enrollment.LockToken, change)
	if err != nil {
		if persistence.IsStaleLock(err) {
			// Another ticker already advanced this row. Benign; the
			// winning commit carries the state.
			logger.DebugContext(ctx, "Commit lost lock race, dropping")

			return
		}

		logger.ErrorContext(ctx, "Failed to commit enrollment transition", "error", err)

		return
	}

	logger.InfoContext(ctx, "Enrollment advanced",
		"status", change.Status,
		"next_node_id", change.CurrentNodeID)

	if change.Status.IsTerminal() {
		t.publishTerminal(ctx, logger, enrollment, change)
	}
}

// publishTerminal emits a lifecycle event after a terminal commit.
// Delivery is best effort; the committed row is the source of truth.
func (t *Ticker) publishTerminal(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, change models.StateChange) {
	if t.publisher == nil {
		return
	}

	base := events.BaseEvent{
		Timestamp:    t.now(),
		AutomationID: enrollment.AutomationID,
		TickerID:     t.id,
	}

	var (
		event eventbus.Event
		err   error
	)

	switch change.Status {
	case models.EnrollmentCompleted:
		base.Type = events.EnrollmentCompletedEvent
		event = events.EnrollmentCompleted{
			BaseEvent:    base,
			EnrollmentID: enrollment.ID,
			Identity:     enrollment.Identity,
			Goals:        change.Goals,
		}
	case models.EnrollmentExited:
		base.Type = events.EnrollmentExitedEvent
		event = events.EnrollmentExited{
			BaseEvent:    base,
			EnrollmentID: enrollment.ID,
			Identity:     enrollment.Identity,
			NodeID:       change.CurrentNodeID,
		}
	case models.EnrollmentFailed:
		base.Type = events.EnrollmentFailedEvent
		event = events.EnrollmentFailed{
			BaseEvent:    base,
			EnrollmentID: enrollment.ID,
			Identity:     enrollment.Identity,
			NodeID:       change.CurrentNodeID,
			Error:        change.LastError,
			Attempts:     change.AttemptCount,
		}
	default:
		return
	}

	err = t.publisher.Publish(ctx, enrollment.AutomationID, event)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "Failed to publish lifecycle event", "error", err)
	}
}
