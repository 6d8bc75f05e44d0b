// Package listener turns inbound domain events into enrollments on
// every active automation whose trigger type matches.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/woolane/journey/pkg/eventbus"
	"github.com/woolane/journey/pkg/events"
	"github.com/woolane/journey/pkg/executor"
	"github.com/woolane/journey/pkg/flow"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

// Config carries the listener's dependencies. Publisher is optional.
type Config struct {
	Persistence persistence.Persistence
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
	Clock       executor.Clock
}

type Listener struct {
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         executor.Clock
}

func New(cfg Config) *Listener {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Listener{
		automations: cfg.Persistence.AutomationRepository(),
		enrollments: cfg.Persistence.EnrollmentRepository(),
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.With("module", "trigger_listener"),
		now:         cfg.Clock,
	}
}

// OnDomainEvent enrolls the event's identity into every matching
// active automation. Failures on one automation never block the
// others; only a store failure listing automations is returned.
func (l *Listener) OnDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("rejecting domain event: %w", err)
	}

	matching, err := l.automations.ActiveByTrigger(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to list automations for trigger %s: %w", event.Type, err)
	}

	for _, automation := range matching {
		l.enroll(ctx, automation, event)
	}

	return nil
}

func (l *Listener) enroll(ctx context.Context, automation *models.Automation, event *events.DomainEvent) {
	logger := l.logger.With(
		"automation_id", automation.ID,
		"identity", event.Identity,
		"event_id", event.EventID,
	)

	// The same external event observed twice never enrolls twice.
	seen, err := l.enrollments.HasEnrollmentForEvent(ctx, automation.ID, event.EventID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to check event idempotency", "error", err)

		return
	}

	if seen {
		logger.DebugContext(ctx, "Duplicate domain event, skipping")

		return
	}

	if automation.Reentry == models.ReentryOnce {
		enrolled, err := l.enrollments.HasAnyEnrollment(ctx, automation.ID, event.Identity)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to check enrollment history", "error", err)

			return
		}

		if enrolled {
			logger.DebugContext(ctx, "Identity already journeyed through automation, skipping")

			return
		}
	}

	graph, err := flow.Validate(automation)
	if err != nil {
		logger.ErrorContext(ctx, "Active automation has invalid graph", "error", err)

		return
	}

	enrollment := &models.Enrollment{
		AutomationID:  automation.ID,
		Identity:      event.Identity,
		EventID:       event.EventID,
		CurrentNodeID: graph.EntryNodeID(),
		Status:        models.EnrollmentActive,
		EnrolledAt:    l.now(),
	}

	err = l.enrollments.Create(ctx, enrollment)
	if err != nil {
		if persistence.IsAlreadyEnrolled(err) {
			logger.DebugContext(ctx, "Identity already has a journey in flight, skipping")

			return
		}

		logger.ErrorContext(ctx, "Failed to create enrollment", "error", err)

		return
	}

	logger.InfoContext(ctx, "Enrollment created",
		"enrollment_id", enrollment.ID,
		"entry_node_id", enrollment.CurrentNodeID)

	l.publishCreated(ctx, logger, automation, enrollment)
}

func (l *Listener) publishCreated(ctx context.Context, logger *slog.Logger, automation *models.Automation, enrollment *models.Enrollment) {
	if l.publisher == nil {
		return
	}

	event := events.EnrollmentCreated{
		BaseEvent: events.BaseEvent{
			Type:         events.EnrollmentCreatedEvent,
			Timestamp:    l.now(),
			AutomationID: automation.ID,
		},
		EnrollmentID: enrollment.ID,
		Identity:     enrollment.Identity,
		EntryNodeID:  enrollment.CurrentNodeID,
	}

	if err := l.publisher.Publish(ctx, automation.ID, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish enrollment created event", "error", err)
	}
}
