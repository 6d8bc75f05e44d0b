// Package executor runs the side effect of a single flow node and
// classifies the result into a closed set of outcomes. It never
// touches the enrollment store; the ticker translates outcomes into
// state transitions.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/woolane/journey/pkg/flow"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/template"
)

// Clock abstracts time for deterministic delay and backoff tests.
type Clock func() time.Time

// Executor dispatches on node type and kind. All collaborator calls
// carry a per-call timeout so a slow dependency surfaces as a retry,
// never as a stalled tick.
type Executor struct {
	messenger  Messenger
	tags       TagStore
	webhooks   WebhookCaller
	subjects   SubjectAttributes
	logger     *slog.Logger
	now        Clock
	actTimeout time.Duration
}

// Config carries the executor's collaborators.
type Config struct {
	Messenger     Messenger
	Tags          TagStore
	Webhooks      WebhookCaller
	Subjects      SubjectAttributes
	Logger        *slog.Logger
	Clock         Clock
	ActionTimeout time.Duration
}

const defaultActionTimeout = 30 * time.Second

func New(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		messenger:  cfg.Messenger,
		tags:       cfg.Tags,
		webhooks:   cfg.Webhooks,
		subjects:   cfg.Subjects,
		logger:     cfg.Logger.With("module", "step_executor"),
		now:        cfg.Clock,
		actTimeout: cfg.ActionTimeout,
	}
}

// Execute runs the enrollment's current node against the validated
// graph. The node pointer must come from the same graph.
func (e *Executor) Execute(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node) Outcome {
	logger := e.logger.With(
		"enrollment_id", enrollment.ID,
		"node_id", node.ID,
		"node_type", node.Type,
	)

	switch node.Type {
	case models.NodeTypeTrigger:
		// Triggers mark entry only. Enrollments normally start past
		// them, so this is a recovery path for rows created before the
		// entry node was resolved.
		return e.advancePast(node.ID, graph)
	case models.NodeTypeDelay:
		return e.executeDelay(graph, node)
	case models.NodeTypeCondition:
		return e.executeCondition(ctx, graph, enrollment, node, logger)
	case models.NodeTypeAction:
		return e.executeAction(ctx, graph, enrollment, node, logger)
	default:
		return Fail(fmt.Errorf("%w: unknown node type %q", ErrInvalidNodeConfig, node.Type))
	}
}

// advancePast resolves the single successor of a node, terminating
// the journey when the node is the end of the flow.
func (e *Executor) advancePast(nodeID string, graph *flow.ValidatedGraph) Outcome {
	next, ok := graph.SuccessorOf(nodeID)
	if !ok {
		return Terminate(ReasonEndOfFlow)
	}

	return Advance(next)
}

func (e *Executor) executeDelay(graph *flow.ValidatedGraph, node *models.Node) Outcome {
	if node.Delay == nil {
		return Fail(fmt.Errorf("%w: delay node %s has no delay config", ErrInvalidNodeConfig, node.ID))
	}

	next, ok := graph.SuccessorOf(node.ID)
	if !ok {
		// Sleeping before the end of the flow is unobservable, so the
		// journey completes immediately.
		return Terminate(ReasonEndOfFlow)
	}

	wakeAt, err := WakeTime(e.now(), node.Delay)
	if err != nil {
		return Fail(fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err))
	}

	return Wait(wakeAt, next)
}

func (e *Executor) executeCondition(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node, logger *slog.Logger) Outcome {
	if node.Condition == nil {
		return Fail(fmt.Errorf("%w: condition node %s has no condition config", ErrInvalidNodeConfig, node.ID))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.actTimeout)
	defer cancel()

	attributes, err := e.subjects.Attributes(callCtx, enrollment.Identity)
	if err != nil {
		if IsTransient(err) {
			return Retry(Backoff(enrollment.AttemptCount), err)
		}

		return Fail(fmt.Errorf("failed to read subject attributes: %w", err))
	}

	result, err := EvaluateCondition(node.Condition, attributes)
	if err != nil {
		return Fail(fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err))
	}

	logger.DebugContext(ctx, "Condition evaluated",
		"field", node.Condition.Field, "result", result)

	next, ok := graph.Branch(node.ID, result)
	if !ok {
		return Fail(fmt.Errorf("condition node %s lost its %t branch", node.ID, result))
	}

	return Advance(next)
}

func (e *Executor) executeAction(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node, logger *slog.Logger) Outcome {
	cfg := node.Action
	if cfg == nil {
		cfg = &models.ActionConfig{}
	}

	switch node.Kind {
	case models.ActionExit:
		return Terminate(ReasonExitNode)
	case models.ActionJump:
		return e.executeJump(graph, cfg)
	case models.ActionGoal:
		if cfg.GoalName == "" {
			return Fail(fmt.Errorf("%w: goal node %s has no goal name", ErrInvalidNodeConfig, node.ID))
		}

		outcome := e.advancePast(node.ID, graph)
		outcome.Goal = cfg.GoalName

		return outcome
	case models.ActionSendEmail, models.ActionSendSMS:
		return e.executeSend(ctx, graph, enrollment, node, logger)
	case models.ActionAddTag, models.ActionRemoveTag:
		return e.executeTag(ctx, graph, enrollment, node)
	case models.ActionWebhook:
		return e.executeWebhook(ctx, graph, enrollment, node, logger)
	default:
		return Fail(fmt.Errorf("%w: unknown action kind %q on node %s", ErrInvalidNodeConfig, node.Kind, node.ID))
	}
}

// executeJump re-checks the target against the live graph. Validation
// already checked it once, but the graph may have been edited since
// the enrollment passed activation.
func (e *Executor) executeJump(graph *flow.ValidatedGraph, cfg *models.ActionConfig) Outcome {
	if cfg.JumpTo == "" {
		return Fail(fmt.Errorf("%w: jump node has no target", ErrInvalidNodeConfig))
	}

	if graph.Node(cfg.JumpTo) == nil {
		return Fail(fmt.Errorf("%w: %s", ErrJumpTargetMissing, cfg.JumpTo))
	}

	return Advance(cfg.JumpTo)
}

func (e *Executor) executeSend(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node, logger *slog.Logger) Outcome {
	cfg := node.Action
	if cfg.Template == "" {
		return Fail(fmt.Errorf("%w: %s node %s has no template", ErrInvalidNodeConfig, node.Kind, node.ID))
	}

	variables, failure := e.resolveVariables(ctx, enrollment, cfg.Variables)
	if failure != nil {
		return *failure
	}

	callCtx, cancel := context.WithTimeout(ctx, e.actTimeout)
	defer cancel()

	var err error
	if node.Kind == models.ActionSendEmail {
		err = e.messenger.SendEmail(callCtx, enrollment.Identity, cfg.Template, variables)
	} else {
		err = e.messenger.SendSMS(callCtx, enrollment.Identity, cfg.Template, variables)
	}

	if err != nil {
		if IsTransient(err) {
			logger.WarnContext(ctx, "Message send failed, will retry", "error", err)

			return Retry(Backoff(enrollment.AttemptCount), err)
		}

		return Fail(fmt.Errorf("message send rejected: %w", err))
	}

	return e.advancePast(node.ID, graph)
}

func (e *Executor) executeTag(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node) Outcome {
	cfg := node.Action
	if cfg.Tag == "" {
		return Fail(fmt.Errorf("%w: %s node %s has no tag", ErrInvalidNodeConfig, node.Kind, node.ID))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.actTimeout)
	defer cancel()

	var err error
	if node.Kind == models.ActionAddTag {
		err = e.tags.AddTag(callCtx, enrollment.Identity, cfg.Tag)
	} else {
		err = e.tags.RemoveTag(callCtx, enrollment.Identity, cfg.Tag)
	}

	if err != nil {
		if IsTransient(err) {
			return Retry(Backoff(enrollment.AttemptCount), err)
		}

		return Fail(fmt.Errorf("tag operation failed: %w", err))
	}

	return e.advancePast(node.ID, graph)
}

func (e *Executor) executeWebhook(ctx context.Context, graph *flow.ValidatedGraph, enrollment *models.Enrollment, node *models.Node, logger *slog.Logger) Outcome {
	cfg := node.Action
	if cfg.URL == "" {
		return Fail(fmt.Errorf("%w: webhook node %s has no url", ErrInvalidNodeConfig, node.ID))
	}

	variables, failure := e.resolveVariables(ctx, enrollment, cfg.Variables)
	if failure != nil {
		return *failure
	}

	callCtx, cancel := context.WithTimeout(ctx, e.actTimeout)
	defer cancel()

	payload := map[string]any{
		"enrollment_id": enrollment.ID,
		"automation_id": enrollment.AutomationID,
		"identity":      enrollment.Identity,
		"node_id":       node.ID,
		"variables":     variables,
	}

	status, err := e.webhooks.Post(callCtx, cfg.URL, payload)
	if err != nil {
		logger.WarnContext(ctx, "Webhook call failed", "url", cfg.URL, "error", err)

		return Retry(Backoff(enrollment.AttemptCount), err)
	}

	switch {
	case status >= 200 && status < 300:
		return e.advancePast(node.ID, graph)
	case status >= 500:
		return Retry(Backoff(enrollment.AttemptCount),
			fmt.Errorf("webhook returned status %d", status))
	default:
		return Fail(fmt.Errorf("webhook returned non-retryable status %d", status))
	}
}

// resolveVariables renders template expressions in action variables
// against the subject's live attributes. The attribute lookup only
// happens when an expression is present. A non-nil return is the
// outcome the step must yield.
func (e *Executor) resolveVariables(ctx context.Context, enrollment *models.Enrollment, variables map[string]any) (map[string]any, *Outcome) {
	if !template.ContainsExpression(variables) {
		return variables, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.actTimeout)
	defer cancel()

	attributes, err := e.subjects.Attributes(callCtx, enrollment.Identity)
	if err != nil {
		var outcome Outcome
		if IsTransient(err) {
			outcome = Retry(Backoff(enrollment.AttemptCount), err)
		} else {
			outcome = Fail(fmt.Errorf("failed to read subject attributes: %w", err))
		}

		return nil, &outcome
	}

	data := map[string]any{
		"identity":   enrollment.Identity,
		"attributes": attributes,
		"enrollment": map[string]any{
			"id":            enrollment.ID,
			"automation_id": enrollment.AutomationID,
		},
	}

	rendered, err := template.RenderVariables(variables, data)
	if err != nil {
		outcome := Fail(fmt.Errorf("%w: %v", ErrInvalidNodeConfig, err))

		return nil, &outcome
	}

	return rendered, nil
}
