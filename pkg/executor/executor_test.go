package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/woolane/journey/pkg/executor"
	"github.com/woolane/journey/pkg/flow"
	"github.com/woolane/journey/pkg/mocks"
	"github.com/woolane/journey/pkg/models"
)

func buildGraph(t *testing.T, nodes []*models.Node, edges []*models.Edge) *flow.ValidatedGraph {
	t.Helper()

	graph, err := flow.Validate(&models.Automation{
		ID:          "auto-1",
		Name:        "Welcome flow",
		TriggerType: models.TriggerOrderCreated,
		Nodes:       nodes,
		Edges:       edges,
	})
	require.NoError(t, err)

	return graph
}

func testEnrollment() *models.Enrollment {
	return &models.Enrollment{
		ID:           "enr-1",
		AutomationID: "auto-1",
		Identity:     "customer-42",
		Status:       models.EnrollmentClaimed,
	}
}

func newTestExecutor(cfg executor.Config) *executor.Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Clock == nil {
		cfg.Clock = func() time.Time {
			return time.Date(2025, 6, 18, 10, 30, 0, 0, time.UTC)
		}
	}

	return executor.New(cfg)
}

func TestExecuteExitNode(t *testing.T) {
	t.Parallel()

	graph := buildGraph(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{{Source: "t", Target: "x"}},
	)

	outcome := newTestExecutor(executor.Config{}).Execute(
		context.Background(), graph, testEnrollment(), graph.Node("x"))

	assert.Equal(t, executor.OutcomeTerminate, outcome.Kind)
	assert.Equal(t, executor.ReasonExitNode, outcome.Reason)
}

func TestExecuteGoalNode(t *testing.T) {
	t.Parallel()

	graph := buildGraph(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "g", Type: models.NodeTypeAction, Kind: models.ActionGoal, Action: &models.ActionConfig{GoalName: "purchased"}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "g"},
			{Source: "g", Target: "x"},
		},
	)

	outcome := newTestExecutor(executor.Config{}).Execute(
		context.Background(), graph, testEnrollment(), graph.Node("g"))

	assert.Equal(t, executor.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "x", outcome.NextNodeID)
	assert.Equal(t, "purchased", outcome.Goal)
}

func TestExecuteJumpNode(t *testing.T) {
	t.Parallel()

	graph := buildGraph(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "j", Type: models.NodeTypeAction, Kind: models.ActionJump, Action: &models.ActionConfig{JumpTo: "x"}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "j"},
			{Source: "j", Target: "x"},
		},
	)

	outcome := newTestExecutor(executor.Config{}).Execute(
		context.Background(), graph, testEnrollment(), graph.Node("j"))

	assert.Equal(t, executor.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "x", outcome.NextNodeID)

	// The graph was edited out from under the enrollment: the node now
	// targets an id the validated graph never had.
	drifted := &models.Node{
		ID:     "j",
		Type:   models.NodeTypeAction,
		Kind:   models.ActionJump,
		Action: &models.ActionConfig{JumpTo: "ghost"},
	}

	outcome = newTestExecutor(executor.Config{}).Execute(
		context.Background(), graph, testEnrollment(), drifted)

	assert.Equal(t, executor.OutcomeFail, outcome.Kind)
	require.ErrorIs(t, outcome.Err, executor.ErrJumpTargetMissing)
}

func TestExecuteDelayNode(t *testing.T) {
	t.Parallel()

	graph := buildGraph(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "d", Type: models.NodeTypeDelay, Delay: &models.DelayConfig{Duration: 1, Unit: models.DelayHours}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "d"},
			{Source: "d", Target: "x"},
		},
	)

	outcome := newTestExecutor(executor.Config{}).Execute(
		context.Background(), graph, testEnrollment(), graph.Node("d"))

	assert.Equal(t, executor.OutcomeWait, outcome.Kind)
	assert.Equal(t, "x", outcome.NextNodeID)
	assert.Equal(t, time.Date(2025, 6, 18, 11, 30, 0, 0, time.UTC), outcome.WakeAt)
}

func TestExecuteSendEmail(t *testing.T) {
	t.Parallel()

	nodes := []*models.Node{
		{ID: "t", Type: models.NodeTypeTrigger},
		{ID: "m", Type: models.NodeTypeAction, Kind: models.ActionSendEmail, Action: &models.ActionConfig{Template: "welcome"}},
		{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
	}
	edges := []*models.Edge{
		{Source: "t", Target: "m"},
		{Source: "m", Target: "x"},
	}

	t.Run("success advances", func(t *testing.T) {
		t.Parallel()

		graph := buildGraph(t, nodes, edges)
		messenger := &mocks.MockMessenger{}
		messenger.On("SendEmail", mock.Anything, "customer-42", "welcome", mock.Anything).Return(nil)

		outcome := newTestExecutor(executor.Config{Messenger: messenger}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeAdvance, outcome.Kind)
		assert.Equal(t, "x", outcome.NextNodeID)
		messenger.AssertExpectations(t)
	})

	t.Run("transient failure retries with backoff", func(t *testing.T) {
		t.Parallel()

		graph := buildGraph(t, nodes, edges)
		messenger := &mocks.MockMessenger{}
		messenger.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(executor.MarkTransient(errors.New("provider 503")))

		enrollment := testEnrollment()
		enrollment.AttemptCount = 2

		outcome := newTestExecutor(executor.Config{Messenger: messenger}).Execute(
			context.Background(), graph, enrollment, graph.Node("m"))

		assert.Equal(t, executor.OutcomeRetry, outcome.Kind)
		assert.Equal(t, 2*time.Minute, outcome.After)
	})

	t.Run("permanent failure fails", func(t *testing.T) {
		t.Parallel()

		graph := buildGraph(t, nodes, edges)
		messenger := &mocks.MockMessenger{}
		messenger.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("no recipient address"))

		outcome := newTestExecutor(executor.Config{Messenger: messenger}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeFail, outcome.Kind)
	})

	t.Run("missing template fails", func(t *testing.T) {
		t.Parallel()

		bare := []*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "m", Type: models.NodeTypeAction, Kind: models.ActionSendEmail},
		}
		graph := buildGraph(t, bare, []*models.Edge{{Source: "t", Target: "m"}})

		outcome := newTestExecutor(executor.Config{}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeFail, outcome.Kind)
		require.ErrorIs(t, outcome.Err, executor.ErrInvalidNodeConfig)
	})
}

func TestExecuteTagAction(t *testing.T) {
	t.Parallel()

	graph := buildGraph(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "a", Type: models.NodeTypeAction, Kind: models.ActionAddTag, Action: &models.ActionConfig{Tag: "vip"}},
		},
		[]*models.Edge{{Source: "t", Target: "a"}},
	)

	tags := &mocks.MockTagStore{}
	tags.On("AddTag", mock.Anything, "customer-42", "vip").Return(nil)

	outcome := newTestExecutor(executor.Config{Tags: tags}).Execute(
		context.Background(), graph, testEnrollment(), graph.Node("a"))

	// The tag node is the last node of the flow.
	assert.Equal(t, executor.OutcomeTerminate, outcome.Kind)
	assert.Equal(t, executor.ReasonEndOfFlow, outcome.Reason)
	tags.AssertExpectations(t)
}

func TestExecuteConditionBranches(t *testing.T) {
	t.Parallel()

	nodes := []*models.Node{
		{ID: "t", Type: models.NodeTypeTrigger},
		{ID: "c", Type: models.NodeTypeCondition, Condition: &models.ConditionConfig{Field: "total", Operator: ">", Value: 100}},
		{ID: "yes", Type: models.NodeTypeAction, Kind: models.ActionExit},
		{ID: "no", Type: models.NodeTypeAction, Kind: models.ActionExit},
	}
	edges := []*models.Edge{
		{Source: "t", Target: "c"},
		{Source: "c", Target: "yes", Label: models.EdgeLabelTrue},
		{Source: "c", Target: "no", Label: models.EdgeLabelFalse},
	}

	tests := []struct {
		name  string
		total float64
		next  string
	}{
		{"true branch", 150, "yes"},
		{"false branch", 50, "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph := buildGraph(t, nodes, edges)
			subjects := &mocks.MockSubjectAttributes{}
			subjects.On("Attributes", mock.Anything, "customer-42").
				Return(map[string]any{"total": tt.total}, nil)

			outcome := newTestExecutor(executor.Config{Subjects: subjects}).Execute(
				context.Background(), graph, testEnrollment(), graph.Node("c"))

			assert.Equal(t, executor.OutcomeAdvance, outcome.Kind)
			assert.Equal(t, tt.next, outcome.NextNodeID)
		})
	}
}

func TestExecuteWebhookStatusMapping(t *testing.T) {
	t.Parallel()

	nodes := []*models.Node{
		{ID: "t", Type: models.NodeTypeTrigger},
		{ID: "w", Type: models.NodeTypeAction, Kind: models.ActionWebhook, Action: &models.ActionConfig{URL: "https://hooks.example.com/x"}},
		{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
	}
	edges := []*models.Edge{
		{Source: "t", Target: "w"},
		{Source: "w", Target: "x"},
	}

	tests := []struct {
		name   string
		status int
		err    error
		kind   executor.OutcomeKind
	}{
		{"2xx advances", 204, nil, executor.OutcomeAdvance},
		{"4xx fails", 404, nil, executor.OutcomeFail},
		{"5xx retries", 503, nil, executor.OutcomeRetry},
		{"transport error retries", 0, errors.New("dial timeout"), executor.OutcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph := buildGraph(t, nodes, edges)
			webhooks := &mocks.MockWebhookCaller{}
			webhooks.On("Post", mock.Anything, "https://hooks.example.com/x", mock.Anything).
				Return(tt.status, tt.err)

			outcome := newTestExecutor(executor.Config{Webhooks: webhooks}).Execute(
				context.Background(), graph, testEnrollment(), graph.Node("w"))

			assert.Equal(t, tt.kind, outcome.Kind)
		})
	}
}

func TestHTTPWebhookCaller(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	caller := executor.NewHTTPWebhookCaller(5*time.Second, slog.Default())

	status, err := caller.Post(context.Background(), server.URL, map[string]any{
		"enrollment_id": "enr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "enr-1", received["enrollment_id"])
}

func TestHTTPWebhookCallerTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	caller := executor.NewHTTPWebhookCaller(20*time.Millisecond, slog.Default())

	_, err := caller.Post(context.Background(), server.URL, map[string]any{})
	require.Error(t, err)
	assert.True(t, executor.IsTransient(err))
}

func TestExecuteSendRendersVariables(t *testing.T) {
	t.Parallel()

	nodes := []*models.Node{
		{ID: "t", Type: models.NodeTypeTrigger},
		{ID: "m", Type: models.NodeTypeAction, Kind: models.ActionSendEmail, Action: &models.ActionConfig{
			Template: "welcome",
			Variables: map[string]any{
				"greeting": "Hi {{ .attributes.first_name }}",
				"email":    "{{ .identity }}",
				"plain":    "unchanged",
			},
		}},
		{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
	}
	edges := []*models.Edge{
		{Source: "t", Target: "m"},
		{Source: "m", Target: "x"},
	}

	t.Run("expressions resolve against live attributes", func(t *testing.T) {
		t.Parallel()

		graph := buildGraph(t, nodes, edges)

		subjects := &mocks.MockSubjectAttributes{}
		subjects.On("Attributes", mock.Anything, "customer-42").
			Return(map[string]any{"first_name": "Ada"}, nil)

		messenger := &mocks.MockMessenger{}
		messenger.On("SendEmail", mock.Anything, "customer-42", "welcome",
			mock.MatchedBy(func(vars map[string]any) bool {
				return vars["greeting"] == "Hi Ada" &&
					vars["email"] == "customer-42" &&
					vars["plain"] == "unchanged"
			})).Return(nil)

		outcome := newTestExecutor(executor.Config{Messenger: messenger, Subjects: subjects}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeAdvance, outcome.Kind)
		messenger.AssertExpectations(t)
		subjects.AssertExpectations(t)
	})

	t.Run("attribute read failure retries when transient", func(t *testing.T) {
		t.Parallel()

		graph := buildGraph(t, nodes, edges)

		subjects := &mocks.MockSubjectAttributes{}
		subjects.On("Attributes", mock.Anything, mock.Anything).
			Return(nil, executor.MarkTransient(errors.New("redis down")))

		outcome := newTestExecutor(executor.Config{Messenger: &mocks.MockMessenger{}, Subjects: subjects}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeRetry, outcome.Kind)
	})

	t.Run("plain variables skip the attribute lookup", func(t *testing.T) {
		t.Parallel()

		plain := []*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "m", Type: models.NodeTypeAction, Kind: models.ActionSendEmail, Action: &models.ActionConfig{
				Template:  "welcome",
				Variables: map[string]any{"plan": "pro"},
			}},
		}
		graph := buildGraph(t, plain, []*models.Edge{{Source: "t", Target: "m"}})

		messenger := &mocks.MockMessenger{}
		messenger.On("SendEmail", mock.Anything, "customer-42", "welcome",
			map[string]any{"plan": "pro"}).Return(nil)

		outcome := newTestExecutor(executor.Config{Messenger: messenger}).Execute(
			context.Background(), graph, testEnrollment(), graph.Node("m"))

		assert.Equal(t, executor.OutcomeTerminate, outcome.Kind)
		messenger.AssertExpectations(t)
	})
}
