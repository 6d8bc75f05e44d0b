package ticker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/woolane/journey/pkg/eventbus"
	"github.com/woolane/journey/pkg/events"
	"github.com/woolane/journey/pkg/executor"
	"github.com/woolane/journey/pkg/mocks"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
	"github.com/woolane/journey/pkg/persistence/file"
	"github.com/woolane/journey/pkg/ticker"
)

// fakeClock lets tests move the engine through hours in microseconds.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	persistence persistence.Persistence
	clock       *fakeClock
	messenger   *mocks.MockMessenger
	webhooks    *mocks.MockWebhookCaller
	ticker      *ticker.Ticker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC)}
	store := file.NewPersistence(t.TempDir())
	messenger := &mocks.MockMessenger{}
	webhooks := &mocks.MockWebhookCaller{}

	exec := executor.New(executor.Config{
		Messenger: messenger,
		Webhooks:  webhooks,
		Logger:    slog.Default(),
		Clock:     clock.Now,
	})

	return &fixture{
		persistence: store,
		clock:       clock,
		messenger:   messenger,
		webhooks:    webhooks,
		ticker: ticker.New(ticker.Config{
			ID:          "ticker-test",
			Persistence: store,
			Executor:    exec,
			Logger:      slog.Default(),
			Clock:       clock.Now,
			BatchSize:   10,
			LeaseFor:    time.Minute,
			MaxAttempts: 5,
		}),
	}
}

func (f *fixture) saveAutomation(t *testing.T, nodes []*models.Node, edges []*models.Edge) *models.Automation {
	t.Helper()

	automation := &models.Automation{
		Name:        "Order welcome",
		TriggerType: models.TriggerOrderCreated,
		Active:      true,
		Nodes:       nodes,
		Edges:       edges,
	}
	require.NoError(t, f.persistence.AutomationRepository().Save(context.Background(), automation))

	return automation
}

func (f *fixture) enroll(t *testing.T, automationID, entryNodeID string) *models.Enrollment {
	t.Helper()

	enrollment := &models.Enrollment{
		AutomationID:  automationID,
		Identity:      "customer-1",
		EventID:       "order-1",
		CurrentNodeID: entryNodeID,
		Status:        models.EnrollmentActive,
		EnrolledAt:    f.clock.Now(),
	}
	require.NoError(t, f.persistence.EnrollmentRepository().Create(context.Background(), enrollment))

	return enrollment
}

func (f *fixture) reload(t *testing.T, id string) *models.Enrollment {
	t.Helper()

	row, err := f.persistence.EnrollmentRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return row
}

// The canonical journey end to end: order_created enrolls a contact,
// a one hour delay parks it, then an email goes out and the exit node
// closes the journey.
func TestTickDelayEmailExitScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "d", Type: models.NodeTypeDelay, Delay: &models.DelayConfig{Duration: 1, Unit: models.DelayHours}},
			{ID: "m", Type: models.NodeTypeAction, Kind: models.ActionSendEmail, Action: &models.ActionConfig{Template: "welcome"}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "d"},
			{Source: "d", Target: "m"},
			{Source: "m", Target: "x"},
		},
	)

	enrollment := f.enroll(t, automation.ID, "d")

	f.messenger.On("SendEmail", mock.Anything, "customer-1", "welcome", mock.Anything).Return(nil).Once()

	// First tick parks the enrollment until the delay elapses.
	require.NoError(t, f.ticker.Tick(ctx))

	row := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentWaiting, row.Status)
	assert.Equal(t, "m", row.CurrentNodeID)
	require.NotNil(t, row.WakeAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *row.WakeAt)

	// A tick before the wake time must not touch it.
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.ticker.Tick(ctx))
	assert.Equal(t, models.EnrollmentWaiting, f.reload(t, enrollment.ID).Status)
	f.messenger.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Past the wake time the email goes out and the enrollment lands
	// on the exit node.
	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.ticker.Tick(ctx))

	row = f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentActive, row.Status)
	assert.Equal(t, "x", row.CurrentNodeID)

	// The next tick resolves the exit node.
	require.NoError(t, f.ticker.Tick(ctx))

	row = f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentExited, row.Status)
	f.messenger.AssertExpectations(t)
}

// Retry budget: five consecutive webhook timeouts end the journey as
// failed with the attempt count and last error preserved.
func TestTickWebhookRetryBudgetExhaustion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "w", Type: models.NodeTypeAction, Kind: models.ActionWebhook, Action: &models.ActionConfig{URL: "https://hooks.example.com/a"}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "w"},
			{Source: "w", Target: "x"},
		},
	)

	enrollment := f.enroll(t, automation.ID, "w")

	f.webhooks.On("Post", mock.Anything, "https://hooks.example.com/a", mock.Anything).
		Return(0, errors.New("dial timeout"))

	for attempt := 1; attempt <= 5; attempt++ {
		require.NoError(t, f.ticker.Tick(ctx))

		row := f.reload(t, enrollment.ID)
		if attempt < 5 {
			require.Equal(t, models.EnrollmentWaiting, row.Status, "attempt %d", attempt)
			require.Equal(t, attempt, row.AttemptCount)
			require.NotNil(t, row.WakeAt)

			// Jump past the backoff so the next tick claims it again.
			f.clock.now = row.WakeAt.Add(time.Second)
		} else {
			require.Equal(t, models.EnrollmentFailed, row.Status)
			require.Equal(t, 5, row.AttemptCount)
			require.Contains(t, row.LastError, "retry budget exhausted")
		}
	}

	// A failed enrollment is never claimed again.
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.ticker.Tick(ctx))
	assert.Equal(t, models.EnrollmentFailed, f.reload(t, enrollment.ID).Status)
	f.webhooks.AssertNumberOfCalls(t, "Post", 5)
}

func TestTickConditionRoutesByLiveAttributes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	subjects := &mocks.MockSubjectAttributes{}
	subjects.On("Attributes", mock.Anything, "customer-1").
		Return(map[string]any{"total": 150.0}, nil)

	exec := executor.New(executor.Config{
		Subjects: subjects,
		Logger:   slog.Default(),
		Clock:    f.clock.Now,
	})
	tick := ticker.New(ticker.Config{
		ID:          "ticker-test",
		Persistence: f.persistence,
		Executor:    exec,
		Clock:       f.clock.Now,
	})

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "c", Type: models.NodeTypeCondition, Condition: &models.ConditionConfig{Field: "total", Operator: ">", Value: 100}},
			{ID: "yes", Type: models.NodeTypeAction, Kind: models.ActionExit},
			{ID: "no", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "c"},
			{Source: "c", Target: "yes", Label: models.EdgeLabelTrue},
			{Source: "c", Target: "no", Label: models.EdgeLabelFalse},
		},
	)

	enrollment := f.enroll(t, automation.ID, "c")

	require.NoError(t, tick.Tick(ctx))
	assert.Equal(t, "yes", f.reload(t, enrollment.ID).CurrentNodeID)
}

func TestTickGoalNodeRecordsConversion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "g", Type: models.NodeTypeAction, Kind: models.ActionGoal, Action: &models.ActionConfig{GoalName: "first_purchase"}},
		},
		[]*models.Edge{{Source: "t", Target: "g"}},
	)

	enrollment := f.enroll(t, automation.ID, "g")

	require.NoError(t, f.ticker.Tick(ctx))

	row := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, row.Status)
	assert.Equal(t, []string{"first_purchase"}, row.Goals)
}

func TestTickGraphDriftFailsEnrollment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{{Source: "t", Target: "x"}},
	)

	// The enrollment sits on a node that is not in the graph anymore.
	enrollment := f.enroll(t, automation.ID, "removed-node")

	require.NoError(t, f.ticker.Tick(ctx))

	row := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentFailed, row.Status)
	assert.Contains(t, row.LastError, "no longer exists")
}

func TestTickIsolatesEnrollmentFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{{Source: "t", Target: "x"}},
	)

	broken := f.enroll(t, automation.ID, "gone")

	healthy := &models.Enrollment{
		AutomationID:  automation.ID,
		Identity:      "customer-2",
		EventID:       "order-2",
		CurrentNodeID: "x",
		Status:        models.EnrollmentActive,
		EnrolledAt:    f.clock.Now(),
	}
	require.NoError(t, f.persistence.EnrollmentRepository().Create(ctx, healthy))

	require.NoError(t, f.ticker.Tick(ctx))

	assert.Equal(t, models.EnrollmentFailed, f.reload(t, broken.ID).Status)
	assert.Equal(t, models.EnrollmentExited, f.reload(t, healthy.ID).Status)
}

// A goal node at the end of the flow both records the conversion and
// completes the journey; verified above. Resetting the attempt counter
// when the node changes keeps the retry budget per node.
func TestTickAttemptCounterResetsOnAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	automation := f.saveAutomation(t,
		[]*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "w", Type: models.NodeTypeAction, Kind: models.ActionWebhook, Action: &models.ActionConfig{URL: "https://hooks.example.com/b"}},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		[]*models.Edge{
			{Source: "t", Target: "w"},
			{Source: "w", Target: "x"},
		},
	)

	enrollment := f.enroll(t, automation.ID, "w")

	f.webhooks.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Return(503, nil).Once()
	f.webhooks.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Return(200, nil).Once()

	require.NoError(t, f.ticker.Tick(ctx))

	row := f.reload(t, enrollment.ID)
	require.Equal(t, models.EnrollmentWaiting, row.Status)
	require.Equal(t, 1, row.AttemptCount)

	f.clock.now = row.WakeAt.Add(time.Second)
	require.NoError(t, f.ticker.Tick(ctx))

	row = f.reload(t, enrollment.ID)
	assert.Equal(t, "x", row.CurrentNodeID)
	assert.Equal(t, models.EnrollmentActive, row.Status)
	assert.Zero(t, row.AttemptCount)
	assert.Empty(t, row.LastError)
}

// A store failure while claiming or releasing aborts the whole tick so
// the orchestrator can surface it; nothing is half-processed.
func TestTickStoreFailureAbortsTick(t *testing.T) {
	t.Parallel()

	t.Run("release failure", func(t *testing.T) {
		t.Parallel()

		store := mocks.NewMockPersistence()
		store.EnrollmentRepo().On("ReleaseExpiredClaims", mock.Anything, mock.Anything).
			Return(0, errors.New("connection refused"))

		engine := ticker.New(ticker.Config{
			ID:          "ticker-test",
			Persistence: store,
			Executor:    executor.New(executor.Config{Logger: slog.Default()}),
			Logger:      slog.Default(),
			BatchSize:   10,
		})

		err := engine.Tick(context.Background())
		require.ErrorContains(t, err, "failed to release expired claims")
		store.EnrollmentRepo().AssertNotCalled(t, "ClaimDue",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("claim failure", func(t *testing.T) {
		t.Parallel()

		store := mocks.NewMockPersistence()
		store.EnrollmentRepo().On("ReleaseExpiredClaims", mock.Anything, mock.Anything).
			Return(0, nil)
		store.EnrollmentRepo().On("ClaimDue",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("connection refused"))

		engine := ticker.New(ticker.Config{
			ID:          "ticker-test",
			Persistence: store,
			Executor:    executor.New(executor.Config{Logger: slog.Default()}),
			Logger:      slog.Default(),
			BatchSize:   10,
		})

		err := engine.Tick(context.Background())
		require.ErrorContains(t, err, "failed to claim due enrollments")
	})
}

// Terminal commits emit a lifecycle event keyed by automation so
// dashboards can aggregate per flow.
func TestTickPublishesTerminalLifecycleEvents(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC)}
	store := file.NewPersistence(t.TempDir())
	bus := &mocks.MockEventBus{}

	engine := ticker.New(ticker.Config{
		ID:          "ticker-test",
		Persistence: store,
		Executor:    executor.New(executor.Config{Logger: slog.Default(), Clock: clock.Now}),
		Publisher:   bus,
		Logger:      slog.Default(),
		Clock:       clock.Now,
		BatchSize:   10,
		LeaseFor:    time.Minute,
		MaxAttempts: 5,
	})

	automation := &models.Automation{
		Name:        "Order welcome",
		TriggerType: models.TriggerOrderCreated,
		Active:      true,
		Nodes: []*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "x", Type: models.NodeTypeAction, Kind: models.ActionExit},
		},
		Edges: []*models.Edge{{Source: "t", Target: "x"}},
	}
	require.NoError(t, store.AutomationRepository().Save(context.Background(), automation))

	enrollment := &models.Enrollment{
		AutomationID:  automation.ID,
		Identity:      "customer-1",
		EventID:       "order-1",
		CurrentNodeID: "x",
		Status:        models.EnrollmentActive,
		EnrolledAt:    clock.Now(),
	}
	require.NoError(t, store.EnrollmentRepository().Create(context.Background(), enrollment))

	bus.On("Publish", mock.Anything, automation.ID, mock.MatchedBy(func(event eventbus.Event) bool {
		exited, ok := event.(events.EnrollmentExited)

		return ok && exited.EnrollmentID == enrollment.ID && exited.Identity == "customer-1"
	})).Return(nil).Once()

	require.NoError(t, engine.Tick(context.Background()))

	bus.AssertExpectations(t)
}
