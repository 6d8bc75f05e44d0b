package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woolane/journey/pkg/channels/gochannel"
	"github.com/woolane/journey/pkg/eventbus"
	"github.com/woolane/journey/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	received := make(chan any, 1)
	require.NoError(t, bus.Handle(events.EnrollmentCompletedEvent, func(ctx context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.EnrollmentCompleted{
		BaseEvent: events.BaseEvent{
			Type:         events.EnrollmentCompletedEvent,
			Timestamp:    time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC),
			AutomationID: "auto-1",
			TickerID:     "ticker-1",
		},
		EnrollmentID: "enr-1",
		Identity:     "customer-1",
		Goals:        []string{"purchase"},
	}
	require.NoError(t, bus.Publish(ctx, "auto-1", sent))

	select {
	case event := <-received:
		completed, ok := event.(*events.EnrollmentCompleted)
		require.True(t, ok)
		assert.Equal(t, "enr-1", completed.EnrollmentID)
		assert.Equal(t, "customer-1", completed.Identity)
		assert.Equal(t, []string{"purchase"}, completed.Goals)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle event was not delivered")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	received := make(chan any, 1)
	require.NoError(t, bus.Handle(events.EnrollmentFailedEvent, func(ctx context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	exited := events.EnrollmentExited{
		BaseEvent:    events.BaseEvent{Type: events.EnrollmentExitedEvent, AutomationID: "auto-1"},
		EnrollmentID: "enr-1",
	}
	require.NoError(t, bus.Publish(ctx, "auto-1", exited))

	select {
	case <-received:
		t.Fatal("handler ran for an event type it never registered")
	case <-time.After(100 * time.Millisecond):
	}
}
