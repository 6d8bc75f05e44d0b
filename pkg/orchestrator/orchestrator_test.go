package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	ticks atomic.Int64
	err   error
	block chan struct{}
}

func (r *countingRunner) Tick(_ context.Context) error {
	if r.block != nil {
		<-r.block
	}

	r.ticks.Add(1)

	return r.err
}

func TestOrchestratorRunsTicksOnInterval(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	o := New(Config{
		Runner:   runner,
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))

	defer func() {
		require.NoError(t, o.Stop(context.Background()))
	}()

	assert.Eventually(t, func() bool {
		return runner.ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestratorStopHaltsTicking(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	o := New(Config{
		Runner:   runner,
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return runner.ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))

	seen := runner.ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, runner.ticks.Load())
}

func TestOrchestratorTickErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{err: errors.New("store unavailable")}
	o := New(Config{
		Runner:   runner,
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))

	defer func() {
		require.NoError(t, o.Stop(context.Background()))
	}()

	assert.Eventually(t, func() bool {
		return runner.ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestratorGuardExcludesSecondProcess(t *testing.T) {
	t.Parallel()

	lock := NewMemoryLock()

	first := &countingRunner{}
	second := &countingRunner{}

	a := New(Config{
		Runner:   first,
		Guard:    NewMemoryGuard(lock),
		Interval: 10 * time.Millisecond,
	})
	b := New(Config{
		Runner:   second,
		Guard:    NewMemoryGuard(lock),
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, a.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return first.ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Start(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, second.ticks.Load())

	// When the holder stops, the other process takes over.
	require.NoError(t, a.Stop(context.Background()))

	assert.Eventually(t, func() bool {
		return second.ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop(context.Background()))
}

func TestMemoryGuardExpiry(t *testing.T) {
	t.Parallel()

	lock := NewMemoryLock()
	holder := NewMemoryGuard(lock)
	contender := NewMemoryGuard(lock)

	held, err := holder.TryAcquire(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, held)

	held, err = contender.TryAcquire(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, held)

	// An expired hold is up for grabs, covering a crashed holder.
	time.Sleep(20 * time.Millisecond)

	held, err = contender.TryAcquire(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, held)
}
