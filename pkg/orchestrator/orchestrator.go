// Package orchestrator owns the engine's background cadences: the
// fixed-interval tick loop, singleton-guarded per deployment, and a
// coarser cron-driven housekeeping schedule.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TickRunner is one engine cycle. Implemented by ticker.Ticker.
type TickRunner interface {
	Tick(ctx context.Context) error
}

const (
	defaultInterval         = time.Minute
	defaultHousekeepingSpec = "*/15 * * * *"
)

// Config carries the orchestrator's dependencies. Housekeeping is
// optional; when set it runs on HousekeepingSpec (cron syntax,
// default every 15 minutes).
type Config struct {
	Runner           TickRunner
	Guard            Guard
	Logger           *slog.Logger
	Interval         time.Duration
	HousekeepingSpec string
	Housekeeping     func(ctx context.Context) error
}

// Orchestrator runs the ticker on a fixed interval. Ticks execute
// inside the loop goroutine, so a slow tick delays the next one
// instead of overlapping it; the guard extends that exclusion across
// processes.
type Orchestrator struct {
	runner           TickRunner
	guard            Guard
	logger           *slog.Logger
	interval         time.Duration
	housekeepingSpec string
	housekeeping     func(ctx context.Context) error

	cron    *cron.Cron
	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

func New(cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	if cfg.HousekeepingSpec == "" {
		cfg.HousekeepingSpec = defaultHousekeepingSpec
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		runner:           cfg.Runner,
		guard:            cfg.Guard,
		logger:           cfg.Logger.With("module", "orchestrator"),
		interval:         cfg.Interval,
		housekeepingSpec: cfg.HousekeepingSpec,
		housekeeping:     cfg.Housekeeping,
	}
}

// Start launches the tick loop and the housekeeping schedule. It runs
// one tick immediately so a fresh deployment does not sit idle for a
// full interval.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}

	o.logger.Info("Starting orchestrator", "interval", o.interval)

	o.ticker = time.NewTicker(o.interval)
	o.done = make(chan bool)
	o.started = true

	if o.housekeeping != nil {
		o.cron = cron.New()

		_, err := o.cron.AddFunc(o.housekeepingSpec, func() {
			if err := o.housekeeping(ctx); err != nil {
				o.logger.Error("Housekeeping run failed", "error", err)
			}
		})
		if err != nil {
			o.started = false
			o.ticker.Stop()

			return err
		}

		o.cron.Start()
	}

	go o.loop(ctx)

	return nil
}

// Stop shuts the loop down and releases the singleton guard.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return nil
	}

	o.logger.Info("Stopping orchestrator")

	o.ticker.Stop()

	if o.cron != nil {
		o.cron.Stop()
	}

	select {
	case o.done <- true:
	default:
	}

	o.started = false

	if o.guard != nil {
		if err := o.guard.Release(ctx); err != nil {
			o.logger.Error("Failed to release singleton guard", "error", err)

			return err
		}
	}

	return nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	o.runTick(ctx)

	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case <-o.ticker.C:
			o.runTick(ctx)
		}
	}
}

// runTick executes one guarded tick. The guard TTL covers two
// intervals so the lock survives a tick that overruns its slot but
// still frees itself after a crash.
func (o *Orchestrator) runTick(ctx context.Context) {
	if o.guard != nil {
		held, err := o.guard.TryAcquire(ctx, 2*o.interval)
		if err != nil {
			o.logger.Error("Singleton guard check failed", "error", err)

			return
		}

		if !held {
			o.logger.Debug("Another process holds the tick guard, skipping")

			return
		}
	}

	start := time.Now()

	if err := o.runner.Tick(ctx); err != nil {
		// Store-level failure. The enrollments are untouched; the next
		// interval retries.
		o.logger.Error("Tick aborted", "error", err, "duration", time.Since(start))

		return
	}

	o.logger.Debug("Tick completed", "duration", time.Since(start))
}
