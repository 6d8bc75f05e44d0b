// Package main provides the Journey ticker service: the loop that
// advances due enrollments through their automation graphs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"github.com/woolane/journey/pkg/cmd"
	"github.com/woolane/journey/pkg/log"
	"github.com/woolane/journey/pkg/orchestrator"
	"github.com/woolane/journey/pkg/otelhelper"
	"github.com/woolane/journey/pkg/ticker"
)

const tickGuardKey = "journey:ticker:guard"

func main() {
	command := &cli.Command{
		Name:                  "journey-ticker",
		Usage:                 "Start the enrollment advancement loop",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ticker-id",
				Aliases: []string{"id"},
				Usage:   "Custom ticker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("TICKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for contact data and the singleton guard",
				Value:   "redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "Base URL of the messaging gateway",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("MESSAGING_GATEWAY_URL"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Interval between ticks",
				Value:   time.Minute,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum enrollments claimed per tick",
				Value:   100,
				Sources: cli.EnvVars("TICK_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	tickerID := command.String("ticker-id")
	if tickerID == "" {
		tickerID = "ticker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("journey-ticker").With("ticker_id", tickerID)

	logger.InfoContext(ctx, "Initializing Journey ticker")

	tracer, err := otelhelper.NewTracer(ctx, "journey-ticker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	redisURL := command.String("redis-url")

	exec, err := cmd.NewExecutor(redisURL, command.String("gateway-url"), 0, logger)
	if err != nil {
		return err
	}

	guard, err := newGuard(redisURL)
	if err != nil {
		return err
	}

	engine := ticker.New(ticker.Config{
		ID:          tickerID,
		Persistence: persistence,
		Executor:    exec,
		Publisher:   eventBus,
		Logger:      logger,
		Tracer:      tracer,
		BatchSize:   command.Int("batch-size"),
	})

	orch := orchestrator.New(orchestrator.Config{
		Runner:       engine,
		Guard:        guard,
		Logger:       logger,
		Interval:     command.Duration("tick-interval"),
		Housekeeping: orchestrator.TenantSyncHousekeeping(persistence, nil, logger),
	})

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	waitForShutdown(ctx, logger)

	return orch.Stop(context.WithoutCancel(ctx))
}

func newGuard(redisURL string) (orchestrator.Guard, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return orchestrator.NewRedisGuard(redis.NewClient(options), tickGuardKey), nil
}

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig.String())
	case <-ctx.Done():
	}
}
