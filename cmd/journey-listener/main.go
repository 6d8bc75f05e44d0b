// Package main provides the Journey listener service: it consumes
// inbound domain events and enrolls matching contacts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/woolane/journey/pkg/cmd"
	"github.com/woolane/journey/pkg/listener"
	"github.com/woolane/journey/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "journey-listener",
		Usage:                 "Start the trigger event listener",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listener-id",
				Aliases: []string{"id"},
				Usage:   "Custom listener ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("LISTENER_ID"),
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
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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

	listenerID := command.String("listener-id")
	if listenerID == "" {
		listenerID = "listener-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("journey-listener").With("listener_id", listenerID)

	logger.InfoContext(ctx, "Initializing Journey listener")

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

	domainBus := cmd.NewDomainEventBus(command.String("event-bus"), logger)
	defer func() {
		if err := domainBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close domain event bus", "error", err)
		}
	}()

	svc := listener.New(listener.Config{
		Persistence: persistence,
		Publisher:   eventBus,
		Logger:      logger,
	})

	if err := domainBus.HandleDomainEvents(svc.OnDomainEvent); err != nil {
		return fmt.Errorf("failed to register domain event handler: %w", err)
	}

	if err := domainBus.SubscribeToDomainEvents(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	logger.InfoContext(ctx, "Journey listener started")

	waitForShutdown(ctx, logger)

	return nil
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
