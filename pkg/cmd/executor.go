// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/woolane/journey/pkg/contacts"
	"github.com/woolane/journey/pkg/executor"
	"github.com/woolane/journey/pkg/messaging"
)

// NewExecutor wires the step executor's integration points: contact
// tags and attributes in Redis, email and SMS through the messaging
// gateway, and the outbound webhook caller.
func NewExecutor(redisURL, gatewayURL string, actionTimeout time.Duration, logger *slog.Logger) (*executor.Executor, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	store := contacts.NewRedisStore(redis.NewClient(options), logger)
	gateway := messaging.NewHTTPGateway(gatewayURL, actionTimeout, logger)

	return executor.New(executor.Config{
		Messenger:     gateway,
		Tags:          store,
		Webhooks:      executor.NewHTTPWebhookCaller(actionTimeout, logger),
		Subjects:      store,
		Logger:        logger,
		ActionTimeout: actionTimeout,
	}), nil
}
