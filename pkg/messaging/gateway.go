// Package messaging delivers templated email and SMS sends through the
// platform's messaging gateway.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/woolane/journey/pkg/executor"
)

const defaultTimeout = 30 * time.Second

// HTTPGateway posts send requests to the gateway. Gateway rejections
// (4xx) are permanent; transport failures and 5xx responses are marked
// transient so the engine retries the step.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "messaging"),
	}
}

func (g *HTTPGateway) SendEmail(ctx context.Context, identity, template string, variables map[string]any) error {
	return g.send(ctx, "email", identity, template, variables)
}

func (g *HTTPGateway) SendSMS(ctx context.Context, identity, template string, variables map[string]any) error {
	return g.send(ctx, "sms", identity, template, variables)
}

func (g *HTTPGateway) send(ctx context.Context, channel, identity, template string, variables map[string]any) error {
	payload := map[string]any{
		"channel":   channel,
		"identity":  identity,
		"template":  template,
		"variables": variables,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s send request: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s send request: %w", channel, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return executor.MarkTransient(fmt.Errorf("messaging gateway unreachable: %w", err))
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	g.logger.DebugContext(ctx, "Messaging gateway responded",
		"channel", channel,
		"identity", identity,
		"template", template,
		"status", resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return executor.MarkTransient(fmt.Errorf("messaging gateway returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("messaging gateway rejected %s send: status %d", channel, resp.StatusCode)
	}
}
