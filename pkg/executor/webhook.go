package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// HTTPWebhookCaller posts JSON payloads over net/http with a per-call
// timeout. The response body is drained and discarded; only the
// status code matters to the caller.
type HTTPWebhookCaller struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPWebhookCaller(timeout time.Duration, logger *slog.Logger) *HTTPWebhookCaller {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &HTTPWebhookCaller{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("module", "webhook_caller"),
	}
}

func (c *HTTPWebhookCaller) Post(ctx context.Context, url string, payload map[string]any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		c.logger.WarnContext(ctx, "failed to drain webhook response", "error", err)
	}

	return resp.StatusCode, nil
}
