package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

const webhookTimeout = 10 * time.Second

// Channel delivers notification events to an external receiver.
type Channel interface {
	Send(ctx context.Context, ev *Event) error
}

// WebhookChannel posts events as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url: url,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

func (c *WebhookChannel) Send(ctx context.Context, ev *Event) error {
	errFactory := errors.New()

	body, err := json.Marshal(ev)
	if err != nil {
		return errFactory.Wrap(errors.ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(errors.ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errFactory.Wrap(errors.ErrDispatchFailed, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errFactory.WithData(errors.ErrDispatchFailed, resp.Status)
	}

	return nil
}

// LogChannel writes events to the log. Used when no webhook is configured.
type LogChannel struct{}

func (LogChannel) Send(_ context.Context, ev *Event) error {
	logger.Info().
		Str("client_id", ev.ClientID).
		Str("metric", ev.MetricName).
		Float64("observed", ev.Observed).
		Float64("threshold", ev.Threshold).
		Msg("Notification")
	return nil
}
