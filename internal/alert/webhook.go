package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"watchpost/internal/storage"
)

// WebhookChannel POSTs alert notifications as JSON to an operator-supplied
// URL with a bounded timeout. Any non-2xx response counts as a failure.
type WebhookChannel struct {
	client *resty.Client
}

// NewWebhookChannel creates the webhook channel with the configured timeout.
func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "watchpost-alert/1.0")

	return &WebhookChannel{client: client}
}

// Type returns the channel type name.
func (c *WebhookChannel) Type() string {
	return storage.ChannelTypeWebhook
}

// Send delivers the notification to the target URL.
func (c *WebhookChannel) Send(ctx context.Context, target string, n Notification) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(n).
		Post(target)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode())
	}
	return nil
}
