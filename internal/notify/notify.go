// Package notify delivers incident notifications to the external channel.
// Sends are best-effort: failures are logged by the caller and never block
// the lifecycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Notifier sends a human-readable message to the notification channel
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// SlackNotifier posts messages to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client

	// limiter smooths bursts so a flapping target cannot spam the channel.
	// Terminal-state notifications wait for a token rather than drop.
	limiter *rate.Limiter
}

var _ Notifier = (*SlackNotifier)(nil)

// NewSlackNotifier creates a notifier for the given webhook URL
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
}

// Send posts the message as a Slack text payload
func (n *SlackNotifier) Send(ctx context.Context, message string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limit wait: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier prints notifications to stdout. It is the fallback when no
// webhook URL is configured, so operators still see the report text.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

// Send prints the message
func (n *LogNotifier) Send(_ context.Context, message string) error {
	fmt.Printf("Notification (no webhook configured):\n%s\n", message)
	return nil
}
