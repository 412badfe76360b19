package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vizor/vizor/pkg/engine"
)

// DefaultWebhookTimeout bounds one click delivery.
const DefaultWebhookTimeout = 10 * time.Second

// ClickNotification is the body a WebhookCallback posts.
type ClickNotification struct {
	ID        string                 `json:"id"`
	ChartID   string                 `json:"chart_id"`
	Params    map[string]interface{} `json:"params"`
	ClickedAt time.Time              `json:"clicked_at"`
}

// WebhookCallback delivers click events to an HTTP endpoint as JSON.
type WebhookCallback struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

var _ engine.HostCallback = (*WebhookCallback)(nil)

// NewWebhookCallback creates a callback posting to url.
func NewWebhookCallback(url string, timeout time.Duration) *WebhookCallback {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookCallback{URL: url, Timeout: timeout, Client: http.DefaultClient}
}

// HandleChartClick implements engine.HostCallback. Any non-2xx answer is an
// error.
func (w *WebhookCallback) HandleChartClick(ctx context.Context, chartID string, params map[string]interface{}) error {
	notification := ClickNotification{
		ID:        uuid.New().String(),
		ChartID:   chartID,
		Params:    params,
		ClickedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode click notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", notification.ID)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver click to %s: %w", w.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s answered %d", w.URL, resp.StatusCode)
	}
	return nil
}
