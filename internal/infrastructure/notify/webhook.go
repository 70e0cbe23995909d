package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"PatchDiscovery/internal/ports"
)

// Webhook posts digests to an incoming-webhook endpoint as {"text": digest}.
type Webhook struct {
	url    string
	client *http.Client
}

var _ ports.DigestPublisher = (*Webhook)(nil)

// NewWebhook registers the destination URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// PublishDigest delivers one digest message.
func (w *Webhook) PublishDigest(ctx context.Context, digest string) error {
	if w.url == "" || w.client == nil {
		return fmt.Errorf("digest webhook misconfigured")
	}
	if digest == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": digest})
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook error: %s", resp.Status)
	}
	return nil
}
