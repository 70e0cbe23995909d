package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

// Client talks to the discovery backend's JSON endpoints: metrics, run control
// and the durable item list.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	control *rate.Limiter
}

var (
	_ ports.MetricsSource = (*Client)(nil)
	_ ports.ControlClient = (*Client)(nil)
	_ ports.ItemLister    = (*Client)(nil)
)

// Options configure the client. Zero values pick defaults.
type Options struct {
	Timeout time.Duration
	// ControlRPS limits control requests per second; zero disables the limit.
	ControlRPS float64
	HTTPClient *http.Client
}

// NewClient creates a reusable HTTP client.
func NewClient(baseURL, token string, opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.ControlRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ControlRPS), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
		control: limiter,
	}
}

// FetchMetrics reads the patch's durable totals. A 200 answer with
// success=false means the backend has nothing to report yet.
func (c *Client) FetchMetrics(ctx context.Context, patch string) (domain.AuthoritativeSnapshot, error) {
	var resp struct {
		Success  bool                `json:"success"`
		Counters map[string]*float64 `json:"counters"`
		Metrics  map[string]*float64 `json:"metrics"`
	}
	if err := c.get(ctx, c.patchURL(patch, "metrics"), &resp); err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	if !resp.Success {
		return nil, ports.ErrNotReady
	}

	snap := domain.AuthoritativeSnapshot{}
	for _, values := range []map[string]*float64{resp.Counters, resp.Metrics} {
		for key, v := range values {
			m, ok := metricKeys[key]
			if !ok || v == nil {
				continue
			}
			snap[m] = int64(*v)
		}
	}
	return snap, nil
}

var metricKeys = map[string]domain.Metric{
	"processed":  domain.MetricProcessed,
	"saved":      domain.MetricSaved,
	"duplicates": domain.MetricDuplicates,
	"deduped":    domain.MetricDuplicates,
	"skipped":    domain.MetricSkipped,
	"frontier":   domain.MetricFrontier,
	"heroes":     domain.MetricHeroes,
	"paywall":    domain.MetricPaywall,
	"extractOk":  domain.MetricExtractOK,
	"extract_ok": domain.MetricExtractOK,
	"renderOk":   domain.MetricRenderOK,
	"render_ok":  domain.MetricRenderOK,
	"promoted":   domain.MetricPromoted,
}

// ListItems returns the durable item list of a patch.
func (c *Client) ListItems(ctx context.Context, patch string) ([]domain.DiscoveredItem, error) {
	var resp struct {
		Success bool                    `json:"success"`
		Items   []domain.DiscoveredItem `json:"items"`
	}
	if err := c.get(ctx, c.patchURL(patch, "items"), &resp); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if !resp.Success {
		return nil, ports.ErrNotReady
	}
	return resp.Items, nil
}

// Start asks the backend to begin a run under the given id.
func (c *Client) Start(ctx context.Context, patch string, run domain.RunID, cfg ports.RunConfig) error {
	payload := struct {
		RunID domain.RunID `json:"runId"`
		ports.RunConfig
		DelayBetweenBatchesMs int64 `json:"delayBetweenBatchesMs"`
	}{
		RunID:                 run,
		RunConfig:             cfg,
		DelayBetweenBatchesMs: cfg.DelayBetweenBatches.Milliseconds(),
	}
	_, err := c.controlPost(ctx, c.patchURL(patch, "discovery/start"), payload)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run, err)
	}
	return nil
}

// Pause asks the backend to suspend a run.
func (c *Client) Pause(ctx context.Context, patch string, run domain.RunID) error {
	return c.runAction(ctx, patch, run, "pause")
}

// Resume asks the backend to continue a run. 404 and 409 mean the run cannot
// be resumed and are reported as ports.ErrNotResumable.
func (c *Client) Resume(ctx context.Context, patch string, run domain.RunID) error {
	return c.runAction(ctx, patch, run, "resume")
}

// Stop asks the backend to end a run.
func (c *Client) Stop(ctx context.Context, patch string, run domain.RunID) error {
	return c.runAction(ctx, patch, run, "stop")
}

func (c *Client) runAction(ctx context.Context, patch string, run domain.RunID, action string) error {
	target := c.patchURL(patch, "discovery/"+url.PathEscape(string(run))+"/"+action)
	status, err := c.controlPost(ctx, target, nil)
	if err != nil {
		if action == "resume" && (status == http.StatusNotFound || status == http.StatusConflict) {
			return fmt.Errorf("resume run %s: %w", run, ports.ErrNotResumable)
		}
		return fmt.Errorf("%s run %s: %w", action, run, err)
	}
	return nil
}

func (c *Client) patchURL(patch, tail string) string {
	return c.baseURL + "/api/patches/" + url.PathEscape(patch) + "/" + tail
}

func (c *Client) get(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ports.ErrTransport, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %v", ports.ErrTransport, err)
	}
	return nil
}

// controlPost sends a control trigger and returns the HTTP status alongside
// any error. Any 2xx counts as accepted.
func (c *Client) controlPost(ctx context.Context, target string, payload any) (int, error) {
	if err := c.control.Wait(ctx); err != nil {
		return 0, fmt.Errorf("wait for control slot: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		return resp.StatusCode, fmt.Errorf("close response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w: unexpected status %s", ports.ErrTransport, resp.Status)
	}
	return resp.StatusCode, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrTransport, err)
	}
	return resp, nil
}
