package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"PatchDiscovery/internal/ports"
)

// Endpoint locates the discovery backend.
type Endpoint struct {
	BaseURL string
	Token   string
	// Client must not carry a total timeout; streams stay open for the whole run.
	Client *http.Client
}

func (e Endpoint) client() *http.Client {
	if e.Client == nil {
		return &http.Client{}
	}
	return e.Client
}

func (e Endpoint) discoveryURL(patch, tail string, query url.Values) string {
	u := strings.TrimRight(e.BaseURL, "/") + "/api/patches/" + url.PathEscape(patch) + "/discovery/" + tail
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (e Endpoint) get(ctx context.Context, target, accept string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", accept)
	if e.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token)
	}

	resp, err := e.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrTransport, err)
	}
	return resp, nil
}
