package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

const (
	maxEventSize = 1024 * 1024
	acceptSSE    = "text/event-stream"
)

// SSESource reads the discovery stream as server-sent events. The id of the
// last acknowledged event of each run is sent back as Last-Event-ID on reopen.
type SSESource struct {
	endpoint Endpoint

	mu      sync.Mutex
	lastIDs map[domain.RunID]string
}

var _ ports.StreamSource = (*SSESource)(nil)

// NewSSESource builds an SSE stream source.
func NewSSESource(endpoint Endpoint) *SSESource {
	return &SSESource{endpoint: endpoint, lastIDs: map[domain.RunID]string{}}
}

// Name identifies the transport inside the registry.
func (s *SSESource) Name() string {
	return "sse"
}

// Open connects to the run's event stream. The connection lives as long as ctx.
func (s *SSESource) Open(ctx context.Context, patch string, run domain.RunID) (ports.EventStream, error) {
	target := s.endpoint.discoveryURL(patch, "stream", url.Values{"runId": {string(run)}})
	header := http.Header{}
	s.mu.Lock()
	if id := s.lastIDs[run]; id != "" {
		header.Set("Last-Event-ID", id)
	}
	s.mu.Unlock()

	resp, err := s.endpoint.get(ctx, target, acceptSSE, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %s", ports.ErrTransport, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseStream{source: s, run: run, body: resp.Body, scanner: scanner}, nil
}

func (s *SSESource) remember(run domain.RunID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIDs[run] = id
}

type sseStream struct {
	source  *SSESource
	run     domain.RunID
	body    io.ReadCloser
	scanner *bufio.Scanner
	// lastID is the id of the frame most recently dispatched by Next.
	lastID string
}

// Next reads lines until a blank line dispatches an event. Comment lines
// (heartbeats) and unknown fields are ignored.
func (s *sseStream) Next(ctx context.Context) (domain.Event, error) {
	var (
		kind string
		id   string
		data []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return nil, fmt.Errorf("%w: event exceeds %d bytes", ports.ErrTransport, maxEventSize)
				}
				return nil, fmt.Errorf("%w: read stream: %v", ports.ErrTransport, err)
			}
			return nil, ports.ErrStreamClosed
		}

		line := s.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				kind, id = "", ""
				continue
			}
			s.lastID = id
			return Decode(kind, []byte(strings.Join(data, "\n")))
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = value
		case "id":
			id = value
		case "data":
			data = append(data, value)
		}
	}
}

// Ack remembers the last dispatched frame id for the next Open of this run.
func (s *sseStream) Ack() {
	if s.lastID != "" {
		s.source.remember(s.run, s.lastID)
		s.lastID = ""
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
