package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

// LongPollOptions tune the wait between empty answers. Zero values pick defaults.
type LongPollOptions struct {
	IdleWait    time.Duration
	MaxIdleWait time.Duration
}

// LongPollSource reads the discovery stream by repeatedly asking for events
// after a cursor. The server holds each request until events arrive or its own
// wait elapses. The position of the last acknowledged event of each run is
// remembered so a reopen neither replays nor skips events.
type LongPollSource struct {
	endpoint Endpoint
	idle     time.Duration
	maxIdle  time.Duration

	mu        sync.Mutex
	positions map[domain.RunID]position
}

// position is a resume point: the cursor a page was fetched with and how many
// events of that page were already applied.
type position struct {
	cursor string
	skip   int
}

var _ ports.StreamSource = (*LongPollSource)(nil)

// NewLongPollSource builds a long-poll stream source.
func NewLongPollSource(endpoint Endpoint, opts LongPollOptions) *LongPollSource {
	if opts.IdleWait <= 0 {
		opts.IdleWait = 200 * time.Millisecond
	}
	if opts.MaxIdleWait < opts.IdleWait {
		opts.MaxIdleWait = 5 * time.Second
		if opts.MaxIdleWait < opts.IdleWait {
			opts.MaxIdleWait = opts.IdleWait
		}
	}
	return &LongPollSource{
		endpoint:  endpoint,
		idle:      opts.IdleWait,
		maxIdle:   opts.MaxIdleWait,
		positions: map[domain.RunID]position{},
	}
}

// Name identifies the transport inside the registry.
func (s *LongPollSource) Name() string {
	return "longpoll"
}

// Open never touches the network; the first request is made by Next.
func (s *LongPollSource) Open(_ context.Context, patch string, run domain.RunID) (ports.EventStream, error) {
	s.mu.Lock()
	from := s.positions[run]
	s.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.idle
	bo.MaxInterval = s.maxIdle
	bo.Multiplier = 2

	return &pollStream{source: s, patch: patch, run: run, from: from, idle: bo}, nil
}

func (s *LongPollSource) remember(run domain.RunID, pos position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[run] = pos
}

type pollPage struct {
	Events []json.RawMessage `json:"events"`
	Cursor string            `json:"cursor"`
	Done   bool              `json:"done"`
}

type pending struct {
	event domain.Event
	err   error
	// commit is the resume position once this event is applied.
	commit position
}

type pollStream struct {
	source *LongPollSource
	patch  string
	run    domain.RunID
	// from is where the next request starts.
	from   position
	queue  []pending
	last   *position
	idle   *backoff.ExponentialBackOff
	waited bool
	done   bool
}

func (s *pollStream) Next(ctx context.Context) (domain.Event, error) {
	for len(s.queue) == 0 {
		if s.done {
			return nil, ports.ErrStreamClosed
		}
		if s.waited {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := s.fetch(ctx); err != nil {
			return nil, err
		}
	}

	head := s.queue[0]
	s.queue = s.queue[1:]
	commit := head.commit
	s.last = &commit
	return head.event, head.err
}

// Ack remembers the position after the event most recently returned by Next.
func (s *pollStream) Ack() {
	if s.last == nil {
		return
	}
	s.source.remember(s.run, *s.last)
	s.last = nil
}

// wait pauses between empty answers so a server that answers immediately is
// not hammered.
func (s *pollStream) wait(ctx context.Context) error {
	timer := time.NewTimer(s.idle.NextBackOff())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *pollStream) fetch(ctx context.Context) error {
	query := url.Values{"runId": {string(s.run)}}
	if s.from.cursor != "" {
		query.Set("cursor", s.from.cursor)
	}
	endpoint := s.source.endpoint
	resp, err := endpoint.get(ctx, endpoint.discoveryURL(s.patch, "events", query), "application/json", nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		s.waited = true
		return nil
	case http.StatusGone:
		s.done = true
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %s", ports.ErrTransport, resp.Status)
	}

	var page pollPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fmt.Errorf("%w: decode events page: %v", ports.ErrTransport, err)
	}
	s.enqueue(page)
	s.done = page.Done
	return nil
}

// enqueue queues the events of a page that were not applied yet and moves
// from to the end of the page.
func (s *pollStream) enqueue(page pollPage) {
	start := s.from
	n := len(page.Events)
	for i := start.skip; i < n; i++ {
		ev, err := Decode("", page.Events[i])
		commit := position{cursor: start.cursor, skip: i + 1}
		if i == n-1 && page.Cursor != "" {
			commit = position{cursor: page.Cursor}
		}
		s.queue = append(s.queue, pending{event: ev, err: err, commit: commit})
	}

	switch {
	case page.Cursor != "" && page.Cursor != start.cursor:
		s.from = position{cursor: page.Cursor}
	case n > start.skip:
		s.from = position{cursor: start.cursor, skip: n}
	}

	if n > start.skip {
		s.waited = false
		s.idle.Reset()
	} else {
		s.waited = true
	}
}

func (s *pollStream) Close() error {
	s.queue = nil
	s.done = true
	return nil
}
