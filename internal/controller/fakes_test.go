package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	events chan domain.Event
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	last  domain.Event
	acked []domain.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan domain.Event, 64),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Next(ctx context.Context) (domain.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ports.ErrStreamClosed
	case err := <-c.errs:
		return nil, err
	case ev := <-c.events:
		c.mu.Lock()
		c.last = ev
		c.mu.Unlock()
		return ev, nil
	}
}

func (c *fakeConn) Ack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil {
		c.acked = append(c.acked, c.last)
		c.last = nil
	}
}

func (c *fakeConn) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type openCall struct {
	run  domain.RunID
	conn *fakeConn
}

type fakeStream struct {
	mu      sync.Mutex
	opens   int
	openErr func(n int) error
	// gate, when set, blocks Open until a value is received.
	gate   chan struct{}
	opened chan openCall
}

func newFakeStream() *fakeStream {
	return &fakeStream{opened: make(chan openCall, 32)}
}

func (f *fakeStream) Name() string { return "fake" }

func (f *fakeStream) Open(ctx context.Context, patch string, run domain.RunID) (ports.EventStream, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	openErr, gate := f.openErr, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if openErr != nil {
		if err := openErr(n); err != nil {
			return nil, err
		}
	}
	conn := newFakeConn()
	f.opened <- openCall{run: run, conn: conn}
	return conn, nil
}

func (f *fakeStream) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeStream) next(t *testing.T) openCall {
	t.Helper()
	select {
	case call := <-f.opened:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("stream was not opened")
		return openCall{}
	}
}

type controlCall struct {
	op  string
	run domain.RunID
}

type fakeControl struct {
	mu        sync.Mutex
	calls     []controlCall
	resumeErr error
	// pauseDelay holds a pause request in flight before the server sees it.
	pauseDelay time.Duration
}

func (f *fakeControl) record(op string, run domain.RunID) {
	f.mu.Lock()
	f.calls = append(f.calls, controlCall{op: op, run: run})
	f.mu.Unlock()
}

func (f *fakeControl) Start(_ context.Context, _ string, run domain.RunID, _ ports.RunConfig) error {
	f.record("start", run)
	return nil
}

func (f *fakeControl) Pause(_ context.Context, _ string, run domain.RunID) error {
	f.mu.Lock()
	delay := f.pauseDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.record("pause", run)
	return nil
}

func (f *fakeControl) Resume(_ context.Context, _ string, run domain.RunID) error {
	f.record("resume", run)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeErr
}

func (f *fakeControl) Stop(_ context.Context, _ string, run domain.RunID) error {
	f.record("stop", run)
	return nil
}

func (f *fakeControl) has(op string, run domain.RunID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.op == op && c.run == run {
			return true
		}
	}
	return false
}

// ops lists the operations in the order the server received them.
func (f *fakeControl) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeMetrics struct {
	mu   sync.Mutex
	snap domain.AuthoritativeSnapshot
	err  error
}

func (f *fakeMetrics) FetchMetrics(context.Context, string) (domain.AuthoritativeSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakeLister struct {
	items []domain.DiscoveredItem
	err   error
}

func (f *fakeLister) ListItems(context.Context, string) ([]domain.DiscoveredItem, error) {
	return f.items, f.err
}

// sequentialIDs returns run ids run-1, run-2, ...
func sequentialIDs() func() (domain.RunID, error) {
	var mu sync.Mutex
	n := 0
	return func() (domain.RunID, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return domain.RunID(fmt.Sprintf("run-%d", n)), nil
	}
}

func item(run domain.RunID, n int, status domain.ItemStatus) domain.ItemEvent {
	return domain.ItemEvent{
		RunID: run,
		Item: domain.DiscoveredItem{
			ID:           fmt.Sprintf("item-%d", n),
			CanonicalURL: fmt.Sprintf("https://x.com/%d", n),
			Title:        fmt.Sprintf("Item %d", n),
			Status:       status,
		},
	}
}
