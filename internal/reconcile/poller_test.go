package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/infrastructure/scheduler"
	"PatchDiscovery/internal/ports"
)

type fakeSource struct {
	mu    sync.Mutex
	calls atomic.Int32
	snap  domain.AuthoritativeSnapshot
	err   error
	block chan struct{}
}

func (f *fakeSource) FetchMetrics(ctx context.Context, patch string) (domain.AuthoritativeSnapshot, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeSource) set(snap domain.AuthoritativeSnapshot, err error) {
	f.mu.Lock()
	f.snap, f.err = snap, err
	f.mu.Unlock()
}

func newTestPoller(src ports.MetricsSource, rec *Reconciler) *Poller {
	return NewPoller(PollerDeps{
		Source:     src,
		Patch:      "patch-1",
		Reconciler: rec,
		Families:   DefaultFamilies(5*time.Millisecond, 10*time.Millisecond),
		Schedule: func(f Family) ports.Scheduler {
			return scheduler.NewPollScheduler(f.Interval, 50*time.Millisecond, Retryable)
		},
	})
}

func TestPollNow_AppliesEveryFamily(t *testing.T) {
	src := &fakeSource{snap: domain.AuthoritativeSnapshot{domain.MetricSaved: 3, domain.MetricPromoted: 2}}
	rec := New()
	p := newTestPoller(src, rec)

	require.NoError(t, p.PollNow(context.Background()))

	view := rec.Snapshot()
	assert.Equal(t, int64(3), view.Get(domain.MetricSaved))
	assert.Equal(t, int64(2), view.Get(domain.MetricPromoted))
}

func TestPollFamily_NotReadyIsBenign(t *testing.T) {
	src := &fakeSource{snap: domain.AuthoritativeSnapshot{domain.MetricSaved: 8}}
	rec := New()
	p := newTestPoller(src, rec)
	fast := p.families[0]
	require.NoError(t, p.PollFamily(context.Background(), fast))
	before := rec.Snapshot()

	src.set(nil, fmt.Errorf("metrics: %w", ports.ErrNotReady))
	err := p.PollFamily(context.Background(), fast)

	require.ErrorIs(t, err, ports.ErrNotReady)
	assert.False(t, Retryable(err), "not-ready must not trigger backoff")
	assert.Equal(t, before, rec.Snapshot())
	assert.False(t, rec.Snapshot().Stale)
}

func TestPollFamily_TransportFailureKeepsValues(t *testing.T) {
	src := &fakeSource{snap: domain.AuthoritativeSnapshot{domain.MetricSaved: 8}}
	rec := New()
	p := newTestPoller(src, rec)
	fast := p.families[0]
	require.NoError(t, p.PollFamily(context.Background(), fast))

	src.set(nil, fmt.Errorf("dial: %w", ports.ErrTransport))
	for i := 0; i < 5; i++ {
		err := p.PollFamily(context.Background(), fast)
		require.Error(t, err)
		assert.True(t, Retryable(err))
	}

	view := rec.Snapshot()
	assert.Equal(t, int64(8), view.Get(domain.MetricSaved))
	assert.True(t, view.Stale)
}

func TestPoller_StartAndStop(t *testing.T) {
	src := &fakeSource{snap: domain.AuthoritativeSnapshot{domain.MetricSaved: 1, domain.MetricRenderOK: 4}}
	rec := New()
	p := newTestPoller(src, rec)

	require.NoError(t, p.Start(context.Background()))
	require.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		v := rec.Snapshot()
		return v.Get(domain.MetricSaved) == 1 && v.Get(domain.MetricRenderOK) == 4
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load())
}

func TestPoller_StalledSourceDoesNotBlockLive(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	rec := New()
	p := newTestPoller(src, rec)
	require.NoError(t, p.Start(context.Background()))
	defer func() {
		close(src.block)
		_ = p.Stop(context.Background())
	}()

	require.Eventually(t, func() bool { return src.calls.Load() > 0 }, time.Second, time.Millisecond)
	rec.ApplyLiveDelta(domain.CounterDelta{Processed: ptr(4)})

	assert.Equal(t, int64(4), rec.Snapshot().Get(domain.MetricProcessed))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ports.ErrNotReady))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(errors.New("boom")))
}
