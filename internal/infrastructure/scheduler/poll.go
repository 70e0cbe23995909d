package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"PatchDiscovery/internal/ports"
)

// PollScheduler runs a job on a fixed interval. When the job fails with a
// retryable error the next run is pushed out with exponential backoff instead.
type PollScheduler struct {
	interval  time.Duration
	retryable func(error) bool
	backoff   *backoff.ExponentialBackOff

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*PollScheduler)(nil)

// NewPollScheduler builds a scheduler; maxBackoff caps the delay after failures.
func NewPollScheduler(interval, maxBackoff time.Duration, retryable func(error) bool) *PollScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	if retryable == nil {
		retryable = func(err error) bool { return err != nil }
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = maxBackoff
	bo.Multiplier = 2

	return &PollScheduler{interval: interval, retryable: retryable, backoff: bo}
}

// Start runs the job immediately and then keeps rescheduling it in the background.
func (p *PollScheduler) Start(ctx context.Context, job func(context.Context) error) error {
	if job == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("scheduler already started")
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(ctx, job, p.stop, p.done)
	return nil
}

func (p *PollScheduler) loop(ctx context.Context, job func(context.Context) error, stop, done chan struct{}) {
	defer close(done)

	for {
		delay := p.next(job(ctx))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// next returns the delay before the following run.
func (p *PollScheduler) next(err error) time.Duration {
	if p.retryable(err) {
		return p.backoff.NextBackOff()
	}
	p.backoff.Reset()
	return p.interval
}

// Stop halts the loop and waits for an in-progress job to return.
func (p *PollScheduler) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
