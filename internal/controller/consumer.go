package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"PatchDiscovery/internal/dedup"
	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/infrastructure/telemetry"
	"PatchDiscovery/internal/policy"
	"PatchDiscovery/internal/ports"
)

// errSuperseded ends a connection whose run was replaced while it was connecting.
var errSuperseded = errors.New("connection superseded")

type openMode int

const (
	// modeStart asks the server to start the run before streaming.
	modeStart openMode = iota
	// modeResume asks the server to resume the run before streaming.
	modeResume
	// modeReconnect only reopens the stream.
	modeReconnect
)

// consume keeps one logical stream alive for (patch, run) until the run ends,
// the connection is superseded, or retries are exhausted.
func (c *Controller) consume(ctx context.Context, gen uint64, run domain.RunID, mode openMode) {
	defer c.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialBackoff
	bo.MaxInterval = c.retry.MaxBackoff
	bo.Multiplier = 2

	failures := 0
	for {
		delivered, err := c.session(ctx, gen, &run, &mode)
		if ctx.Err() != nil || err == nil || errors.Is(err, errSuperseded) {
			return
		}
		if delivered {
			failures = 0
			bo.Reset()
		}
		failures++
		if failures > c.retry.MaxRetries {
			c.fail(gen, fmt.Errorf("stream retries exhausted after %d attempts: %w", failures, err))
			return
		}

		delay := bo.NextBackOff()
		telemetry.RecordReconnect()
		c.logger.Warn("stream disconnected, reconnecting",
			"run_id", run,
			"attempt", failures,
			"retry_delay_ms", delay.Milliseconds(),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session performs the control handshake (if any), opens the stream and pumps
// events. A nil error means the connection ended on purpose.
func (c *Controller) session(ctx context.Context, gen uint64, run *domain.RunID, mode *openMode) (bool, error) {
	if err := c.handshake(ctx, gen, run, *mode); err != nil {
		return false, err
	}
	*mode = modeReconnect

	stream, err := c.stream.Open(ctx, c.patch, *run)
	if err != nil {
		return false, fmt.Errorf("open %s stream: %w", c.stream.Name(), err)
	}
	defer stream.Close()

	delivered := false
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrMalformedEvent) {
				telemetry.RecordEvent("unknown", "malformed")
				c.logger.Debug("dropping malformed event", "run_id", *run, "error", err)
				stream.Ack()
				continue
			}
			return delivered, err
		}
		delivered = true
		done, applied := c.apply(gen, ev)
		if applied {
			stream.Ack()
		}
		if done {
			return delivered, nil
		}
	}
}

func (c *Controller) handshake(ctx context.Context, gen uint64, run *domain.RunID, mode openMode) error {
	switch mode {
	case modeStart:
		if err := c.callControl(ctx, opStart, *run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case modeResume:
		err := c.callControl(ctx, opResume, *run)
		if errors.Is(err, ports.ErrNotResumable) {
			next, rerr := c.rotateRun(gen)
			if rerr != nil {
				return rerr
			}
			c.logger.Info("run not resumable, starting a new one", "previous_run_id", *run, "run_id", next)
			*run = next
			err = c.callControl(ctx, opStart, next)
		}
		if err != nil {
			return fmt.Errorf("resume run: %w", err)
		}
	}
	return nil
}

// apply folds one event into the state. done reports that the connection that
// delivered it should stop reading; applied is false only for an event that
// arrived after the connection was dropped and must be read again later.
func (c *Controller) apply(gen uint64, ev domain.Event) (done, applied bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.signal()

	kind := string(ev.Kind())
	if gen != c.gen || c.lifecycle != domain.LifecycleRunning {
		telemetry.RecordEvent(kind, "stale")
		return true, false
	}
	return c.applyLocked(kind, ev), true
}

func (c *Controller) applyLocked(kind string, ev domain.Event) bool {
	if ev.Run() != c.runID {
		telemetry.RecordEvent(kind, "foreign_run")
		c.logger.Debug("dropping event from another run", "kind", kind, "event_run_id", ev.Run(), "run_id", c.runID)
		return false
	}

	switch e := ev.(type) {
	case domain.ItemEvent:
		return c.applyItemLocked(e)
	case domain.StageEvent:
		if !e.Stage.Valid() {
			telemetry.RecordEvent(kind, "malformed")
			c.logger.Debug("dropping unknown stage", "stage", e.Stage)
			return false
		}
		c.stage = e.Stage
		c.lastStage = e.Stage
	case domain.CounterEvent:
		c.rec.ApplyLiveDelta(e.Delta)
	case domain.CompletedEvent:
		c.haltLocked()
		c.transitionLocked(domain.LifecycleCompleted)
		c.logger.Info("discovery run completed", "run_id", c.runID, "items_found", c.itemsFound)
		telemetry.RecordEvent(kind, "applied")
		return true
	case domain.FailedEvent:
		c.haltLocked()
		c.errMsg = e.Reason
		if c.errMsg == "" {
			c.errMsg = "discovery run failed"
		}
		c.transitionLocked(domain.LifecycleFailed)
		c.logger.Error("discovery run failed", "run_id", c.runID, "reason", c.errMsg)
		telemetry.RecordEvent(kind, "applied")
		return true
	default:
		telemetry.RecordEvent(kind, "unhandled")
		return false
	}
	telemetry.RecordEvent(kind, "applied")
	return false
}

func (c *Controller) applyItemLocked(e domain.ItemEvent) bool {
	kind := string(e.Kind())
	outcome := c.dedup.Apply(e.Item)
	telemetry.RecordEvent(kind, outcome.String())

	switch outcome {
	case dedup.Duplicate:
		c.rec.IncLive(domain.MetricDuplicates, 1)
		return false
	case dedup.Updated:
		return false
	}

	c.itemsFound++
	c.batchItems++
	if stored, ok := c.dedup.Lookup(dedup.Key(dedup.Canonicalize(e.Item))); ok && stored.Title != "" {
		c.lastTitle = stored.Title
	}
	telemetry.SetVisibleItems(c.dedup.Len())

	decision := c.policy.Evaluate(c.batchItems)
	if decision.Action == policy.Continue {
		return false
	}
	c.endBatchLocked(decision)
	return true
}

// endBatchLocked closes the current batch. With auto-loop the next batch is
// scheduled on the same run id; otherwise the run waits for a manual restart.
func (c *Controller) endBatchLocked(decision policy.Decision) {
	c.haltLocked()
	c.transitionLocked(domain.LifecycleCompleted)
	run := c.runID
	c.logger.Info("batch complete", "run_id", run, "batch", c.batch, "batch_items", c.batchItems, "next", decision.Action)

	if decision.Action != policy.ContinueLater {
		c.sendControl(opStop, run)
		return
	}

	c.sendControl(opPause, run)
	token := c.gen
	c.loopTimer = time.AfterFunc(decision.Delay, func() {
		c.continueBatch(token)
	})
}

func (c *Controller) continueBatch(token uint64) {
	c.mu.Lock()
	if token != c.gen || c.lifecycle != domain.LifecycleCompleted {
		c.mu.Unlock()
		return
	}
	c.loopTimer = nil
	c.batch++
	c.batchItems = 0
	c.transitionLocked(domain.LifecycleRunning)
	c.stage = domain.StageSearching
	c.lastStage = domain.StageSearching
	c.launchLocked(modeResume)
	run, batch := c.runID, c.batch
	c.mu.Unlock()

	c.logger.Info("continuing with next batch", "run_id", run, "batch", batch)
	c.signal()
}

// fail moves the run to failed after unrecoverable stream errors. Items and
// authoritative counters stay visible.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.haltLocked()
	c.errMsg = err.Error()
	c.transitionLocked(domain.LifecycleFailed)
	run := c.runID
	c.mu.Unlock()

	c.logger.Error("discovery run failed", "run_id", run, "error", err)
	c.signal()
}
