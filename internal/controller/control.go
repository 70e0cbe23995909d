package controller

import (
	"context"
	"sync"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

type controlOp string

const (
	opStart  controlOp = "start"
	opPause  controlOp = "pause"
	opResume controlOp = "resume"
	opStop   controlOp = "stop"
)

type controlRequest struct {
	op  controlOp
	run domain.RunID
	cfg ports.RunConfig
	// ctx and reply are set for requests a caller waits on.
	ctx   context.Context
	reply chan error
}

// controlQueue delivers control requests to the server one at a time, in the
// order they were submitted, so a pause is never overtaken by the resume that
// follows it.
type controlQueue struct {
	mu      sync.Mutex
	pending []controlRequest
	wake    chan struct{}
}

func newControlQueue() *controlQueue {
	return &controlQueue{wake: make(chan struct{}, 1)}
}

// push never blocks and is safe under the controller lock.
func (q *controlQueue) push(req controlRequest) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *controlQueue) pop() (controlRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return controlRequest{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// runControl is the single worker draining the queue until the controller closes.
func (c *Controller) runControl() {
	defer c.wg.Done()
	for {
		select {
		case <-c.base.Done():
			return
		case <-c.controls.wake:
		}
		for {
			req, ok := c.controls.pop()
			if !ok {
				break
			}
			c.execControl(req)
		}
	}
}

func (c *Controller) execControl(req controlRequest) {
	if req.reply != nil {
		if err := req.ctx.Err(); err != nil {
			req.reply <- err
			return
		}
		req.reply <- c.doControl(req.ctx, req)
		return
	}

	ctx, cancel := context.WithTimeout(c.base, controlTimeout)
	defer cancel()
	if err := c.doControl(ctx, req); err != nil {
		c.logger.Warn("control request failed", "op", req.op, "run_id", req.run, "error", err)
	}
}

func (c *Controller) doControl(ctx context.Context, req controlRequest) error {
	switch req.op {
	case opStart:
		return c.control.Start(ctx, c.patch, req.run, req.cfg)
	case opPause:
		return c.control.Pause(ctx, c.patch, req.run)
	case opResume:
		return c.control.Resume(ctx, c.patch, req.run)
	case opStop:
		return c.control.Stop(ctx, c.patch, req.run)
	}
	return nil
}

// sendControl queues a fire-and-forget trigger; failures are only logged
// because the authoritative state change arrives on the stream.
func (c *Controller) sendControl(op controlOp, run domain.RunID) {
	if c.control == nil {
		return
	}
	c.controls.push(controlRequest{op: op, run: run})
}

// callControl queues a trigger behind any pending ones and waits for its answer.
func (c *Controller) callControl(ctx context.Context, op controlOp, run domain.RunID) error {
	if c.control == nil {
		return nil
	}
	reply := make(chan error, 1)
	c.controls.push(controlRequest{op: op, run: run, cfg: c.runConfig(), ctx: ctx, reply: reply})

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.base.Done():
		return c.base.Err()
	}
}
