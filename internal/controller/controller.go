package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"PatchDiscovery/internal/dedup"
	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/infrastructure/telemetry"
	"PatchDiscovery/internal/policy"
	"PatchDiscovery/internal/ports"
	"PatchDiscovery/internal/reconcile"
)

const controlTimeout = 10 * time.Second

// RetryOptions bound stream reconnection.
type RetryOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Deps wires the controller's collaborators. Control, Items and Poller are optional.
type Deps struct {
	Patch      string
	Stream     ports.StreamSource
	Control    ports.ControlClient
	Items      ports.ItemLister
	Reconciler *reconcile.Reconciler
	Poller     *reconcile.Poller
	Policy     policy.Batch
	Retry      RetryOptions
	Logger     *slog.Logger
	NewRunID   func() (domain.RunID, error)
}

// Controller drives discovery runs for one patch and owns the visible item list
// and run state. All mutations go through Start, Pause, Resume, Stop and Refresh.
type Controller struct {
	patch    string
	stream   ports.StreamSource
	control  ports.ControlClient
	lister   ports.ItemLister
	rec      *reconcile.Reconciler
	poller   *reconcile.Poller
	policy   policy.Batch
	retry    RetryOptions
	logger   *slog.Logger
	newRunID func() (domain.RunID, error)
	dedup    *dedup.Deduplicator

	base      context.Context
	closeBase context.CancelFunc
	wg        sync.WaitGroup
	refreshes singleflight.Group
	controls  *controlQueue

	mu         sync.Mutex
	lifecycle  domain.Lifecycle
	stage      domain.Stage
	lastStage  domain.Stage
	runID      domain.RunID
	errMsg     string
	itemsFound int
	lastTitle  string
	batch      int
	batchItems int
	// gen identifies the current stream connection; events from older ones are dropped.
	gen       uint64
	cancel    context.CancelFunc
	loopTimer *time.Timer

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// New builds an idle controller.
func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Reconciler
	if rec == nil {
		rec = reconcile.New()
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = domain.NewRunID
	}
	retry := deps.Retry
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 500 * time.Millisecond
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = retry.InitialBackoff
	}

	base, closeBase := context.WithCancel(context.Background())
	c := &Controller{
		patch:     deps.Patch,
		stream:    deps.Stream,
		control:   deps.Control,
		lister:    deps.Items,
		rec:       rec,
		poller:    deps.Poller,
		policy:    deps.Policy,
		retry:     retry,
		logger:    logger,
		newRunID:  newRunID,
		dedup:     dedup.New(),
		base:      base,
		closeBase: closeBase,
		lifecycle: domain.LifecycleIdle,
		subs:      map[int]chan struct{}{},
		controls:  newControlQueue(),
	}
	rec.OnChange(c.signal)

	c.wg.Add(1)
	go c.runControl()
	return c
}

// Start begins a new run, superseding whatever run is current.
func (c *Controller) Start() error {
	if c.stream == nil {
		return fmt.Errorf("stream source is not configured")
	}
	run, err := c.newRunID()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}

	c.mu.Lock()
	prev, prevLifecycle := c.runID, c.lifecycle
	c.haltLocked()
	if prev != domain.NoRun && (prevLifecycle == domain.LifecycleRunning || prevLifecycle == domain.LifecyclePaused) {
		c.sendControl(opStop, prev)
	}
	c.runID = run
	c.errMsg = ""
	c.lastStage = domain.StageSearching
	c.resetRunLocked()
	c.transitionLocked(domain.LifecycleRunning)
	c.stage = domain.StageSearching
	c.launchLocked(modeStart)
	c.mu.Unlock()

	c.logger.Info("discovery run started", "patch", c.patch, "run_id", run)
	c.signal()
	return nil
}

// Pause suspends the current run. It is a no-op unless the run is running.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	if c.lifecycle != domain.LifecycleRunning {
		c.mu.Unlock()
		return false
	}
	c.haltLocked()
	c.lastStage = c.stage
	c.transitionLocked(domain.LifecyclePaused)
	c.sendControl(opPause, c.runID)
	c.mu.Unlock()

	c.signal()
	return true
}

// Resume continues a paused run at its last known stage. It is a no-op unless paused.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.lifecycle != domain.LifecyclePaused {
		c.mu.Unlock()
		return false
	}
	c.transitionLocked(domain.LifecycleRunning)
	c.stage = c.lastStage
	if !c.stage.Valid() {
		c.stage = domain.StageSearching
	}
	c.launchLocked(modeResume)
	c.mu.Unlock()

	c.signal()
	return true
}

// Stop tears the current run down and returns to idle. Live counters are zeroed;
// authoritative totals and the item list are kept.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.lifecycle == domain.LifecycleIdle {
		c.mu.Unlock()
		return false
	}
	run := c.runID
	c.haltLocked()
	c.runID = domain.NoRun
	c.errMsg = ""
	c.itemsFound = 0
	c.lastTitle = ""
	c.batch = 0
	c.batchItems = 0
	c.lastStage = domain.StageNone
	c.dedup.ResetStats()
	c.rec.ResetLive()
	c.transitionLocked(domain.LifecycleIdle)
	if run != domain.NoRun {
		c.sendControl(opStop, run)
	}
	c.mu.Unlock()

	c.logger.Info("discovery run stopped", "patch", c.patch, "run_id", run)
	c.signal()
	return true
}

// Refresh re-polls authoritative metrics and re-fetches the item list without
// touching the lifecycle. Concurrent calls share one request.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		var errs []error
		if c.poller != nil {
			if err := c.poller.PollNow(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if c.lister != nil {
			items, err := c.lister.ListItems(ctx, c.patch)
			switch {
			case err == nil:
				added := c.dedup.Sync(items)
				telemetry.SetVisibleItems(c.dedup.Len())
				c.logger.Debug("item list refreshed", "patch", c.patch, "fetched", len(items), "added", added)
			case errors.Is(err, ports.ErrNotReady):
			default:
				errs = append(errs, fmt.Errorf("list items: %w", err))
			}
		}
		return nil, errors.Join(errs...)
	})

	if err == nil {
		c.mu.Lock()
		c.errMsg = ""
		c.mu.Unlock()
	}
	c.signal()
	return err
}

// State returns the current observable snapshot.
func (c *Controller) State() domain.RunState {
	c.mu.Lock()
	s := domain.RunState{
		Lifecycle:     c.lifecycle,
		RunID:         c.runID,
		Error:         c.errMsg,
		LastItemTitle: c.lastTitle,
		Batch:         c.batch,
		BatchItems:    c.batchItems,
		// A completed batch with a scheduled continuation is not final.
		ContinuationPending: c.loopTimer != nil,
	}
	if c.lifecycle == domain.LifecycleRunning {
		s.CurrentStage = c.stage
	}
	found := c.itemsFound
	c.mu.Unlock()

	view := c.rec.Snapshot()
	s.Metrics = view
	s.Counters = domain.Counters{
		ItemsFound:      found,
		TotalSaved:      view.Get(domain.MetricSaved),
		TotalSkipped:    view.Get(domain.MetricSkipped),
		TotalDuplicates: view.Get(domain.MetricDuplicates),
		FrontierSize:    view.Get(domain.MetricFrontier),
	}
	return s
}

// Items returns the visible, deduplicated item list.
func (c *Controller) Items() []domain.DiscoveredItem {
	return c.dedup.Items()
}

// Subscribe returns a channel that receives a signal whenever state may have changed.
// Signals coalesce; readers call State to get the current snapshot.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// Close cancels every background task and waits for them to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.haltLocked()
	c.mu.Unlock()

	c.closeBase()
	c.wg.Wait()
}

func (c *Controller) signal() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// haltLocked drops the current connection and any pending continuation.
func (c *Controller) haltLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.loopTimer != nil {
		c.loopTimer.Stop()
		c.loopTimer = nil
	}
}

func (c *Controller) transitionLocked(to domain.Lifecycle) {
	from := c.lifecycle
	c.lifecycle = to
	if to != domain.LifecycleRunning {
		c.stage = domain.StageNone
	}
	if from != to {
		telemetry.RecordTransition(string(from), string(to))
		c.logger.Debug("lifecycle transition", "from", from, "to", to, "run_id", c.runID)
	}
}

// launchLocked opens a new stream connection for the current run.
func (c *Controller) launchLocked(mode openMode) {
	c.gen++
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consume(ctx, c.gen, c.runID, mode)
}

// rotateRun replaces the run id of a live connection, e.g. when the server
// refuses to resume.
func (c *Controller) rotateRun(gen uint64) (domain.RunID, error) {
	run, err := c.newRunID()
	if err != nil {
		return domain.NoRun, fmt.Errorf("allocate run id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return domain.NoRun, errSuperseded
	}
	c.runID = run
	c.resetRunLocked()
	return run, nil
}

// resetRunLocked zeroes the per-run counters at the start of a server run.
func (c *Controller) resetRunLocked() {
	c.itemsFound = 0
	c.lastTitle = ""
	c.batch = 1
	c.batchItems = 0
	c.dedup.ResetStats()
	c.rec.BeginRun()
}

func (c *Controller) runConfig() ports.RunConfig {
	opts := c.policy.Options()
	return ports.RunConfig{
		BatchSize:           opts.BatchSize,
		AutoLoop:            opts.AutoLoop,
		DelayBetweenBatches: opts.DelayBetweenBatches,
	}
}
