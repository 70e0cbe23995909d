package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"PatchDiscovery/internal/infrastructure/telemetry"
	"PatchDiscovery/internal/ports"
)

// SchedulerFactory builds the scheduler that drives one family.
type SchedulerFactory func(Family) ports.Scheduler

// Poller refreshes the authoritative side of a Reconciler, one loop per family.
// It is keyed by patch and is independent of run lifecycle.
type Poller struct {
	source     ports.MetricsSource
	patch      string
	rec        *Reconciler
	families   []Family
	schedule   SchedulerFactory
	logger     *slog.Logger
	schedulers []ports.Scheduler
}

// PollerDeps wires the poller's collaborators.
type PollerDeps struct {
	Source     ports.MetricsSource
	Patch      string
	Reconciler *Reconciler
	Families   []Family
	Schedule   SchedulerFactory
	Logger     *slog.Logger
}

// NewPoller builds a poller; it does nothing until Start.
func NewPoller(deps PollerDeps) *Poller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   deps.Source,
		patch:    deps.Patch,
		rec:      deps.Reconciler,
		families: deps.Families,
		schedule: deps.Schedule,
		logger:   logger,
	}
}

// Retryable reports whether a poll error should push the next attempt out with backoff.
// Not-ready answers are benign and keep the regular cadence.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ports.ErrNotReady) && !errors.Is(err, context.Canceled)
}

// PollFamily performs one poll for a single family.
func (p *Poller) PollFamily(ctx context.Context, family Family) error {
	if p.source == nil {
		return nil
	}

	snap, err := p.source.FetchMetrics(ctx, p.patch)
	p.record(family, err)
	switch {
	case err == nil:
		p.rec.ApplyAuthoritative(family, snap)
		return nil
	case errors.Is(err, ports.ErrNotReady):
		p.rec.ClearStale(family)
		p.logger.Debug("metrics not ready", "family", family.Name, "patch", p.patch)
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.rec.MarkStale(family)
		p.logger.Warn("metrics poll failed", "family", family.Name, "patch", p.patch, "error", err)
		return fmt.Errorf("poll %s metrics: %w", family.Name, err)
	}
}

// PollNow fetches once and applies the result to every family.
func (p *Poller) PollNow(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	snap, err := p.source.FetchMetrics(ctx, p.patch)
	for _, family := range p.families {
		p.record(family, err)
		switch {
		case err == nil:
			p.rec.ApplyAuthoritative(family, snap)
		case errors.Is(err, ports.ErrNotReady):
			p.rec.ClearStale(family)
		default:
			p.rec.MarkStale(family)
		}
	}
	if err != nil && !errors.Is(err, ports.ErrNotReady) {
		return fmt.Errorf("poll metrics: %w", err)
	}
	return nil
}

// Start launches one scheduler per family.
func (p *Poller) Start(ctx context.Context) error {
	if p.source == nil || p.schedule == nil {
		return nil
	}
	if len(p.schedulers) > 0 {
		return fmt.Errorf("poller already started")
	}

	for _, family := range p.families {
		sched := p.schedule(family)
		if err := sched.Start(ctx, func(ctx context.Context) error {
			return p.PollFamily(ctx, family)
		}); err != nil {
			return fmt.Errorf("start %s poller: %w", family.Name, err)
		}
		p.schedulers = append(p.schedulers, sched)
	}
	p.logger.Info("metrics poller started", "patch", p.patch, "families", len(p.families))
	return nil
}

// Stop halts every family loop.
func (p *Poller) Stop(ctx context.Context) error {
	var errs []error
	for _, sched := range p.schedulers {
		if err := sched.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.schedulers = nil
	return errors.Join(errs...)
}

func (p *Poller) record(family Family, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrNotReady):
		result = "not_ready"
	default:
		result = "error"
	}
	telemetry.RecordPoll(family.Name, result)
}
