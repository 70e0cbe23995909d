package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"PatchDiscovery/internal/domain"
)

// Runner is the part of the run controller a watch needs.
type Runner interface {
	Start() error
	Stop() bool
	State() domain.RunState
	Items() []domain.DiscoveredItem
	Subscribe() (<-chan struct{}, func())
}

// WatchOptions tune a watch.
type WatchOptions struct {
	// Batches is how many completed batches to wait for; values below 1 mean 1.
	Batches int
	// OnProgress is called whenever the lifecycle, stage or item count changes.
	OnProgress func(domain.RunState)
}

// Report summarizes a watched run.
type Report struct {
	RunID     domain.RunID
	Lifecycle domain.Lifecycle
	Batches   int
	Counters  domain.Counters
	Error     string
	Items     []domain.DiscoveredItem
}

// Watch starts a run and follows it to the end.
type Watch struct {
	runner Runner
	logger *slog.Logger
}

// NewWatch constructs the use case.
func NewWatch(runner Runner, logger *slog.Logger) *Watch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watch{runner: runner, logger: logger}
}

// Run starts a discovery run and blocks until it fails, the requested number
// of batches completed, the run completes with no further batch scheduled, or
// ctx is done. The run is stopped before returning unless it already ended on
// its own.
func (w *Watch) Run(ctx context.Context, opts WatchOptions) (Report, error) {
	batches := opts.Batches
	if batches < 1 {
		batches = 1
	}

	updates, unsubscribe := w.runner.Subscribe()
	defer unsubscribe()

	if err := w.runner.Start(); err != nil {
		return Report{}, fmt.Errorf("start run: %w", err)
	}

	var last domain.RunState
	for {
		state := w.runner.State()
		if opts.OnProgress != nil && progressed(last, state) {
			opts.OnProgress(state)
		}
		last = state

		switch {
		case state.Lifecycle == domain.LifecycleFailed:
			report := w.report(state)
			return report, fmt.Errorf("run %s failed: %s", state.RunID, state.Error)
		case state.Lifecycle == domain.LifecycleCompleted && (state.Batch >= batches || !state.ContinuationPending):
			report := w.report(state)
			// Cancels a pending auto-loop continuation.
			w.runner.Stop()
			return report, nil
		case state.Lifecycle == domain.LifecycleIdle:
			return w.report(state), fmt.Errorf("run was stopped")
		}

		select {
		case <-ctx.Done():
			report := w.report(w.runner.State())
			w.runner.Stop()
			return report, ctx.Err()
		case <-updates:
		}
	}
}

func (w *Watch) report(state domain.RunState) Report {
	r := Report{
		RunID:     state.RunID,
		Lifecycle: state.Lifecycle,
		Batches:   state.Batch,
		Counters:  state.Counters,
		Error:     state.Error,
	}
	for _, item := range w.runner.Items() {
		if item.Status == domain.StatusReady || item.Status == domain.StatusPendingAudit {
			r.Items = append(r.Items, item)
		}
	}
	w.logger.Info("watch finished",
		"run_id", r.RunID,
		"lifecycle", r.Lifecycle,
		"batches", r.Batches,
		"items_found", r.Counters.ItemsFound,
		"accepted", len(r.Items))
	return r
}

func progressed(prev, next domain.RunState) bool {
	return prev.Lifecycle != next.Lifecycle ||
		prev.CurrentStage != next.CurrentStage ||
		prev.Counters.ItemsFound != next.Counters.ItemsFound ||
		prev.Batch != next.Batch
}

// BuildDigestMessage renders accepted items as a plain-text digest.
func BuildDigestMessage(items []domain.DiscoveredItem) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		link := item.CanonicalURL
		if link == "" {
			link = item.URL
		}
		fmt.Fprintf(&b, "- %s\nScore: %.2f\n", item.Title, item.RelevanceScore)
		if item.Summary != "" {
			b.WriteString(item.Summary + "\n")
		}
		for _, point := range item.KeyPoints {
			b.WriteString("  * " + point + "\n")
		}
		b.WriteString(link + "\n\n")
	}
	return b.String()
}

// BuildDigestJSON renders accepted items as a compact JSON array.
func BuildDigestJSON(items []domain.DiscoveredItem) ([]byte, error) {
	type entry struct {
		ID      string  `json:"id"`
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Summary string  `json:"summary,omitempty"`
		Domain  string  `json:"domain,omitempty"`
		Score   float64 `json:"score"`
	}

	payload := make([]entry, 0, len(items))
	for _, item := range items {
		link := item.CanonicalURL
		if link == "" {
			link = item.URL
		}
		payload = append(payload, entry{
			ID:      item.ID,
			URL:     link,
			Title:   item.Title,
			Summary: item.Summary,
			Domain:  item.Meta.Domain,
			Score:   item.RelevanceScore,
		})
	}

	return json.Marshal(payload)
}
