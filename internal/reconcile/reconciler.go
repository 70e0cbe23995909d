package reconcile

import (
	"sync"
	"time"

	"PatchDiscovery/internal/domain"
)

// Family groups metrics polled on the same cadence.
type Family struct {
	Name     string
	Interval time.Duration
	Metrics  []domain.Metric
}

// DefaultFamilies returns the fast and slow metric families.
func DefaultFamilies(fast, slow time.Duration) []Family {
	return []Family{
		{
			Name:     "fast",
			Interval: fast,
			Metrics:  []domain.Metric{domain.MetricSaved, domain.MetricDuplicates, domain.MetricHeroes},
		},
		{
			Name:     "slow",
			Interval: slow,
			Metrics:  []domain.Metric{domain.MetricPaywall, domain.MetricExtractOK, domain.MetricRenderOK, domain.MetricPromoted},
		},
	}
}

type authValue struct {
	value     int64
	confirmed bool
}

// Reconciler merges live stream counters with polled authoritative totals.
// The live and authoritative sides update independently and never wait on each other.
type Reconciler struct {
	mu       sync.RWMutex
	live     map[domain.Metric]int64
	auth     map[domain.Metric]authValue
	stale    map[string]bool
	onChange func()
}

// New builds an empty reconciler.
func New() *Reconciler {
	return &Reconciler{
		live:  map[domain.Metric]int64{},
		auth:  map[domain.Metric]authValue{},
		stale: map[string]bool{},
	}
}

// OnChange registers a callback invoked after every mutation, outside the lock.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Reconciler) changed() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// ApplyLiveDelta merges an optimistic counter delta. Frontier is replaced, the rest add up.
// The live duplicate count belongs to the client deduplicator (see IncLive), so the
// server's duplicates field is ignored here; the authoritative poll reports the total.
func (r *Reconciler) ApplyLiveDelta(delta domain.CounterDelta) {
	if delta.Empty() {
		return
	}

	r.mu.Lock()
	add := func(m domain.Metric, v *int64) {
		if v != nil {
			r.live[m] += *v
		}
	}
	add(domain.MetricProcessed, delta.Processed)
	add(domain.MetricSkipped, delta.Skipped)
	add(domain.MetricSaved, delta.Saved)
	if delta.Frontier != nil {
		r.live[domain.MetricFrontier] = *delta.Frontier
	}
	r.mu.Unlock()

	r.changed()
}

// IncLive adds n to a single live metric.
func (r *Reconciler) IncLive(m domain.Metric, n int64) {
	r.mu.Lock()
	r.live[m] += n
	r.mu.Unlock()
	r.changed()
}

// ApplyAuthoritative replaces the authoritative values of the family's metrics.
// Metrics missing from the snapshot keep their previous values.
func (r *Reconciler) ApplyAuthoritative(family Family, snap domain.AuthoritativeSnapshot) {
	r.mu.Lock()
	for _, m := range family.Metrics {
		if v, ok := snap[m]; ok {
			r.auth[m] = authValue{value: v, confirmed: true}
		}
	}
	r.stale[family.Name] = false
	r.mu.Unlock()

	r.changed()
}

// MarkStale flags a family whose last poll failed at the transport level.
// Authoritative values are left untouched.
func (r *Reconciler) MarkStale(family Family) {
	r.mu.Lock()
	already := r.stale[family.Name]
	r.stale[family.Name] = true
	r.mu.Unlock()

	if !already {
		r.changed()
	}
}

// ClearStale drops the stale flag, e.g. after a benign not-ready answer.
func (r *Reconciler) ClearStale(family Family) {
	r.mu.Lock()
	was := r.stale[family.Name]
	r.stale[family.Name] = false
	r.mu.Unlock()

	if was {
		r.changed()
	}
}

// BeginRun zeroes live counters and requires a fresh successful poll before
// authoritative values take precedence again. Last authoritative values are kept.
func (r *Reconciler) BeginRun() {
	r.mu.Lock()
	r.live = map[domain.Metric]int64{}
	for m, v := range r.auth {
		v.confirmed = false
		r.auth[m] = v
	}
	r.mu.Unlock()

	r.changed()
}

// ResetLive zeroes live counters only.
func (r *Reconciler) ResetLive() {
	r.mu.Lock()
	r.live = map[domain.Metric]int64{}
	r.mu.Unlock()

	r.changed()
}

// Snapshot resolves every metric: authoritative if confirmed since the run began,
// else live, else zero.
func (r *Reconciler) Snapshot() domain.MetricsView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view := domain.MetricsView{Values: make(map[domain.Metric]domain.MetricValue, len(domain.AllMetrics))}
	for _, m := range domain.AllMetrics {
		view.Values[m] = resolve(r.live, r.auth, m)
	}
	for _, stale := range r.stale {
		if stale {
			view.Stale = true
			break
		}
	}
	return view
}

func resolve(live map[domain.Metric]int64, auth map[domain.Metric]authValue, m domain.Metric) domain.MetricValue {
	if a, ok := auth[m]; ok && a.confirmed {
		return domain.MetricValue{Value: a.value, Source: domain.SourceAuthoritative}
	}
	if v, ok := live[m]; ok {
		return domain.MetricValue{Value: v, Source: domain.SourceLive}
	}
	return domain.MetricValue{Source: domain.SourceNone}
}

// Live returns a copy of the live counters.
func (r *Reconciler) Live() map[domain.Metric]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.Metric]int64, len(r.live))
	for k, v := range r.live {
		out[k] = v
	}
	return out
}

// Authoritative returns the last known authoritative values, confirmed or not.
func (r *Reconciler) Authoritative() domain.AuthoritativeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(domain.AuthoritativeSnapshot, len(r.auth))
	for k, v := range r.auth {
		out[k] = v.value
	}
	return out
}
