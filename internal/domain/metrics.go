package domain

// Metric names one logical counter shown to the user.
type Metric string

const (
	MetricProcessed  Metric = "processed"
	MetricSaved      Metric = "saved"
	MetricDuplicates Metric = "duplicates"
	MetricSkipped    Metric = "skipped"
	MetricFrontier   Metric = "frontier"
	MetricHeroes     Metric = "heroes"
	MetricPaywall    Metric = "paywall"
	MetricExtractOK  Metric = "extract_ok"
	MetricRenderOK   Metric = "render_ok"
	MetricPromoted   Metric = "promoted"
)

// AllMetrics lists every logical metric in display order.
var AllMetrics = []Metric{
	MetricProcessed,
	MetricSaved,
	MetricDuplicates,
	MetricSkipped,
	MetricFrontier,
	MetricHeroes,
	MetricPaywall,
	MetricExtractOK,
	MetricRenderOK,
	MetricPromoted,
}

// CounterDelta is an optimistic increment reported on the live stream.
// Frontier is a gauge: when set it replaces the live frontier size. Duplicates is
// decoded for completeness only; live duplicates are counted on the client.
type CounterDelta struct {
	Processed  *int64 `json:"processed,omitempty"`
	Duplicates *int64 `json:"duplicates,omitempty"`
	Skipped    *int64 `json:"skipped,omitempty"`
	Frontier   *int64 `json:"frontier,omitempty"`
	Saved      *int64 `json:"saved,omitempty"`
}

// Empty reports whether the delta carries no values that feed live counters.
func (d CounterDelta) Empty() bool {
	return d.Processed == nil && d.Skipped == nil && d.Frontier == nil && d.Saved == nil
}

// AuthoritativeSnapshot holds durable totals from one successful poll.
type AuthoritativeSnapshot map[Metric]int64

// MetricSource tells where a displayed value came from.
type MetricSource string

const (
	SourceNone          MetricSource = "none"
	SourceLive          MetricSource = "live"
	SourceAuthoritative MetricSource = "authoritative"
)

// MetricValue is one reconciled metric.
type MetricValue struct {
	Value  int64        `json:"value"`
	Source MetricSource `json:"source"`
}

// MetricsView is the reconciled metrics object. Stale is set while the most recent
// authoritative poll of some family failed at the transport level.
type MetricsView struct {
	Values map[Metric]MetricValue `json:"values"`
	Stale  bool                   `json:"stale"`
}

// Get returns the value of m, or zero.
func (v MetricsView) Get(m Metric) int64 {
	return v.Values[m].Value
}
