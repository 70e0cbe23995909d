package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"PatchDiscovery/internal/domain"
)

func ptr(v int64) *int64 { return &v }

var families = DefaultFamilies(time.Second, time.Minute)

func TestSnapshot_LiveUntilFirstPoll(t *testing.T) {
	r := New()
	r.ApplyLiveDelta(domain.CounterDelta{Processed: ptr(3), Duplicates: ptr(1), Frontier: ptr(40)})
	r.ApplyLiveDelta(domain.CounterDelta{Processed: ptr(2), Frontier: ptr(35)})
	r.IncLive(domain.MetricDuplicates, 1)

	view := r.Snapshot()
	assert.Equal(t, int64(5), view.Get(domain.MetricProcessed))
	assert.Equal(t, int64(1), view.Get(domain.MetricDuplicates))
	assert.Equal(t, int64(35), view.Get(domain.MetricFrontier), "frontier is a gauge")
	assert.Equal(t, domain.SourceLive, view.Values[domain.MetricDuplicates].Source)
	assert.Equal(t, domain.SourceNone, view.Values[domain.MetricHeroes].Source)
	assert.Zero(t, view.Get(domain.MetricHeroes))
}

func TestLiveDuplicates_CountedOnceForServerAndClientReports(t *testing.T) {
	r := New()
	// The server reports the duplicate it saw and the client deduplicator drops the same event.
	r.ApplyLiveDelta(domain.CounterDelta{Duplicates: ptr(1)})
	r.IncLive(domain.MetricDuplicates, 1)
	r.ApplyLiveDelta(domain.CounterDelta{Saved: ptr(2), Duplicates: ptr(4)})

	view := r.Snapshot()
	assert.Equal(t, int64(1), view.Get(domain.MetricDuplicates))
	assert.Equal(t, int64(2), view.Get(domain.MetricSaved))
}

func TestSnapshot_AuthoritativeWinsOnceConfirmed(t *testing.T) {
	r := New()
	r.IncLive(domain.MetricDuplicates, 2)
	r.ApplyAuthoritative(families[0], domain.AuthoritativeSnapshot{
		domain.MetricDuplicates: 50,
		domain.MetricSaved:      120,
		domain.MetricPaywall:    9,
	})

	view := r.Snapshot()
	assert.Equal(t, int64(50), view.Get(domain.MetricDuplicates))
	assert.Equal(t, int64(120), view.Get(domain.MetricSaved))
	assert.Zero(t, view.Get(domain.MetricPaywall), "slow family metrics are applied by the slow family only")

	r.IncLive(domain.MetricDuplicates, 5)
	assert.Equal(t, int64(50), r.Snapshot().Get(domain.MetricDuplicates))
}

func TestBeginRun_RequiresFreshConfirmation(t *testing.T) {
	r := New()
	r.ApplyAuthoritative(families[0], domain.AuthoritativeSnapshot{domain.MetricSaved: 10})
	r.ApplyLiveDelta(domain.CounterDelta{Saved: ptr(4)})

	r.BeginRun()
	view := r.Snapshot()
	assert.Equal(t, domain.SourceNone, view.Values[domain.MetricSaved].Source)
	assert.Equal(t, int64(10), r.Authoritative()[domain.MetricSaved], "last authoritative value is retained")

	r.ApplyLiveDelta(domain.CounterDelta{Saved: ptr(1)})
	assert.Equal(t, int64(1), r.Snapshot().Get(domain.MetricSaved))

	r.ApplyAuthoritative(families[0], domain.AuthoritativeSnapshot{domain.MetricSaved: 11})
	assert.Equal(t, int64(11), r.Snapshot().Get(domain.MetricSaved))
}

func TestResetLive_KeepsAuthoritative(t *testing.T) {
	r := New()
	r.ApplyAuthoritative(families[1], domain.AuthoritativeSnapshot{domain.MetricPromoted: 7})
	r.ApplyLiveDelta(domain.CounterDelta{Skipped: ptr(3)})

	r.ResetLive()

	view := r.Snapshot()
	assert.Zero(t, view.Get(domain.MetricSkipped))
	assert.Equal(t, int64(7), view.Get(domain.MetricPromoted))
	assert.Empty(t, r.Live())
}

func TestStaleFlag(t *testing.T) {
	r := New()
	r.MarkStale(families[0])
	assert.True(t, r.Snapshot().Stale)

	r.ApplyAuthoritative(families[0], domain.AuthoritativeSnapshot{})
	assert.False(t, r.Snapshot().Stale)

	r.MarkStale(families[1])
	r.ClearStale(families[1])
	assert.False(t, r.Snapshot().Stale)
}

func TestOnChangeFires(t *testing.T) {
	r := New()
	calls := 0
	r.OnChange(func() { calls++ })

	r.ApplyLiveDelta(domain.CounterDelta{Processed: ptr(1)})
	r.ApplyLiveDelta(domain.CounterDelta{})
	r.IncLive(domain.MetricDuplicates, 1)

	assert.Equal(t, 2, calls)
}

func TestSnapshot_MonotonicUnderFailureProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		saved := rapid.Int64Range(0, 1_000_000).Draw(t, "saved")
		dups := rapid.Int64Range(0, 1_000_000).Draw(t, "dups")
		r.ApplyAuthoritative(families[0], domain.AuthoritativeSnapshot{
			domain.MetricSaved:      saved,
			domain.MetricDuplicates: dups,
		})
		before := r.Snapshot()

		failures := rapid.IntRange(1, 30).Draw(t, "failures")
		for i := 0; i < failures; i++ {
			r.MarkStale(families[0])
			if rapid.Bool().Draw(t, "live") {
				r.ApplyLiveDelta(domain.CounterDelta{Saved: ptr(1)})
				r.IncLive(domain.MetricDuplicates, 1)
			}
		}

		after := r.Snapshot()
		for _, m := range []domain.Metric{domain.MetricSaved, domain.MetricDuplicates} {
			if before.Values[m] != after.Values[m] {
				t.Fatalf("%s regressed: %+v -> %+v", m, before.Values[m], after.Values[m])
			}
		}
	})
}
