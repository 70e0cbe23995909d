package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransitionMovesLifecycleGauge(t *testing.T) {
	RecordTransition("idle", "running")
	if got := testutil.ToFloat64(Lifecycle.WithLabelValues("running")); got != 1 {
		t.Fatalf("running gauge = %v, want 1", got)
	}

	RecordTransition("running", "paused")
	if got := testutil.ToFloat64(Lifecycle.WithLabelValues("running")); got != 0 {
		t.Fatalf("running gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(Lifecycle.WithLabelValues("paused")); got != 1 {
		t.Fatalf("paused gauge = %v, want 1", got)
	}
}

func TestRecordPollCountsByFamily(t *testing.T) {
	before := testutil.ToFloat64(PollsTotal.WithLabelValues("slow", "ok"))
	RecordPoll("slow", "ok")
	RecordPoll("slow", "ok")
	if got := testutil.ToFloat64(PollsTotal.WithLabelValues("slow", "ok")) - before; got != 2 {
		t.Fatalf("poll delta = %v, want 2", got)
	}
}
