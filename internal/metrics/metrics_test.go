package metrics

import "testing"

func TestIncCounter_Accumulates(t *testing.T) {
	r := New()
	r.IncCounter("issues_created", 1)
	r.IncCounter("issues_created", 2)
	if got := r.Counter("issues_created"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestCounter_UnsetIsZero(t *testing.T) {
	r := New()
	if got := r.Counter("nope"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestSetGauge_OverwritesAndRoundTrips(t *testing.T) {
	r := New()
	r.SetGauge("clone_cache_bytes", 12.5)
	r.SetGauge("clone_cache_bytes", 7.25)
	if got := r.Gauge("clone_cache_bytes"); got != 7.25 {
		t.Fatalf("expected 7.25, got %v", got)
	}
}

func TestObserve_SnapshotComputesPercentiles(t *testing.T) {
	r := New()
	for _, v := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		r.Observe("llm_latency_ms", v)
	}
	snap := r.Snapshot("llm_latency_ms")
	if snap.Count != 10 {
		t.Fatalf("expected 10 samples, got %d", snap.Count)
	}
	if snap.Sum != 550 {
		t.Fatalf("expected sum 550, got %v", snap.Sum)
	}
	if snap.P50 <= 0 || snap.P99 < snap.P50 {
		t.Fatalf("unexpected percentiles: %+v", snap)
	}
}

func TestSnapshot_UnsetHistogramIsZeroValue(t *testing.T) {
	r := New()
	snap := r.Snapshot("nope")
	if snap.Count != 0 {
		t.Fatalf("expected zero-value snapshot, got %+v", snap)
	}
}
