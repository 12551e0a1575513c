// Package metrics implements the lock-free counter/gauge + cheap-locked
// histogram registry from §5's "Shared mutable state" #3: the third and
// last process-wide mutable structure alongside the clone cache and the
// pipeline's dedup registries. The sync.Map-of-*int64-plus-atomic.AddInt64
// shape for counters mirrors internal/redact.Redactor's per-family count
// bumping; the histogram adds a plain mutex-guarded bucket slice since
// there is no lock-free precedent for that in the pack.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry collects counters, gauges, and histograms. The zero value is
// not usable; build one with New. Safe for concurrent use.
type Registry struct {
	counters sync.Map // name -> *int64
	gauges   sync.Map // name -> *int64 (fixed-point: value * 1000)
	hists    sync.Map // name -> *histogram
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{}
}

// IncCounter adds delta to the named monotonic counter, creating it at
// zero on first use.
func (r *Registry) IncCounter(name string, delta int64) {
	v, _ := r.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// Counter returns the current value of a named counter, or 0 if unset.
func (r *Registry) Counter(name string) int64 {
	v, ok := r.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// SetGauge records the current value of a named gauge, overwriting any
// prior value. Values are stored as a fixed-point int64 (x1000) so the
// update stays a single atomic store with no allocation.
func (r *Registry) SetGauge(name string, value float64) {
	v, _ := r.gauges.LoadOrStore(name, new(int64))
	atomic.StoreInt64(v.(*int64), int64(value*1000))
}

// Gauge returns the current value of a named gauge, or 0 if unset.
func (r *Registry) Gauge(name string) float64 {
	v, ok := r.gauges.Load(name)
	if !ok {
		return 0
	}
	return float64(atomic.LoadInt64(v.(*int64))) / 1000
}

// histogram is a cheap mutex-guarded sample accumulator. It is not a
// bucketed Prometheus-style histogram; it keeps every observation and
// computes quantiles on read, which is adequate at triage-bot's per-message
// observation rate (§5 calls contention here "trivial").
type histogram struct {
	mu      sync.Mutex
	samples []float64
}

// Observe records one histogram sample (e.g. a call latency in
// milliseconds) under the named histogram, creating it on first use.
func (r *Registry) Observe(name string, value float64) {
	v, _ := r.hists.LoadOrStore(name, &histogram{})
	h := v.(*histogram)
	h.mu.Lock()
	h.samples = append(h.samples, value)
	h.mu.Unlock()
}

// HistogramSnapshot is a point-in-time summary of a named histogram.
type HistogramSnapshot struct {
	Count int
	Sum   float64
	P50   float64
	P95   float64
	P99   float64
}

// Snapshot returns a summary of the named histogram's samples so far, or
// the zero value if no observations have been recorded.
func (r *Registry) Snapshot(name string) HistogramSnapshot {
	v, ok := r.hists.Load(name)
	if !ok {
		return HistogramSnapshot{}
	}
	h := v.(*histogram)
	h.mu.Lock()
	samples := append([]float64(nil), h.samples...)
	h.mu.Unlock()

	if len(samples) == 0 {
		return HistogramSnapshot{}
	}
	sort.Float64s(samples)
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return HistogramSnapshot{
		Count: len(samples),
		Sum:   sum,
		P50:   percentile(samples, 0.50),
		P95:   percentile(samples, 0.95),
		P99:   percentile(samples, 0.99),
	}
}

// percentile assumes samples is already sorted ascending.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	idx := int(p * float64(len(samples)-1))
	return samples[idx]
}
