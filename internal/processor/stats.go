package processor

import (
	"slices"
	"sync"
)

// TimingSnapshot aggregates per-file processing latencies.
type TimingSnapshot struct {
	Files  int     `json:"files"`
	Failed int     `json:"failed"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Timings collects how long each file took to process.
type Timings struct {
	mu     sync.Mutex
	ms     []int64
	failed int
}

func NewTimings() *Timings {
	return &Timings{ms: make([]int64, 0, 256)}
}

// Observe records one processed document.
func (t *Timings) Observe(doc ProcessedDocument) {
	ms := max(doc.Duration.Milliseconds(), 0)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ms = append(t.ms, ms)
	if doc.Failed() {
		t.failed++
	}
}

func (t *Timings) Snapshot() TimingSnapshot {
	t.mu.Lock()
	values := slices.Clone(t.ms)
	failed := t.failed
	t.mu.Unlock()

	if len(values) == 0 {
		return TimingSnapshot{}
	}
	slices.Sort(values)

	var sum int64
	for _, v := range values {
		sum += v
	}
	return TimingSnapshot{
		Files:  len(values),
		Failed: failed,
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		AvgMs:  float64(sum) / float64(len(values)),
		P50Ms:  percentile(values, 50),
		P95Ms:  percentile(values, 95),
		P99Ms:  percentile(values, 99),
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sorted[0])
	}
	if pct >= 100 {
		return float64(sorted[len(sorted)-1])
	}

	index := (float64(len(sorted)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo := float64(sorted[lower])
	hi := float64(sorted[upper])
	return lo + ((hi - lo) * weight)
}
