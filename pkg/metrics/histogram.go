package metrics

import (
	"math"
	"sort"
	"sync"
)

// Histogram tracks the distribution of values across fixed buckets.
// Safe for concurrent use.
type Histogram struct {
	mu      sync.RWMutex
	bounds  []float64 // Sorted upper bounds
	counts  []uint64  // One per bound, plus a trailing overflow bucket
	sum     float64
	count   uint64
	min     float64
	max     float64
}

// NewHistogram creates a histogram with the given bucket upper bounds.
// The bounds are copied and sorted.
func NewHistogram(bounds []float64) *Histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)

	return &Histogram{
		bounds: b,
		counts: make([]uint64, len(b)+1),
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := sort.SearchFloat64s(h.bounds, v)
	h.counts[idx]++

	h.sum += v
	h.count++
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
}

// HistogramSummary is a point-in-time reduction of a histogram.
type HistogramSummary struct {
	Count       uint64              `json:"count"`
	Sum         float64             `json:"sum"`
	Min         float64             `json:"min"`
	Max         float64             `json:"max"`
	Mean        float64             `json:"mean"`
	Buckets     []BucketCount       `json:"buckets"`
	Percentiles map[float64]float64 `json:"percentiles,omitempty"`
}

// BucketCount is one cumulative histogram bucket.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary reduces the histogram to cumulative buckets plus estimated
// percentiles.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HistogramSummary{
			Buckets:     make([]BucketCount, 0),
			Percentiles: make(map[float64]float64),
		}
	}

	buckets := make([]BucketCount, len(h.bounds)+1)
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += h.counts[i]
		buckets[i] = BucketCount{UpperBound: bound, Count: cumulative}
	}
	cumulative += h.counts[len(h.bounds)]
	buckets[len(h.bounds)] = BucketCount{UpperBound: math.Inf(1), Count: cumulative}

	return HistogramSummary{
		Count:       h.count,
		Sum:         h.sum,
		Min:         h.min,
		Max:         h.max,
		Mean:        h.sum / float64(h.count),
		Buckets:     buckets,
		Percentiles: h.estimatePercentiles(0.5, 0.95, 0.99),
	}
}

// estimatePercentiles interpolates percentiles from bucket counts. The
// estimate assumes values spread uniformly within each bucket, which is as
// good as bucketed data allows.
func (h *Histogram) estimatePercentiles(ps ...float64) map[float64]float64 {
	result := make(map[float64]float64, len(ps))
	if h.count == 0 {
		return result
	}

	for _, p := range ps {
		rank := p * float64(h.count)
		var cumulative uint64

		for i, c := range h.counts {
			cumulative += c
			if float64(cumulative) < rank {
				continue
			}
			switch {
			case i == 0:
				result[p] = h.bounds[0] / 2
			case i >= len(h.bounds):
				result[p] = h.max
			default:
				lower := h.bounds[i-1]
				upper := h.bounds[i]
				before := cumulative - c
				fraction := (rank - float64(before)) / float64(c)
				result[p] = lower + fraction*(upper-lower)
			}
			break
		}
	}

	return result
}

// Reset clears all recorded data.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.counts {
		h.counts[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = math.MaxFloat64
	h.max = -math.MaxFloat64
}

// Count returns the total number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Mean returns the mean of all observations, or 0 with no data.
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}
