package market

import (
	"math"
	"sync"
)

// VolTracker keeps a rolling window of mid prices per instrument and
// reports realized volatility as the standard deviation of log returns
// over that window. Fewer than three samples reads as zero so the risk
// check stays permissive during warm-up.
type VolTracker struct {
	window int

	mu      sync.Mutex
	samples map[string][]float64
}

func NewVolTracker(window int) *VolTracker {
	if window < 3 {
		window = 3
	}
	return &VolTracker{window: window, samples: make(map[string][]float64)}
}

// Observe records one mid price. Non-positive prices are ignored.
func (v *VolTracker) Observe(base string, mid float64) {
	if mid <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	window := append(v.samples[base], mid)
	if len(window) > v.window {
		window = window[len(window)-v.window:]
	}
	v.samples[base] = window
}

// Volatility returns the realized vol for one instrument.
func (v *VolTracker) Volatility(base string) float64 {
	v.mu.Lock()
	window := append([]float64(nil), v.samples[base]...)
	v.mu.Unlock()
	if len(window) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
