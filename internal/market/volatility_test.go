package market

import (
	"math"
	"testing"
)

func TestVolatilityWarmup(t *testing.T) {
	v := NewVolTracker(32)
	if got := v.Volatility("BTC"); got != 0 {
		t.Fatalf("empty tracker vol = %v, want 0", got)
	}
	v.Observe("BTC", 100)
	v.Observe("BTC", 101)
	if got := v.Volatility("BTC"); got != 0 {
		t.Fatalf("two samples vol = %v, want 0 during warm-up", got)
	}
}

func TestVolatilityFlatSeriesIsZero(t *testing.T) {
	v := NewVolTracker(32)
	for i := 0; i < 10; i++ {
		v.Observe("BTC", 100)
	}
	if got := v.Volatility("BTC"); got != 0 {
		t.Fatalf("flat series vol = %v, want 0", got)
	}
}

func TestVolatilityGrowsWithSwings(t *testing.T) {
	calm := NewVolTracker(32)
	wild := NewVolTracker(32)
	calmPrices := []float64{100, 100.1, 100, 100.1, 100, 100.1}
	wildPrices := []float64{100, 110, 95, 112, 90, 115}
	for i := range calmPrices {
		calm.Observe("BTC", calmPrices[i])
		wild.Observe("BTC", wildPrices[i])
	}
	if calm.Volatility("BTC") >= wild.Volatility("BTC") {
		t.Fatalf("calm %v >= wild %v", calm.Volatility("BTC"), wild.Volatility("BTC"))
	}
}

func TestVolatilityRollingWindow(t *testing.T) {
	v := NewVolTracker(4)
	// Early turbulence followed by a long flat stretch rolls out of the
	// window entirely.
	for _, p := range []float64{100, 150, 80, 100, 100, 100, 100, 100} {
		v.Observe("BTC", p)
	}
	if got := v.Volatility("BTC"); got != 0 {
		t.Fatalf("vol = %v, want 0 once the swings left the window", got)
	}
}

func TestVolatilityIgnoresBadSamples(t *testing.T) {
	v := NewVolTracker(32)
	for _, p := range []float64{100, 0, -5, 100, 100} {
		v.Observe("BTC", p)
	}
	if got := v.Volatility("BTC"); got != 0 || math.IsNaN(got) {
		t.Fatalf("vol = %v, want 0 with bad samples dropped", got)
	}
}
