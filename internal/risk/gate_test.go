package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cross-arb-bot/internal/config"

	"go.uber.org/zap"
)

type fakeAccounts struct {
	mu       sync.Mutex
	equity   float64
	initial  float64
	peak     float64
	dailyPnL float64
	resets   int
}

func (f *fakeAccounts) EquityUSD() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.equity
}

func (f *fakeAccounts) InitialEquityUSD() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initial
}

func (f *fakeAccounts) PeakEquityUSD() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeAccounts) DailyPnLUSD() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dailyPnL
}

func (f *fakeAccounts) ResetDaily(time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.dailyPnL = 0
	f.peak = f.equity
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossLimit:    0.05,
		MaxDrawdown:       0.1,
		PositionSizeLimit: 0.5,
		MaxOpenPositions:  5,
		MinLiquidityUSD:   100,
		MaxVolatility:     0.02,
		MonitorInterval:   time.Second,
	}
}

func healthyAccounts() *fakeAccounts {
	return &fakeAccounts{equity: 1000, initial: 1000, peak: 1000}
}

func okCheck() EntryCheck {
	return EntryCheck{
		OpenPositions: 0,
		NotionalUSD:   100,
		BuyDepthUSD:   5000,
		SellDepthUSD:  5000,
		Volatility:    0.001,
	}
}

func TestCanEnterHealthy(t *testing.T) {
	g := NewGate(testRiskConfig(), healthyAccounts(), nil, zap.NewNop())
	if err := g.CanEnter(okCheck()); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestCanEnterSentinels(t *testing.T) {
	cases := []struct {
		name     string
		accounts *fakeAccounts
		mutate   func(*EntryCheck)
		want     error
	}{
		{"position cap", healthyAccounts(), func(c *EntryCheck) { c.OpenPositions = 5 }, ErrMaxPositions},
		{"daily loss", &fakeAccounts{equity: 950, initial: 1000, peak: 1000, dailyPnL: -50}, nil, ErrDailyLoss},
		{"drawdown", &fakeAccounts{equity: 890, initial: 1000, peak: 1000, dailyPnL: -10}, nil, ErrDrawdown},
		{"exposure", healthyAccounts(), func(c *EntryCheck) { c.NotionalUSD = 600 }, ErrExposure},
		{"cumulative exposure", healthyAccounts(), func(c *EntryCheck) {
			c.NotionalUSD = 200
			c.OpenNotionalUSD = 400
		}, ErrExposure},
		{"liquidity", healthyAccounts(), func(c *EntryCheck) { c.SellDepthUSD = 50 }, ErrLiquidity},
		{"volatility", healthyAccounts(), func(c *EntryCheck) { c.Volatility = 0.05 }, ErrVolatility},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(testRiskConfig(), tc.accounts, nil, zap.NewNop())
			check := okCheck()
			if tc.mutate != nil {
				tc.mutate(&check)
			}
			if err := g.CanEnter(check); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCanEnterSumsOpenInstrumentNotional(t *testing.T) {
	// 0.5 * 1000 equity caps instrument exposure at 500.
	g := NewGate(testRiskConfig(), healthyAccounts(), nil, zap.NewNop())
	check := okCheck()
	check.NotionalUSD = 200
	check.OpenNotionalUSD = 250
	if err := g.CanEnter(check); err != nil {
		t.Fatalf("unexpected rejection at 450 of 500: %v", err)
	}
	check.OpenNotionalUSD = 350
	if err := g.CanEnter(check); !errors.Is(err, ErrExposure) {
		t.Fatalf("err = %v, want ErrExposure at 550 of 500", err)
	}
}

func TestPauseBlocksUntilResume(t *testing.T) {
	g := NewGate(testRiskConfig(), healthyAccounts(), nil, zap.NewNop())
	g.Pause("operator")
	if err := g.CanEnter(okCheck()); !errors.Is(err, ErrPaused) {
		t.Fatalf("err = %v, want ErrPaused", err)
	}
	paused, reason := g.Paused()
	if !paused || reason != "operator" {
		t.Fatalf("paused = %v reason = %q", paused, reason)
	}
	g.Resume()
	if err := g.CanEnter(okCheck()); err != nil {
		t.Fatalf("unexpected rejection after resume: %v", err)
	}
}

func TestTickPausesAndForceClosesOnDailyLoss(t *testing.T) {
	accounts := &fakeAccounts{equity: 940, initial: 1000, peak: 1000, dailyPnL: -60}
	var closeCalls int
	g := NewGate(testRiskConfig(), accounts, func(context.Context, string) { closeCalls++ }, zap.NewNop())

	g.tick(context.Background())
	paused, reason := g.Paused()
	if !paused || reason != ErrDailyLoss.Error() {
		t.Fatalf("paused = %v reason = %q", paused, reason)
	}
	if closeCalls != 1 {
		t.Fatalf("force close calls = %d, want 1", closeCalls)
	}

	// Still breached on the next tick, but already closed once.
	g.tick(context.Background())
	if closeCalls != 1 {
		t.Fatalf("force close calls = %d after second tick, want 1", closeCalls)
	}
}

func TestDailyLossClearsAtUTCRollover(t *testing.T) {
	accounts := &fakeAccounts{equity: 940, initial: 1000, peak: 940, dailyPnL: -60}
	g := NewGate(testRiskConfig(), accounts, nil, zap.NewNop())

	now := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.day = dayOf(now)

	g.tick(context.Background())
	if err := g.CanEnter(okCheck()); !errors.Is(err, ErrPaused) {
		t.Fatalf("err = %v, want ErrPaused before rollover", err)
	}

	now = time.Date(2025, 3, 2, 0, 0, 5, 0, time.UTC)
	g.tick(context.Background())
	if accounts.resets != 1 {
		t.Fatalf("daily resets = %d, want 1", accounts.resets)
	}
	if paused, _ := g.Paused(); paused {
		t.Fatal("daily-loss pause must clear at the UTC rollover")
	}
	if err := g.CanEnter(okCheck()); err != nil {
		t.Fatalf("unexpected rejection after rollover: %v", err)
	}
}
