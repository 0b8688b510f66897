package app

import (
	"context"
	"errors"
	"testing"

	"cross-arb-bot/internal/config"
	"cross-arb-bot/internal/ledger"
	"cross-arb-bot/internal/metrics"
	"cross-arb-bot/internal/state"
	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
)

type balanceVenue struct {
	venue.Adapter
	name    string
	balance venue.Balance
	err     error
}

func (b *balanceVenue) Name() string { return b.name }

func (b *balanceVenue) Balance(context.Context, string) (venue.Balance, error) {
	if b.err != nil {
		return venue.Balance{}, b.err
	}
	return b.balance, nil
}

func newTestApp(a, b venue.Adapter) *App {
	cfg := &config.Config{}
	cfg.Strategy.QuoteCurrency = "USDT"
	return &App{
		cfg:          cfg,
		log:          zap.NewNop(),
		venueA:       a,
		venueB:       b,
		ledger:       ledger.New(7, 100, 0.01, true, state.NewMemory(), zap.NewNop()),
		metrics:      metrics.NewNoop(),
		balances:     make(map[string]float64),
		equities:     make(map[string]float64),
		openNotional: make(map[string]float64),
	}
}

func TestRefreshBalancesKeepsPriorTotalOnFailure(t *testing.T) {
	a := &balanceVenue{name: "okx", balance: venue.Balance{Free: 400, Total: 1000}}
	b := &balanceVenue{name: "binance", balance: venue.Balance{Free: 500, Total: 900}}
	app := newTestApp(a, b)

	app.refreshBalances(context.Background())
	if got := app.ledger.EquityUSD(); got != 1900 {
		t.Fatalf("equity = %v, want 1900", got)
	}

	a.err = errors.New("venue down")
	app.refreshBalances(context.Background())
	if got := app.ledger.EquityUSD(); got != 1900 {
		t.Fatalf("equity after failed refresh = %v, want prior 1900", got)
	}
	app.mu.Lock()
	free, total := app.balances["okx"], app.equities["okx"]
	app.mu.Unlock()
	if free != 400 || total != 1000 {
		t.Fatalf("carried balances = %v/%v, want 400/1000", free, total)
	}
}

func TestExposureTracksInFlightNotional(t *testing.T) {
	app := newTestApp(
		&balanceVenue{name: "okx"},
		&balanceVenue{name: "binance"},
	)

	// Two concurrent attempts on the same base, the way tryExecute commits
	// them before spawning the attempt goroutine.
	app.mu.Lock()
	app.openPositions += 2
	app.openNotional["BTC"] += 7
	app.openNotional["BTC"] += 7
	app.mu.Unlock()

	if got := app.exposure("BTC"); got != 14 {
		t.Fatalf("exposure = %v, want 14", got)
	}
	if got := app.exposure("ETH"); got != 0 {
		t.Fatalf("unrelated base exposure = %v, want 0", got)
	}

	app.releaseAttempt("BTC", 7)
	if got := app.exposure("BTC"); got != 7 {
		t.Fatalf("exposure after one release = %v, want 7", got)
	}
	app.releaseAttempt("BTC", 7)
	if got := app.exposure("BTC"); got != 0 {
		t.Fatalf("exposure after both releases = %v, want 0", got)
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if _, ok := app.openNotional["BTC"]; ok {
		t.Fatal("drained base must leave the map")
	}
	if app.openPositions != 0 {
		t.Fatalf("open positions = %d, want 0", app.openPositions)
	}
}
