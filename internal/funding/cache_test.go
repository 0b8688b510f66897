package funding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
)

type fundingVenue struct {
	mu    sync.Mutex
	name  string
	rates map[string]float64
	errs  map[string]error
}

func (f *fundingVenue) Name() string { return f.name }

func (f *fundingVenue) FundingRate(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return 0, err
	}
	return f.rates[symbol], nil
}

func (f *fundingVenue) Instruments(context.Context) ([]venue.Instrument, error) { return nil, nil }

func (f *fundingVenue) OrderBook(context.Context, string, int) (venue.OrderBook, error) {
	return venue.OrderBook{}, nil
}

func (f *fundingVenue) PlaceOrder(context.Context, venue.OrderRequest) (venue.Order, error) {
	return venue.Order{}, nil
}

func (f *fundingVenue) OrderStatus(context.Context, string, string) (venue.Order, error) {
	return venue.Order{}, nil
}

func (f *fundingVenue) CancelOrder(context.Context, string, string) error { return nil }

func (f *fundingVenue) Balance(context.Context, string) (venue.Balance, error) {
	return venue.Balance{}, nil
}

func universe() []pairs.Pair {
	return []pairs.Pair{{Base: "BTC", SymbolA: "BTC-USDT-SWAP", SymbolB: "BTCUSDT"}}
}

func TestRateDefaultsToZero(t *testing.T) {
	a := &fundingVenue{name: "okx"}
	b := &fundingVenue{name: "binance"}
	cache := NewCache(a, b, time.Hour, zap.NewNop())
	if got := cache.Rate("okx", "BTC-USDT-SWAP"); got != 0 {
		t.Fatalf("unfetched rate = %v, want 0", got)
	}
}

func TestRefreshStoresSignedRates(t *testing.T) {
	a := &fundingVenue{name: "okx", rates: map[string]float64{"BTC-USDT-SWAP": 0.0001}}
	b := &fundingVenue{name: "binance", rates: map[string]float64{"BTCUSDT": -0.0002}}
	cache := NewCache(a, b, time.Hour, zap.NewNop())

	cache.Refresh(context.Background(), universe())
	if got := cache.Rate("okx", "BTC-USDT-SWAP"); got != 0.0001 {
		t.Fatalf("rate = %v, want 0.0001", got)
	}
	if got := cache.Rate("binance", "BTCUSDT"); got != -0.0002 {
		t.Fatalf("rate = %v, want -0.0002", got)
	}
	if cache.LastRefreshed().IsZero() {
		t.Fatal("refresh timestamp not set")
	}
}

func TestRefreshKeepsPriorValueOnFailure(t *testing.T) {
	a := &fundingVenue{name: "okx", rates: map[string]float64{"BTC-USDT-SWAP": 0.0003}}
	b := &fundingVenue{name: "binance", rates: map[string]float64{"BTCUSDT": 0.0001}}
	cache := NewCache(a, b, time.Hour, zap.NewNop())
	cache.Refresh(context.Background(), universe())

	a.mu.Lock()
	a.errs = map[string]error{"BTC-USDT-SWAP": errors.New("timeout")}
	a.mu.Unlock()
	cache.Refresh(context.Background(), universe())
	if got := cache.Rate("okx", "BTC-USDT-SWAP"); got != 0.0003 {
		t.Fatalf("rate = %v, want prior 0.0003", got)
	}
}

func TestRefreshZeroesUnknownSymbols(t *testing.T) {
	a := &fundingVenue{name: "okx", rates: map[string]float64{"BTC-USDT-SWAP": 0.0003}}
	b := &fundingVenue{name: "binance", rates: map[string]float64{"BTCUSDT": 0.0001}}
	cache := NewCache(a, b, time.Hour, zap.NewNop())
	cache.Refresh(context.Background(), universe())

	a.mu.Lock()
	a.errs = map[string]error{"BTC-USDT-SWAP": venue.ErrBadSymbol}
	a.mu.Unlock()
	cache.Refresh(context.Background(), universe())
	if got := cache.Rate("okx", "BTC-USDT-SWAP"); got != 0 {
		t.Fatalf("rate = %v, want 0 for a delisted symbol", got)
	}
}
