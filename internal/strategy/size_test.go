package strategy

import (
	"errors"
	"math"
	"testing"

	"cross-arb-bot/internal/venue"
)

func deepBook(venueName, symbol string, bid, ask, size float64) venue.OrderBook {
	return venue.OrderBook{
		Venue:  venueName,
		Symbol: symbol,
		Bids:   []venue.Level{{Price: bid, Size: size}},
		Asks:   []venue.Level{{Price: ask, Size: size}},
	}
}

func sizeOpp() Opportunity {
	pair := testPair()
	return Opportunity{
		Pair:       pair,
		BuyVenue:   "okx",
		SellVenue:  "binance",
		BuySymbol:  pair.SymbolA,
		SellSymbol: pair.SymbolB,
		EntryPrice: 10000,
		ExitPrice:  10050,
	}
}

func TestSizeRespectsAllFourBounds(t *testing.T) {
	s := NewSizer(0.8, 0.9, 20)
	opp := sizeOpp()
	buyBook := deepBook("okx", opp.BuySymbol, 9990, 10000, 5)
	sellBook := deepBook("binance", opp.SellSymbol, 10050, 10060, 5)

	allocation := 50.0
	balance := 1000.0
	amount, err := s.Size(opp, buyBook, sellBook, allocation, balance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bounds := []float64{
		allocation / opp.EntryPrice,
		buyBook.DepthUSD(venue.Sell, 20) * 0.8 / opp.EntryPrice,
		sellBook.DepthUSD(venue.Buy, 20) * 0.8 / opp.ExitPrice,
		balance * 0.9 / opp.EntryPrice,
	}
	for i, bound := range bounds {
		if amount > bound+1e-12 {
			t.Fatalf("amount %v exceeds bound %d (%v)", amount, i, bound)
		}
	}
	// Allocation is the binding bound here: 50/10000 = 0.005.
	if amount != 0.005 {
		t.Fatalf("amount = %v, want 0.005", amount)
	}
}

func TestSizeQuantizesDownToStep(t *testing.T) {
	s := NewSizer(0.8, 0.9, 20)
	opp := sizeOpp()
	buyBook := deepBook("okx", opp.BuySymbol, 9990, 10000, 100)
	sellBook := deepBook("binance", opp.SellSymbol, 10050, 10060, 100)

	// 77.77 / 10000 = 0.007777 floors onto the 0.001 grid.
	amount, err := s.Size(opp, buyBook, sellBook, 77.77, 1e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 0.007 {
		t.Fatalf("amount = %v, want 0.007", amount)
	}
	step := opp.Pair.InstrumentA.AmountStep
	if remainder := math.Mod(amount, step); remainder > 1e-9 && step-remainder > 1e-9 {
		t.Fatalf("amount %v is not a multiple of step %v", amount, step)
	}
}

func TestSizeRejectsBelowMinimums(t *testing.T) {
	s := NewSizer(0.8, 0.9, 20)
	opp := sizeOpp()
	buyBook := deepBook("okx", opp.BuySymbol, 9990, 10000, 100)
	sellBook := deepBook("binance", opp.SellSymbol, 10050, 10060, 100)

	// 5 USD allocation floors to zero steps of 0.001 BTC.
	if _, err := s.Size(opp, buyBook, sellBook, 5, 1e6); !errors.Is(err, ErrBelowMinAmount) {
		t.Fatalf("err = %v, want ErrBelowMinAmount", err)
	}

	// One step clears MinAmount but 10 USD notional sits under a 50 USD
	// floor on the buy instrument.
	opp.Pair.InstrumentA.MinNotional = 50
	if _, err := s.Size(opp, buyBook, sellBook, 15, 1e6); !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("err = %v, want ErrBelowMinNotional", err)
	}
}

func TestSizeDepthBound(t *testing.T) {
	s := NewSizer(0.8, 0.9, 20)
	opp := sizeOpp()
	// Thin sell side: 0.01 BTC at 10050 = 100.5 USD, discounted 80.4 USD.
	buyBook := deepBook("okx", opp.BuySymbol, 9990, 10000, 100)
	sellBook := deepBook("binance", opp.SellSymbol, 10050, 10060, 0.01)

	amount, err := s.Size(opp, buyBook, sellBook, 1000, 1e6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limit := sellBook.DepthUSD(venue.Buy, 20) * 0.8 / opp.ExitPrice
	if amount > limit {
		t.Fatalf("amount %v exceeds discounted sell depth bound %v", amount, limit)
	}
}

func TestSizeZeroBalance(t *testing.T) {
	s := NewSizer(0.8, 0.9, 20)
	opp := sizeOpp()
	buyBook := deepBook("okx", opp.BuySymbol, 9990, 10000, 100)
	sellBook := deepBook("binance", opp.SellSymbol, 10050, 10060, 100)
	if _, err := s.Size(opp, buyBook, sellBook, 100, 0); !errors.Is(err, ErrBelowMinAmount) {
		t.Fatalf("err = %v, want ErrBelowMinAmount", err)
	}
}
