package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/venue"
)

type bookVenue struct {
	mu    sync.Mutex
	name  string
	books map[string]venue.OrderBook
	errs  map[string]error
	calls int
}

func (b *bookVenue) Name() string { return b.name }

func (b *bookVenue) OrderBook(_ context.Context, symbol string, _ int) (venue.OrderBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if err := b.errs[symbol]; err != nil {
		return venue.OrderBook{}, err
	}
	return b.books[symbol], nil
}

func (b *bookVenue) Instruments(context.Context) ([]venue.Instrument, error) { return nil, nil }

func (b *bookVenue) PlaceOrder(context.Context, venue.OrderRequest) (venue.Order, error) {
	return venue.Order{}, nil
}

func (b *bookVenue) OrderStatus(context.Context, string, string) (venue.Order, error) {
	return venue.Order{}, nil
}

func (b *bookVenue) CancelOrder(context.Context, string, string) error { return nil }

func (b *bookVenue) Balance(context.Context, string) (venue.Balance, error) {
	return venue.Balance{}, nil
}

func (b *bookVenue) FundingRate(context.Context, string) (float64, error) { return 0, nil }

type staticFeed struct {
	books map[string]venue.OrderBook
}

func (s staticFeed) Book(symbol string) (venue.OrderBook, bool) {
	book, ok := s.books[symbol]
	return book, ok
}

func liveBook(venueName, symbol string, age time.Duration) venue.OrderBook {
	return venue.OrderBook{
		Venue:    venueName,
		Symbol:   symbol,
		Bids:     []venue.Level{{Price: 99, Size: 1}},
		Asks:     []venue.Level{{Price: 100, Size: 1}},
		Captured: time.Now().UTC().Add(-age),
	}
}

func testPair() pairs.Pair {
	return pairs.Pair{Base: "BTC", SymbolA: "BTC-USDT-SWAP", SymbolB: "BTCUSDT"}
}

func TestPairBooksFetchesBothLegs(t *testing.T) {
	pair := testPair()
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance", books: map[string]venue.OrderBook{
		pair.SymbolB: liveBook("binance", pair.SymbolB, 0),
	}}
	f := NewFetcher(a, b, nil, nil, 20, 3*time.Second, 7, 0, 0)

	snap, err := f.PairBooks(context.Background(), pair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.BookA.Venue != "okx" || snap.BookB.Venue != "binance" {
		t.Fatalf("wrong venues: %s / %s", snap.BookA.Venue, snap.BookB.Venue)
	}
}

func TestPairBooksFailsWhenEitherLegFails(t *testing.T) {
	pair := testPair()
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance", errs: map[string]error{
		pair.SymbolB: venue.ErrBadSymbol,
	}}
	f := NewFetcher(a, b, nil, nil, 20, 3*time.Second, 7, 0, 0)

	if _, err := f.PairBooks(context.Background(), pair); !errors.Is(err, venue.ErrBadSymbol) {
		t.Fatalf("err = %v, want ErrBadSymbol", err)
	}
}

func TestPairBooksRejectsEmptyBook(t *testing.T) {
	pair := testPair()
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance", books: map[string]venue.OrderBook{
		pair.SymbolB: {Venue: "binance", Symbol: pair.SymbolB},
	}}
	f := NewFetcher(a, b, nil, nil, 20, 3*time.Second, 7, 0, 0)

	if _, err := f.PairBooks(context.Background(), pair); !errors.Is(err, venue.ErrNoMarket) {
		t.Fatalf("err = %v, want ErrNoMarket", err)
	}
}

func TestPairBooksPrefersFreshStreamCache(t *testing.T) {
	pair := testPair()
	a := &bookVenue{name: "okx"}
	b := &bookVenue{name: "binance"}
	feedA := staticFeed{books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, time.Second),
	}}
	feedB := staticFeed{books: map[string]venue.OrderBook{
		pair.SymbolB: liveBook("binance", pair.SymbolB, time.Second),
	}}
	f := NewFetcher(a, b, feedA, feedB, 20, 3*time.Second, 7, 0, 0)

	if _, err := f.PairBooks(context.Background(), pair); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls != 0 || b.calls != 0 {
		t.Fatalf("REST called %d/%d times despite fresh cache", a.calls, b.calls)
	}
}

func TestPairBooksRejectsBelowVenueMinNotional(t *testing.T) {
	pair := testPair()
	cheap := venue.OrderBook{
		Venue:    "binance",
		Symbol:   pair.SymbolB,
		Bids:     []venue.Level{{Price: 0.49, Size: 1000}},
		Asks:     []venue.Level{{Price: 0.5, Size: 1000}},
		Captured: time.Now().UTC(),
	}
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance", books: map[string]venue.OrderBook{
		pair.SymbolB: cheap,
	}}

	// 0.5 * 7 = 3.5 stays under the 5 USD floor.
	f := NewFetcher(a, b, nil, nil, 20, 3*time.Second, 7, 0, 5)
	if _, err := f.PairBooks(context.Background(), pair); !errors.Is(err, venue.ErrNoMarket) {
		t.Fatalf("err = %v, want ErrNoMarket", err)
	}

	// The same book passes a venue without a floor.
	f = NewFetcher(a, b, nil, nil, 20, 3*time.Second, 7, 0, 0)
	if _, err := f.PairBooks(context.Background(), pair); err != nil {
		t.Fatalf("unexpected error without a floor: %v", err)
	}
}

func TestPairBooksMinNotionalAppliesToStreamCache(t *testing.T) {
	pair := testPair()
	feedB := staticFeed{books: map[string]venue.OrderBook{
		pair.SymbolB: {
			Venue:    "binance",
			Symbol:   pair.SymbolB,
			Bids:     []venue.Level{{Price: 0.49, Size: 1000}},
			Asks:     []venue.Level{{Price: 0.5, Size: 1000}},
			Captured: time.Now().UTC(),
		},
	}}
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance"}

	f := NewFetcher(a, b, nil, feedB, 20, 3*time.Second, 7, 0, 5)
	if _, err := f.PairBooks(context.Background(), pair); !errors.Is(err, venue.ErrNoMarket) {
		t.Fatalf("err = %v, want ErrNoMarket from the cached book", err)
	}
}

func TestPairBooksFallsBackOnStaleCache(t *testing.T) {
	pair := testPair()
	a := &bookVenue{name: "okx", books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, 0),
	}}
	b := &bookVenue{name: "binance", books: map[string]venue.OrderBook{
		pair.SymbolB: liveBook("binance", pair.SymbolB, 0),
	}}
	feedA := staticFeed{books: map[string]venue.OrderBook{
		pair.SymbolA: liveBook("okx", pair.SymbolA, time.Minute),
	}}
	f := NewFetcher(a, b, feedA, staticFeed{}, 20, 3*time.Second, 7, 0, 0)

	if _, err := f.PairBooks(context.Background(), pair); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls != 1 {
		t.Fatalf("stale cache must fall back to REST, calls = %d", a.calls)
	}
}
