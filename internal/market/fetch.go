package market

import (
	"context"
	"fmt"
	"time"

	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/venue"
)

// BookSource is anything that can hand back a cached order book, typically
// a websocket feed. A nil source means REST only.
type BookSource interface {
	Book(symbol string) (venue.OrderBook, bool)
}

// Fetcher produces paired order-book snapshots for spread evaluation. It
// prefers the stream cache and falls back to REST when the cached copy is
// missing or older than the freshness window.
type Fetcher struct {
	venueA       venue.Adapter
	venueB       venue.Adapter
	feedA        BookSource
	feedB        BookSource
	depth        int
	freshness    time.Duration
	baseTradeUSD float64
	minNotionalA float64
	minNotionalB float64
	now          func() time.Time
}

func NewFetcher(a, b venue.Adapter, feedA, feedB BookSource, depth int, freshness time.Duration, baseTradeUSD, minNotionalA, minNotionalB float64) *Fetcher {
	return &Fetcher{
		venueA:       a,
		venueB:       b,
		feedA:        feedA,
		feedB:        feedB,
		depth:        depth,
		freshness:    freshness,
		baseTradeUSD: baseTradeUSD,
		minNotionalA: minNotionalA,
		minNotionalB: minNotionalB,
		now:          time.Now,
	}
}

// Snapshot carries both legs of one pair captured close together.
type Snapshot struct {
	Pair  pairs.Pair
	BookA venue.OrderBook
	BookB venue.OrderBook
}

// PairBooks fetches both books concurrently. An empty or unfetchable book
// on either side fails the whole snapshot; evaluation needs both legs.
func (f *Fetcher) PairBooks(ctx context.Context, pair pairs.Pair) (Snapshot, error) {
	type result struct {
		book venue.OrderBook
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go func() {
		book, err := f.book(ctx, f.venueA, f.feedA, pair.SymbolA, f.minNotionalA)
		chA <- result{book, err}
	}()
	go func() {
		book, err := f.book(ctx, f.venueB, f.feedB, pair.SymbolB, f.minNotionalB)
		chB <- result{book, err}
	}()
	resA := <-chA
	resB := <-chB
	if resA.err != nil {
		return Snapshot{}, fmt.Errorf("%s %s: %w", f.venueA.Name(), pair.SymbolA, resA.err)
	}
	if resB.err != nil {
		return Snapshot{}, fmt.Errorf("%s %s: %w", f.venueB.Name(), pair.SymbolB, resB.err)
	}
	return Snapshot{Pair: pair, BookA: resA.book, BookB: resB.book}, nil
}

func (f *Fetcher) book(ctx context.Context, adapter venue.Adapter, feed BookSource, symbol string, minNotional float64) (venue.OrderBook, error) {
	if feed != nil {
		if book, ok := feed.Book(symbol); ok && f.now().Sub(book.Captured) <= f.freshness {
			return f.admit(book, minNotional)
		}
	}
	book, err := adapter.OrderBook(ctx, symbol, f.depth)
	if err != nil {
		return venue.OrderBook{}, err
	}
	if book.Empty() {
		return venue.OrderBook{}, venue.ErrNoMarket
	}
	return f.admit(book, minNotional)
}

// admit drops books priced under the venue's order-value floor: when best
// price times the base trade size cannot clear the minimum, no order on
// this instrument is placeable at our size.
func (f *Fetcher) admit(book venue.OrderBook, minNotional float64) (venue.OrderBook, error) {
	if minNotional > 0 && f.baseTradeUSD > 0 {
		if ask, ok := book.BestAsk(); ok && ask.Price*f.baseTradeUSD < minNotional {
			return venue.OrderBook{}, fmt.Errorf("order value under venue minimum %.2f: %w", minNotional, venue.ErrNoMarket)
		}
	}
	return book, nil
}
