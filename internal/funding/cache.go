package funding

import (
	"context"
	"errors"
	"sync"
	"time"

	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
)

// Cache holds the last known funding rate per venue and symbol. Rates are
// signed: positive means longs pay shorts. A symbol that has never been
// fetched, or whose venue does not charge funding, reads as zero.
type Cache struct {
	venueA   venue.Adapter
	venueB   venue.Adapter
	interval time.Duration
	log      *zap.Logger

	mu        sync.RWMutex
	rates     map[string]map[string]float64
	refreshed time.Time
}

func NewCache(a, b venue.Adapter, interval time.Duration, log *zap.Logger) *Cache {
	return &Cache{
		venueA:   a,
		venueB:   b,
		interval: interval,
		log:      log,
		rates:    make(map[string]map[string]float64),
	}
}

// Rate returns the cached funding rate, zero when unknown.
func (c *Cache) Rate(venueName, symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rates[venueName][symbol]
}

func (c *Cache) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

// Refresh fetches funding for every pair on both venues. Individual
// failures keep the prior value for that symbol; a symbol the venue does
// not recognize is recorded as zero so it stops logging on every cycle.
func (c *Cache) Refresh(ctx context.Context, universe []pairs.Pair) {
	for _, pair := range universe {
		c.refreshOne(ctx, c.venueA, pair.SymbolA)
		c.refreshOne(ctx, c.venueB, pair.SymbolB)
		if ctx.Err() != nil {
			return
		}
	}
	c.mu.Lock()
	c.refreshed = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Cache) refreshOne(ctx context.Context, adapter venue.Adapter, symbol string) {
	rate, err := adapter.FundingRate(ctx, symbol)
	if err != nil {
		if errors.Is(err, venue.ErrBadSymbol) || errors.Is(err, venue.ErrNoMarket) {
			c.set(adapter.Name(), symbol, 0)
			return
		}
		c.log.Warn("funding fetch failed, keeping prior rate",
			zap.String("venue", adapter.Name()),
			zap.String("symbol", symbol),
			zap.Error(err))
		return
	}
	c.set(adapter.Name(), symbol, rate)
}

func (c *Cache) set(venueName, symbol string, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySymbol, ok := c.rates[venueName]
	if !ok {
		bySymbol = make(map[string]float64)
		c.rates[venueName] = bySymbol
	}
	bySymbol[symbol] = rate
}

// Run refreshes on the configured interval. The universe callback is read
// each cycle so the cache tracks pair-universe changes.
func (c *Cache) Run(ctx context.Context, universe func() []pairs.Pair) error {
	c.Refresh(ctx, universe())
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Refresh(ctx, universe())
		}
	}
}
