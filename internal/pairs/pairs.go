package pairs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
)

var ErrNoCommonInstruments = errors.New("no common instruments across venues")

// aliases maps venue-specific base-currency spellings onto one canonical
// name so the same asset matches across listings.
var aliases = map[string]string{
	"XBT":    "BTC",
	"BCHSV":  "BSV",
	"BCHABC": "BCH",
}

// Canonical upper-cases a base currency and resolves known aliases.
func Canonical(base string) string {
	upper := strings.ToUpper(strings.TrimSpace(base))
	if canonical, ok := aliases[upper]; ok {
		return canonical
	}
	return upper
}

// Pair is one tradable instrument listed on both venues under the same
// canonical base, quoted in the configured quote currency.
type Pair struct {
	Base        string
	SymbolA     string
	SymbolB     string
	InstrumentA venue.Instrument
	InstrumentB venue.Instrument
}

// Discover intersects the active instrument universes of two venues by
// canonical base currency. Instruments quoted in anything other than quote,
// and bases listed more than once on the same venue, are skipped.
func Discover(ctx context.Context, a, b venue.Adapter, quote string) ([]Pair, error) {
	instrumentsA, err := a.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s instruments: %w", a.Name(), err)
	}
	instrumentsB, err := b.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s instruments: %w", b.Name(), err)
	}
	byBaseA := indexByBase(instrumentsA, quote)
	byBaseB := indexByBase(instrumentsB, quote)

	var pairs []Pair
	for base, instA := range byBaseA {
		instB, ok := byBaseB[base]
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{
			Base:        base,
			SymbolA:     instA.Symbol,
			SymbolB:     instB.Symbol,
			InstrumentA: instA,
			InstrumentB: instB,
		})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%s vs %s quoted in %s: %w", a.Name(), b.Name(), quote, ErrNoCommonInstruments)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Base < pairs[j].Base })
	return pairs, nil
}

func indexByBase(instruments []venue.Instrument, quote string) map[string]venue.Instrument {
	byBase := make(map[string]venue.Instrument, len(instruments))
	dupes := make(map[string]bool)
	for _, inst := range instruments {
		if !inst.Active || !strings.EqualFold(inst.Quote, quote) {
			continue
		}
		base := Canonical(inst.Base)
		if _, seen := byBase[base]; seen {
			dupes[base] = true
			continue
		}
		byBase[base] = inst
	}
	for base := range dupes {
		delete(byBase, base)
	}
	return byBase
}

// Synchronizer refreshes the pair universe on an interval and serves the
// last good copy in between. A failed refresh keeps the prior universe.
type Synchronizer struct {
	venueA   venue.Adapter
	venueB   venue.Adapter
	quote    string
	interval time.Duration
	log      *zap.Logger

	mu        sync.RWMutex
	pairs     []Pair
	refreshed time.Time
}

func NewSynchronizer(a, b venue.Adapter, quote string, interval time.Duration, log *zap.Logger) *Synchronizer {
	return &Synchronizer{venueA: a, venueB: b, quote: quote, interval: interval, log: log}
}

// Refresh rebuilds the universe once. The first call must succeed before
// the engine starts scanning.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	pairs, err := Discover(ctx, s.venueA, s.venueB, s.quote)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pairs = pairs
	s.refreshed = time.Now().UTC()
	s.mu.Unlock()
	s.log.Info("pair universe refreshed", zap.Int("pairs", len(pairs)))
	return nil
}

// Pairs returns the current universe. The slice is shared; callers must
// not mutate it.
func (s *Synchronizer) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairs
}

func (s *Synchronizer) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// Run re-discovers on the configured interval until the context ends.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("pair refresh failed, keeping previous universe", zap.Error(err))
			}
		}
	}
}
