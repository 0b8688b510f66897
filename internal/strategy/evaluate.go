package strategy

import (
	"time"

	"cross-arb-bot/internal/pairs"
	"cross-arb-bot/internal/venue"
)

// Evaluator applies the dynamic-threshold spread test. The threshold is
// rebuilt per pair from both taker fees and both funding rates, so a
// favorable funding differential widens the tradable region and an adverse
// one narrows it. Funding rates enter signed.
type Evaluator struct {
	venueA    string
	venueB    string
	feeA      float64
	feeB      float64
	funding   FundingSource
	minMargin float64
	slippage  float64
	now       func() time.Time
}

func NewEvaluator(venueA, venueB string, feeA, feeB float64, funding FundingSource, minMargin, slippage float64) *Evaluator {
	return &Evaluator{
		venueA:    venueA,
		venueB:    venueB,
		feeA:      feeA,
		feeB:      feeB,
		funding:   funding,
		minMargin: minMargin,
		slippage:  slippage,
		now:       time.Now,
	}
}

// Threshold is the minimum raw spread a direction must beat before
// slippage allowance: both taker fees, both funding rates, and the
// configured profit floor.
func (e *Evaluator) Threshold(pair pairs.Pair) float64 {
	fundingA := e.funding.Rate(e.venueA, pair.SymbolA)
	fundingB := e.funding.Rate(e.venueB, pair.SymbolB)
	return e.feeA + e.feeB + fundingA + fundingB + e.minMargin
}

// Evaluate checks both directions of one pair and returns the better
// opportunity. The spread must strictly exceed threshold plus slippage;
// equality is not a signal.
func (e *Evaluator) Evaluate(pair pairs.Pair, bookA, bookB venue.OrderBook) (Opportunity, bool) {
	if bookA.Empty() || bookB.Empty() {
		return Opportunity{}, false
	}
	threshold := e.Threshold(pair)

	buyOnA := e.direction(pair, bookA, bookB, threshold, true)
	buyOnB := e.direction(pair, bookB, bookA, threshold, false)

	switch {
	case buyOnA == nil && buyOnB == nil:
		return Opportunity{}, false
	case buyOnA == nil:
		return *buyOnB, true
	case buyOnB == nil:
		return *buyOnA, true
	case buyOnB.NetEdge > buyOnA.NetEdge:
		return *buyOnB, true
	default:
		return *buyOnA, true
	}
}

func (e *Evaluator) direction(pair pairs.Pair, buyBook, sellBook venue.OrderBook, threshold float64, buyIsA bool) *Opportunity {
	ask, okAsk := buyBook.BestAsk()
	bid, okBid := sellBook.BestBid()
	if !okAsk || !okBid || ask.Price <= 0 {
		return nil
	}
	raw := (bid.Price - ask.Price) / ask.Price
	if raw <= threshold+e.slippage {
		return nil
	}
	opp := &Opportunity{
		Pair:       pair,
		EntryPrice: ask.Price,
		ExitPrice:  bid.Price,
		RawSpread:  raw,
		Threshold:  threshold,
		NetEdge:    raw - threshold - e.slippage,
		Detected:   e.now().UTC(),
	}
	if buyIsA {
		opp.BuyVenue, opp.SellVenue = e.venueA, e.venueB
		opp.BuySymbol, opp.SellSymbol = pair.SymbolA, pair.SymbolB
		opp.BuyFee, opp.SellFee = e.feeA, e.feeB
	} else {
		opp.BuyVenue, opp.SellVenue = e.venueB, e.venueA
		opp.BuySymbol, opp.SellSymbol = pair.SymbolB, pair.SymbolA
		opp.BuyFee, opp.SellFee = e.feeB, e.feeA
	}
	return opp
}
