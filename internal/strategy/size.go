package strategy

import (
	"errors"
	"fmt"

	"cross-arb-bot/internal/venue"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinAmount   = errors.New("size below venue minimum amount")
	ErrBelowMinNotional = errors.New("size below venue minimum notional")
)

// Sizer turns an opportunity into an order quantity bounded by four caps:
// the compounded allocation, discounted depth on each side of the trade,
// and a fraction of the free balance on the buy venue. The result is
// quantized down to the buy venue's amount step with decimal arithmetic so
// the venue never rejects a float residue.
type Sizer struct {
	depthDiscount float64
	riskFraction  float64
	depthLevels   int
}

func NewSizer(depthDiscount, riskFraction float64, depthLevels int) *Sizer {
	return &Sizer{
		depthDiscount: depthDiscount,
		riskFraction:  riskFraction,
		depthLevels:   depthLevels,
	}
}

// Size computes the quantity for one attempt. buyBook and sellBook are the
// books the opportunity was priced from; allocationUSD is the ledger's
// current allocation; balanceUSD is free quote balance on the buy venue.
func (s *Sizer) Size(opp Opportunity, buyBook, sellBook venue.OrderBook, allocationUSD, balanceUSD float64) (float64, error) {
	if opp.EntryPrice <= 0 || opp.ExitPrice <= 0 {
		return 0, fmt.Errorf("non-positive price in opportunity %s", opp.Pair.Base)
	}
	byAllocation := allocationUSD / opp.EntryPrice
	byBuyDepth := buyBook.DepthUSD(venue.Sell, s.depthLevels) * s.depthDiscount / opp.EntryPrice
	bySellDepth := sellBook.DepthUSD(venue.Buy, s.depthLevels) * s.depthDiscount / opp.ExitPrice
	byBalance := balanceUSD * s.riskFraction / opp.EntryPrice

	raw := minOf(byAllocation, byBuyDepth, bySellDepth, byBalance)
	if raw <= 0 {
		return 0, fmt.Errorf("%s: %w", opp.Pair.Base, ErrBelowMinAmount)
	}

	inst := buyInstrument(opp)
	amount := quantizeDown(raw, inst.AmountStep)
	if amount <= 0 || amount < inst.MinAmount {
		return 0, fmt.Errorf("%s amount %.8f: %w", opp.Pair.Base, amount, ErrBelowMinAmount)
	}
	if notional := amount * opp.EntryPrice; notional < inst.MinNotional {
		return 0, fmt.Errorf("%s notional %.2f: %w", opp.Pair.Base, notional, ErrBelowMinNotional)
	}
	return amount, nil
}

func buyInstrument(opp Opportunity) venue.Instrument {
	if opp.BuySymbol == opp.Pair.SymbolA {
		return opp.Pair.InstrumentA
	}
	return opp.Pair.InstrumentB
}

// quantizeDown floors a quantity onto the venue's step grid. A zero step
// means the venue accepts arbitrary precision.
func quantizeDown(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	amountDec := decimal.NewFromFloat(amount)
	stepDec := decimal.NewFromFloat(step)
	steps := amountDec.Div(stepDec).Floor()
	quantized, _ := steps.Mul(stepDec).Float64()
	return quantized
}

func minOf(first float64, rest ...float64) float64 {
	min := first
	for _, v := range rest {
		if v < min {
			min = v
		}
	}
	return min
}
