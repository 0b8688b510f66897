package strategy

import (
	"time"

	"cross-arb-bot/internal/pairs"
)

// Opportunity is one actionable spread: buy the entry leg, sell the exit
// leg, with the dynamic threshold already cleared at detection time.
type Opportunity struct {
	Pair       pairs.Pair
	BuyVenue   string
	SellVenue  string
	BuySymbol  string
	SellSymbol string
	EntryPrice float64
	ExitPrice  float64
	BuyFee     float64
	SellFee    float64
	RawSpread  float64
	Threshold  float64
	NetEdge    float64
	Detected   time.Time
}

// FundingSource supplies the cached funding rate for one venue symbol.
type FundingSource interface {
	Rate(venueName, symbol string) float64
}
