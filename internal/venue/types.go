package venue

import (
	"errors"
	"time"
)

var (
	// ErrBadSymbol marks a symbol the venue does not know. Permanent for
	// the instrument, expected at high frequency while universes drift.
	ErrBadSymbol = errors.New("unknown symbol")
	// ErrNoMarket marks an instrument with no live market (delisted,
	// suspended, or an empty book).
	ErrNoMarket = errors.New("no market")
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusFailed          OrderStatus = "failed"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusFailed
}

type Level struct {
	Price float64
	Size  float64
}

// OrderBook is a point-in-time snapshot: bids descending, asks ascending.
type OrderBook struct {
	Venue    string
	Symbol   string
	Bids     []Level
	Asks     []Level
	Captured time.Time
}

func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 || len(b.Asks) == 0
}

func (b OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// DepthUSD is the notional value of the top levels on one side.
func (b OrderBook) DepthUSD(side Side, levels int) float64 {
	src := b.Bids
	if side == Sell {
		src = b.Asks
	}
	if levels > len(src) {
		levels = len(src)
	}
	var total float64
	for _, lvl := range src[:levels] {
		total += lvl.Price * lvl.Size
	}
	return total
}

type Instrument struct {
	Symbol      string
	Base        string
	Quote       string
	Active      bool
	AmountStep  float64
	MinAmount   float64
	MinNotional float64
}

type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Amount        float64
	Price         float64
	ClientOrderID string
}

type Order struct {
	ID           string
	Venue        string
	Symbol       string
	Side         Side
	Type         OrderType
	Amount       float64
	Price        float64
	Status       OrderStatus
	FilledAmount float64
	AvgFillPrice float64
	Created      time.Time
}

type Balance struct {
	Free  float64
	Total float64
}
