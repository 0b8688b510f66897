package venue

import "context"

// Adapter is the full capability set the engine needs from one venue.
// Implementations own authentication and transport-level retry; every call
// is fallible and must respect the context deadline.
type Adapter interface {
	Name() string
	Instruments(ctx context.Context) ([]Instrument, error)
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	OrderStatus(ctx context.Context, orderID, symbol string) (Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	Balance(ctx context.Context, currency string) (Balance, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
}
