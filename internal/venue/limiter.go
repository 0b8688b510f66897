package venue

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps an Adapter with a request-rate limiter and a bound on
// simultaneous in-flight calls. Venue rate limits are shared across all
// scan cycles, so the wrapper is the single choke point.
type Limited struct {
	inner    Adapter
	limiter  *rate.Limiter
	inflight chan struct{}
}

func NewLimited(inner Adapter, perSecond float64, burst, maxInflight int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &Limited{
		inner:    inner,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		inflight: make(chan struct{}, maxInflight),
	}
}

func (l *Limited) acquire(ctx context.Context) (func(), error) {
	select {
	case l.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		<-l.inflight
		return nil, err
	}
	return func() { <-l.inflight }, nil
}

func (l *Limited) Name() string { return l.inner.Name() }

func (l *Limited) Instruments(ctx context.Context) ([]Instrument, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.inner.Instruments(ctx)
}

func (l *Limited) OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return OrderBook{}, err
	}
	defer release()
	return l.inner.OrderBook(ctx, symbol, depth)
}

func (l *Limited) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return Order{}, err
	}
	defer release()
	return l.inner.PlaceOrder(ctx, req)
}

func (l *Limited) OrderStatus(ctx context.Context, orderID, symbol string) (Order, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return Order{}, err
	}
	defer release()
	return l.inner.OrderStatus(ctx, orderID, symbol)
}

func (l *Limited) CancelOrder(ctx context.Context, orderID, symbol string) error {
	release, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return l.inner.CancelOrder(ctx, orderID, symbol)
}

func (l *Limited) Balance(ctx context.Context, currency string) (Balance, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return Balance{}, err
	}
	defer release()
	return l.inner.Balance(ctx, currency)
}

func (l *Limited) FundingRate(ctx context.Context, symbol string) (float64, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return l.inner.FundingRate(ctx, symbol)
}
