package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cross-arb-bot/internal/state"
	"cross-arb-bot/internal/strategy"
	"cross-arb-bot/internal/venue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const callTimeout = 10 * time.Second

// Repricer re-validates an opportunity against fresh books just before
// orders go out. ok=false means the edge has drifted away.
type Repricer interface {
	Reprice(ctx context.Context, opp strategy.Opportunity) (strategy.Opportunity, bool, error)
}

// Notifier delivers operator alerts. Implementations must not block long.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

type Counter interface {
	Inc()
}

// Result is the full outcome of one attempt, terminal state included.
type Result struct {
	AttemptID   string
	State       State
	Opportunity strategy.Opportunity
	Amount      float64
	BuyOrder    venue.Order
	SellOrder   venue.Order
	ProfitUSD   float64
	Err         error
	Started     time.Time
	Finished    time.Time
}

func (r Result) Settled() bool { return r.State == StateSettled }

// Executor runs the dual-leg lifecycle: reprice, place both legs
// concurrently, settle or compensate. Once any leg may be live the attempt
// detaches from the caller's context so shutdown cannot strand an order.
type Executor struct {
	venues       map[string]venue.Adapter
	reprice      Repricer
	store        state.Store
	notify       Notifier
	compFailures Counter
	log          *zap.Logger

	orderWait    time.Duration
	pollInterval time.Duration
	compWindow   time.Duration

	mu    sync.Mutex
	cache map[string]string
}

func New(venues []venue.Adapter, reprice Repricer, store state.Store, notify Notifier, compFailures Counter, orderWait, pollInterval, compWindow time.Duration, log *zap.Logger) *Executor {
	byName := make(map[string]venue.Adapter, len(venues))
	for _, v := range venues {
		byName[v.Name()] = v
	}
	return &Executor{
		venues:       byName,
		reprice:      reprice,
		store:        store,
		notify:       notify,
		compFailures: compFailures,
		log:          log,
		orderWait:    orderWait,
		pollInterval: pollInterval,
		compWindow:   compWindow,
		cache:        make(map[string]string),
	}
}

type legResult struct {
	placed bool
	order  venue.Order
	err    error
}

func (l legResult) fullyFilled() bool {
	return l.placed && l.order.Status == venue.StatusFilled
}

func (e *Executor) Execute(ctx context.Context, opp strategy.Opportunity, amount float64) (res Result) {
	sm := NewStateMachine()
	res = Result{
		AttemptID:   uuid.NewString(),
		Opportunity: opp,
		Amount:      amount,
		Started:     time.Now().UTC(),
	}
	defer func() { res.Finished = time.Now().UTC() }()

	sm.Apply(EventPrice)
	repriced, ok, err := e.reprice.Reprice(ctx, opp)
	if err != nil {
		res.State = sm.Apply(EventAbort)
		res.Err = fmt.Errorf("reprice: %w", err)
		return res
	}
	if !ok {
		res.State = sm.Apply(EventAbort)
		e.log.Debug("edge drifted away before placement",
			zap.String("attempt", res.AttemptID),
			zap.String("base", opp.Pair.Base))
		return res
	}
	opp = repriced
	res.Opportunity = opp

	// A leg may go live from here on. Detach from the caller's cancel so a
	// global shutdown cannot strand a half-open position.
	ctx = context.WithoutCancel(ctx)

	buyReq := venue.OrderRequest{
		Symbol:        opp.BuySymbol,
		Side:          venue.Buy,
		Type:          venue.Limit,
		Amount:        amount,
		Price:         opp.EntryPrice,
		ClientOrderID: res.AttemptID + ":buy",
	}
	sellReq := venue.OrderRequest{
		Symbol:        opp.SellSymbol,
		Side:          venue.Sell,
		Type:          venue.Limit,
		Amount:        amount,
		Price:         opp.ExitPrice,
		ClientOrderID: res.AttemptID + ":sell",
	}

	var buyLeg, sellLeg legResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyLeg = e.runLeg(ctx, opp.BuyVenue, buyReq)
	}()
	go func() {
		defer wg.Done()
		sellLeg = e.runLeg(ctx, opp.SellVenue, sellReq)
	}()
	wg.Wait()
	res.BuyOrder = buyLeg.order
	res.SellOrder = sellLeg.order

	if !buyLeg.placed && !sellLeg.placed {
		res.State = sm.Apply(EventAbort)
		res.Err = errors.Join(buyLeg.err, sellLeg.err)
		return res
	}
	sm.Apply(EventLegsPlaced)

	if buyLeg.fullyFilled() && sellLeg.fullyFilled() {
		res.State = sm.Apply(EventSettle)
		res.ProfitUSD = settledProfit(opp, buyLeg.order, sellLeg.order, amount)
		return res
	}

	sm.Apply(EventCompensate)
	compErr := e.compensate(ctx, res.AttemptID, opp, &buyLeg, &sellLeg)
	res.BuyOrder = buyLeg.order
	res.SellOrder = sellLeg.order
	res.State = sm.Apply(EventFail)
	res.Err = errors.Join(buyLeg.err, sellLeg.err, compErr)
	if compErr != nil {
		e.compFailures.Inc()
		e.log.Error("compensation failed, manual intervention required",
			zap.String("attempt", res.AttemptID),
			zap.String("base", opp.Pair.Base),
			zap.Error(compErr))
		if e.notify != nil {
			msg := fmt.Sprintf("CRITICAL: compensation failed for %s (%s/%s): %v",
				opp.Pair.Base, opp.BuyVenue, opp.SellVenue, compErr)
			if err := e.notify.Send(ctx, msg); err != nil {
				e.log.Warn("alert delivery failed", zap.Error(err))
			}
		}
	}
	return res
}

// runLeg places one order and polls it to a terminal status or the order
// wait deadline. A leg that times out stays live for compensation.
func (e *Executor) runLeg(ctx context.Context, venueName string, req venue.OrderRequest) legResult {
	adapter, ok := e.venues[venueName]
	if !ok {
		return legResult{err: fmt.Errorf("no adapter for venue %q", venueName)}
	}
	order, err := e.placeIdempotent(ctx, adapter, req)
	if err != nil {
		return legResult{err: fmt.Errorf("place %s %s: %w", venueName, req.Symbol, err)}
	}
	leg := legResult{placed: true, order: order}

	deadline := time.Now().Add(e.orderWait)
	for !leg.order.Status.Terminal() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return leg
		case <-time.After(e.pollInterval):
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		latest, err := adapter.OrderStatus(callCtx, leg.order.ID, req.Symbol)
		cancel()
		if err != nil {
			e.log.Warn("order status poll failed",
				zap.String("venue", venueName),
				zap.String("order", leg.order.ID),
				zap.Error(err))
			continue
		}
		leg.order = latest
	}
	return leg
}

// placeIdempotent routes placement through the kv store so a crash between
// request and response cannot double-place under the same client order id.
func (e *Executor) placeIdempotent(ctx context.Context, adapter venue.Adapter, req venue.OrderRequest) (venue.Order, error) {
	cacheKey := "cloid:" + req.ClientOrderID
	e.mu.Lock()
	knownID, cached := e.cache[cacheKey]
	e.mu.Unlock()
	if !cached && e.store != nil {
		if id, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return venue.Order{}, err
		} else if ok {
			knownID, cached = id, true
		}
	}
	if cached {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return adapter.OrderStatus(callCtx, knownID, req.Symbol)
	}

	var order venue.Order
	err := e.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		var err error
		order, err = adapter.PlaceOrder(callCtx, req)
		return err
	})
	if err != nil {
		return venue.Order{}, err
	}
	if order.ID == "" {
		return venue.Order{}, errors.New("empty order id")
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, order.ID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = order.ID
	e.mu.Unlock()
	return order, nil
}

// compensate flattens whatever the failed attempt left behind: cancel the
// resting remainder of each live leg, then market-close any filled amount.
// At least one attempt is always made per live leg.
func (e *Executor) compensate(ctx context.Context, attemptID string, opp strategy.Opportunity, buy, sell *legResult) error {
	compCtx, cancel := context.WithTimeout(ctx, e.compWindow)
	defer cancel()

	var errs []error
	if err := e.unwindLeg(compCtx, attemptID+":comp-buy", opp.BuyVenue, opp.BuySymbol, buy); err != nil {
		errs = append(errs, fmt.Errorf("unwind buy leg: %w", err))
	}
	if err := e.unwindLeg(compCtx, attemptID+":comp-sell", opp.SellVenue, opp.SellSymbol, sell); err != nil {
		errs = append(errs, fmt.Errorf("unwind sell leg: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Executor) unwindLeg(ctx context.Context, compID, venueName, symbol string, leg *legResult) error {
	if !leg.placed {
		return nil
	}
	adapter, ok := e.venues[venueName]
	if !ok {
		return fmt.Errorf("no adapter for venue %q", venueName)
	}

	if !leg.order.Status.Terminal() {
		err := e.retry(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			return adapter.CancelOrder(callCtx, leg.order.ID, symbol)
		})
		if err != nil {
			return fmt.Errorf("cancel %s: %w", leg.order.ID, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		latest, statusErr := adapter.OrderStatus(callCtx, leg.order.ID, symbol)
		cancel()
		if statusErr == nil {
			leg.order = latest
		}
	}

	if leg.order.FilledAmount <= 0 {
		return nil
	}
	closeReq := venue.OrderRequest{
		Symbol:        symbol,
		Side:          leg.order.Side.Opposite(),
		Type:          venue.Market,
		Amount:        leg.order.FilledAmount,
		ClientOrderID: compID,
	}
	_, err := e.placeIdempotent(ctx, adapter, closeReq)
	if err != nil {
		return fmt.Errorf("close %.8f %s: %w", leg.order.FilledAmount, symbol, err)
	}
	e.log.Warn("compensated filled leg",
		zap.String("venue", venueName),
		zap.String("symbol", symbol),
		zap.Float64("amount", leg.order.FilledAmount))
	return nil
}

func settledProfit(opp strategy.Opportunity, buyOrder, sellOrder venue.Order, amount float64) float64 {
	entry := buyOrder.AvgFillPrice
	if entry <= 0 {
		entry = opp.EntryPrice
	}
	exit := sellOrder.AvgFillPrice
	if exit <= 0 {
		exit = opp.ExitPrice
	}
	return (exit-entry)*amount - entry*amount*opp.BuyFee - exit*amount*opp.SellFee
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		if err := fn(); err != nil {
			if attempt == 4 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
