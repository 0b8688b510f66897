package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cross-arb-bot/internal/config"

	"go.uber.org/zap"
)

var (
	ErrPaused       = errors.New("trading paused")
	ErrMaxPositions = errors.New("open position cap reached")
	ErrDailyLoss    = errors.New("daily loss limit breached")
	ErrDrawdown     = errors.New("max drawdown breached")
	ErrExposure     = errors.New("position exposure limit breached")
	ErrLiquidity    = errors.New("insufficient book liquidity")
	ErrVolatility   = errors.New("volatility above ceiling")
)

// Accounts is the slice of the ledger the gate measures against.
type Accounts interface {
	EquityUSD() float64
	InitialEquityUSD() float64
	PeakEquityUSD() float64
	DailyPnLUSD() float64
	ResetDaily(now time.Time)
}

// EntryCheck carries everything admission needs about one candidate trade.
// OpenNotionalUSD is the notional already committed to the same instrument
// by attempts still in flight; the exposure cap applies to the sum.
type EntryCheck struct {
	OpenPositions   int
	NotionalUSD     float64
	OpenNotionalUSD float64
	BuyDepthUSD     float64
	SellDepthUSD    float64
	Volatility      float64
}

// Gate is the single admission point for new attempts and the monitor
// that pauses trading on breach. Hard breaches (daily loss, drawdown)
// additionally force-close open exposure through the injected callback.
type Gate struct {
	cfg        config.RiskConfig
	accounts   Accounts
	forceClose func(ctx context.Context, reason string)
	log        *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	paused      bool
	pauseReason string
	closed      bool
	day         time.Time
}

func NewGate(cfg config.RiskConfig, accounts Accounts, forceClose func(ctx context.Context, reason string), log *zap.Logger) *Gate {
	g := &Gate{
		cfg:        cfg,
		accounts:   accounts,
		forceClose: forceClose,
		log:        log,
		now:        time.Now,
	}
	g.day = dayOf(g.now())
	return g
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// CanEnter runs every admission check and returns the first failure as a
// wrapped sentinel so callers can report the precise reason.
func (g *Gate) CanEnter(check EntryCheck) error {
	g.mu.Lock()
	paused, reason := g.paused, g.pauseReason
	g.mu.Unlock()
	if paused {
		return fmt.Errorf("%s: %w", reason, ErrPaused)
	}
	if check.OpenPositions >= g.cfg.MaxOpenPositions {
		return fmt.Errorf("%d open: %w", check.OpenPositions, ErrMaxPositions)
	}
	if err := g.lossChecks(); err != nil {
		return err
	}
	equity := g.accounts.EquityUSD()
	if limit := g.cfg.PositionSizeLimit * equity; check.OpenNotionalUSD+check.NotionalUSD > limit {
		return fmt.Errorf("notional %.2f + open %.2f > %.2f: %w",
			check.NotionalUSD, check.OpenNotionalUSD, limit, ErrExposure)
	}
	if g.cfg.MinLiquidityUSD > 0 {
		if check.BuyDepthUSD < g.cfg.MinLiquidityUSD || check.SellDepthUSD < g.cfg.MinLiquidityUSD {
			return fmt.Errorf("depth %.2f/%.2f below %.2f: %w",
				check.BuyDepthUSD, check.SellDepthUSD, g.cfg.MinLiquidityUSD, ErrLiquidity)
		}
	}
	if g.cfg.MaxVolatility > 0 && check.Volatility > g.cfg.MaxVolatility {
		return fmt.Errorf("vol %.4f > %.4f: %w", check.Volatility, g.cfg.MaxVolatility, ErrVolatility)
	}
	return nil
}

func (g *Gate) lossChecks() error {
	initial := g.accounts.InitialEquityUSD()
	if initial > 0 {
		if loss := -g.accounts.DailyPnLUSD(); loss >= g.cfg.DailyLossLimit*initial {
			return fmt.Errorf("daily pnl %.2f: %w", g.accounts.DailyPnLUSD(), ErrDailyLoss)
		}
	}
	peak := g.accounts.PeakEquityUSD()
	if peak > 0 {
		if dd := (peak - g.accounts.EquityUSD()) / peak; dd >= g.cfg.MaxDrawdown {
			return fmt.Errorf("drawdown %.4f: %w", dd, ErrDrawdown)
		}
	}
	return nil
}

// Pause stops admissions until Resume. Operator pauses and breach pauses
// share the flag; the reason distinguishes them.
func (g *Gate) Pause(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.pauseReason = reason
	g.log.Warn("trading paused", zap.String("reason", reason))
}

func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	g.pauseReason = ""
	g.log.Info("trading resumed")
}

// Paused reports the flag and the triggering reason.
func (g *Gate) Paused() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused, g.pauseReason
}

// Run re-evaluates the loss limits each tick, pausing and force-closing on
// a hard breach, and resets daily counters at the UTC day rollover.
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gate) tick(ctx context.Context) {
	now := g.now()
	if today := dayOf(now); today.After(g.currentDay()) {
		g.rollover(today)
	}
	if err := g.lossChecks(); err != nil {
		g.breach(ctx, err)
	}
}

func (g *Gate) currentDay() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.day
}

func (g *Gate) rollover(today time.Time) {
	g.accounts.ResetDaily(today)
	g.mu.Lock()
	g.day = today
	resume := g.paused && g.pauseReason == ErrDailyLoss.Error()
	if resume {
		g.paused = false
		g.pauseReason = ""
	}
	g.closed = false
	g.mu.Unlock()
	g.log.Info("daily risk counters reset", zap.Time("day", today), zap.Bool("resumed", resume))
}

func (g *Gate) breach(ctx context.Context, err error) {
	reason := ErrDrawdown.Error()
	if errors.Is(err, ErrDailyLoss) {
		reason = ErrDailyLoss.Error()
	}
	g.mu.Lock()
	alreadyClosed := g.closed
	g.closed = true
	g.mu.Unlock()

	g.Pause(reason)
	g.log.Warn("risk breach", zap.String("metric", reason), zap.Error(err))
	if !alreadyClosed && g.forceClose != nil {
		g.forceClose(ctx, reason)
	}
}
