package ledger

import (
	"context"
	"sync"
	"time"

	"cross-arb-bot/internal/state"

	"go.uber.org/zap"
)

// Ledger is the single accounting authority: realized profit, equity
// anchors for the risk checks, and the compounded allocation. A winning
// settlement grows the allocation by the compound percent up to the cap;
// a losing settlement or a failed attempt resets it to base.
type Ledger struct {
	baseAllocation  float64
	maxAllocation   float64
	compoundPercent float64
	compoundEnabled bool
	store           state.Store
	log             *zap.Logger
	now             func() time.Time

	mu            sync.Mutex
	allocation    float64
	equity        float64
	initialEquity float64
	peakEquity    float64
	dayStart      float64
	dailyPnL      float64
	totalPnL      float64
	tradeCount    int
	winCount      int
}

func New(baseAllocation, maxAllocation, compoundPercent float64, compoundEnabled bool, store state.Store, log *zap.Logger) *Ledger {
	return &Ledger{
		baseAllocation:  baseAllocation,
		maxAllocation:   maxAllocation,
		compoundPercent: compoundPercent,
		compoundEnabled: compoundEnabled,
		store:           store,
		log:             log,
		now:             time.Now,
		allocation:      baseAllocation,
	}
}

// Restore loads the persisted snapshot so allocation and daily totals
// survive a restart. A snapshot from a previous UTC day keeps the
// allocation but drops the daily counters.
func (l *Ledger) Restore(ctx context.Context) error {
	snapshot, ok, err := state.LoadLedgerSnapshot(ctx, l.store)
	if err != nil || !ok {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if snapshot.AllocationUSD > 0 {
		l.allocation = snapshot.AllocationUSD
	}
	l.peakEquity = snapshot.PeakEquityUSD
	l.totalPnL = snapshot.TotalPnLUSD
	l.tradeCount = snapshot.TradeCount
	l.winCount = snapshot.WinCount
	sameDay := time.UnixMilli(snapshot.DayAnchorMS).UTC().Truncate(24 * time.Hour).
		Equal(l.now().UTC().Truncate(24 * time.Hour))
	if sameDay {
		l.dayStart = snapshot.DayStartUSD
		l.dailyPnL = snapshot.DailyPnLUSD
	}
	l.log.Info("ledger restored",
		zap.Float64("allocation_usd", l.allocation),
		zap.Float64("total_pnl_usd", l.totalPnL),
		zap.Bool("same_day", sameDay))
	return nil
}

// SetEquity feeds the latest combined balance reading. First reading
// anchors initial equity, the daily start, and the high-water mark.
func (l *Ledger) SetEquity(ctx context.Context, usd float64) {
	l.mu.Lock()
	l.equity = usd
	if l.initialEquity == 0 {
		l.initialEquity = usd
	}
	if l.dayStart == 0 {
		l.dayStart = usd
	}
	if usd > l.peakEquity {
		l.peakEquity = usd
	}
	l.mu.Unlock()
	l.persist(ctx)
}

// Settle records one settled attempt and adjusts the allocation.
func (l *Ledger) Settle(ctx context.Context, profitUSD float64) {
	l.mu.Lock()
	l.tradeCount++
	l.dailyPnL += profitUSD
	l.totalPnL += profitUSD
	if profitUSD > 0 {
		l.winCount++
		if l.compoundEnabled {
			next := l.allocation * (1 + l.compoundPercent)
			if next > l.maxAllocation {
				next = l.maxAllocation
			}
			l.allocation = next
		}
	} else {
		l.allocation = l.baseAllocation
	}
	allocation := l.allocation
	l.mu.Unlock()
	l.log.Info("attempt settled",
		zap.Float64("profit_usd", profitUSD),
		zap.Float64("allocation_usd", allocation))
	l.persist(ctx)
}

// Fail records a failed attempt; the allocation resets to base.
func (l *Ledger) Fail(ctx context.Context) {
	l.mu.Lock()
	l.tradeCount++
	l.allocation = l.baseAllocation
	l.mu.Unlock()
	l.persist(ctx)
}

// Abort resets the allocation without counting a trade; the attempt never
// placed a surviving leg.
func (l *Ledger) Abort(ctx context.Context) {
	l.mu.Lock()
	l.allocation = l.baseAllocation
	l.mu.Unlock()
	l.persist(ctx)
}

func (l *Ledger) AllocationUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocation
}

func (l *Ledger) EquityUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

func (l *Ledger) InitialEquityUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialEquity
}

func (l *Ledger) PeakEquityUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peakEquity
}

func (l *Ledger) DailyPnLUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

func (l *Ledger) TotalPnLUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPnL
}

// Counts returns total and winning attempt counts.
func (l *Ledger) Counts() (trades, wins int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradeCount, l.winCount
}

// ResetDaily re-anchors the daily counters and the high-water mark at the
// UTC day rollover.
func (l *Ledger) ResetDaily(now time.Time) {
	l.mu.Lock()
	l.dayStart = l.equity
	l.dailyPnL = 0
	l.peakEquity = l.equity
	l.mu.Unlock()
	l.persist(context.Background())
}

func (l *Ledger) persist(ctx context.Context) {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	snapshot := state.LedgerSnapshot{
		AllocationUSD: l.allocation,
		PeakEquityUSD: l.peakEquity,
		DayStartUSD:   l.dayStart,
		DailyPnLUSD:   l.dailyPnL,
		TotalPnLUSD:   l.totalPnL,
		TradeCount:    l.tradeCount,
		WinCount:      l.winCount,
		DayAnchorMS:   l.now().UTC().UnixMilli(),
		UpdatedAtMS:   l.now().UTC().UnixMilli(),
	}
	l.mu.Unlock()
	if err := state.SaveLedgerSnapshot(ctx, l.store, snapshot); err != nil {
		l.log.Warn("ledger snapshot persist failed", zap.Error(err))
	}
}
