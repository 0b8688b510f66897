package state

import (
	"context"
	"encoding/json"
	"strings"
)

const LedgerSnapshotKey = "ledger:last_snapshot"

// LedgerSnapshot is the persisted slice of the accounting ledger that must
// survive a restart: the compounded allocation and the equity anchors the
// risk checks measure against.
type LedgerSnapshot struct {
	AllocationUSD   float64 `json:"allocation_usd"`
	PeakEquityUSD   float64 `json:"peak_equity_usd"`
	DayStartUSD     float64 `json:"day_start_usd"`
	DailyPnLUSD     float64 `json:"daily_pnl_usd"`
	TotalPnLUSD     float64 `json:"total_pnl_usd"`
	TradeCount      int     `json:"trade_count"`
	WinCount        int     `json:"win_count"`
	DayAnchorMS     int64   `json:"day_anchor_ms"`
	UpdatedAtMS     int64   `json:"updated_at_ms"`
}

func LoadLedgerSnapshot(ctx context.Context, store Store) (LedgerSnapshot, bool, error) {
	if store == nil {
		return LedgerSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, LedgerSnapshotKey)
	if err != nil {
		return LedgerSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return LedgerSnapshot{}, false, nil
	}
	var snapshot LedgerSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return LedgerSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveLedgerSnapshot(ctx context.Context, store Store, snapshot LedgerSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, LedgerSnapshotKey, string(payload))
}
