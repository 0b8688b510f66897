package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cross-arb-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Attempt is one finished execution attempt, terminal state included.
type Attempt struct {
	Time       time.Time
	AttemptID  string
	Base       string
	BuyVenue   string
	SellVenue  string
	State      string
	Amount     float64
	EntryPrice float64
	ExitPrice  float64
	RawSpread  float64
	Threshold  float64
	NetEdge    float64
	ProfitUSD  float64
}

// Opportunity is one ranked spread observation from a scan cycle.
type Opportunity struct {
	Time       time.Time
	Base       string
	BuyVenue   string
	SellVenue  string
	EntryPrice float64
	ExitPrice  float64
	RawSpread  float64
	NetEdge    float64
}

// Writer records attempts and opportunities to Timescale/Postgres off the
// hot path. Enqueue never blocks; a full queue drops and counts.
type Writer struct {
	db            *sql.DB
	log           *zap.Logger
	schema        string
	attempts      chan Attempt
	opportunities chan Opportunity
	started       atomic.Bool
	dropAttempt   atomic.Uint64
	dropOpp       atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:            db,
		log:           log,
		schema:        schema,
		attempts:      make(chan Attempt, queueSize),
		opportunities: make(chan Opportunity, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueAttempt(attempt Attempt) {
	if w == nil {
		return
	}
	select {
	case w.attempts <- attempt:
		return
	default:
		if w.dropAttempt.Add(1) == 1 && w.log != nil {
			w.log.Warn("history attempt queue full")
		}
	}
}

func (w *Writer) EnqueueOpportunity(opp Opportunity) {
	if w == nil {
		return
	}
	select {
	case w.opportunities <- opp:
		return
	default:
		if w.dropOpp.Add(1) == 1 && w.log != nil {
			w.log.Warn("history opportunity queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case attempt := <-w.attempts:
			w.writeAttempt(ctx, attempt)
		case opp := <-w.opportunities:
			w.writeOpportunity(ctx, opp)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		attempt_id TEXT NOT NULL,
		base TEXT NOT NULL,
		buy_venue TEXT NOT NULL,
		sell_venue TEXT NOT NULL,
		state TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		raw_spread DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		net_edge DOUBLE PRECISION NOT NULL,
		profit_usd DOUBLE PRECISION NOT NULL
	)`, w.table("arb_attempts"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		base TEXT NOT NULL,
		buy_venue TEXT NOT NULL,
		sell_venue TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		raw_spread DOUBLE PRECISION NOT NULL,
		net_edge DOUBLE PRECISION NOT NULL
	)`, w.table("arb_opportunities"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"arb_attempts", "arb_opportunities"} {
		query := fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))
		if err := w.exec(ctx, query); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeAttempt(ctx context.Context, attempt Attempt) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, attempt_id, base, buy_venue, sell_venue, state, amount,
		entry_price, exit_price, raw_spread, threshold, net_edge, profit_usd
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("arb_attempts"))
	if _, err := w.db.ExecContext(ctx, query,
		attempt.Time,
		attempt.AttemptID,
		attempt.Base,
		attempt.BuyVenue,
		attempt.SellVenue,
		attempt.State,
		attempt.Amount,
		attempt.EntryPrice,
		attempt.ExitPrice,
		attempt.RawSpread,
		attempt.Threshold,
		attempt.NetEdge,
		attempt.ProfitUSD,
	); err != nil && w.log != nil {
		w.log.Warn("history attempt insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOpportunity(ctx context.Context, opp Opportunity) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, base, buy_venue, sell_venue, entry_price, exit_price, raw_spread, net_edge
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)`, w.table("arb_opportunities"))
	if _, err := w.db.ExecContext(ctx, query,
		opp.Time,
		opp.Base,
		opp.BuyVenue,
		opp.SellVenue,
		opp.EntryPrice,
		opp.ExitPrice,
		opp.RawSpread,
		opp.NetEdge,
	); err != nil && w.log != nil {
		w.log.Warn("history opportunity insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
