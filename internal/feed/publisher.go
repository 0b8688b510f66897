package feed

import (
	"context"
	"fmt"
	"time"

	"cross-arb-bot/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// StatusSnapshot is the engine state published for external dashboards.
type StatusSnapshot struct {
	Running       bool    `msgpack:"running"`
	Paused        bool    `msgpack:"paused"`
	PauseReason   string  `msgpack:"pause_reason"`
	EquityUSD     float64 `msgpack:"equity_usd"`
	AllocationUSD float64 `msgpack:"allocation_usd"`
	DailyPnLUSD   float64 `msgpack:"daily_pnl_usd"`
	TotalPnLUSD   float64 `msgpack:"total_pnl_usd"`
	OpenPositions int     `msgpack:"open_positions"`
	Pairs         int     `msgpack:"pairs"`
	UpdatedAtMS   int64   `msgpack:"updated_at_ms"`
}

type OpportunitySnapshot struct {
	Base       string  `msgpack:"base"`
	BuyVenue   string  `msgpack:"buy_venue"`
	SellVenue  string  `msgpack:"sell_venue"`
	EntryPrice float64 `msgpack:"entry_price"`
	ExitPrice  float64 `msgpack:"exit_price"`
	RawSpread  float64 `msgpack:"raw_spread"`
	NetEdge    float64 `msgpack:"net_edge"`
	DetectedMS int64   `msgpack:"detected_ms"`
}

// Publisher mirrors engine status and the ranked opportunity list into
// Redis: last value under a TTL'd key for poll-style readers, plus a
// pub/sub channel for push-style ones. A nil Publisher is a no-op.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func New(cfg config.FeedConfig, log *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.SnapshotTTL,
		log:    log,
	}, nil
}

func (p *Publisher) PublishStatus(ctx context.Context, snapshot StatusSnapshot) {
	if p == nil {
		return
	}
	p.publish(ctx, p.prefix+":status", snapshot)
}

func (p *Publisher) PublishOpportunities(ctx context.Context, opps []OpportunitySnapshot) {
	if p == nil {
		return
	}
	p.publish(ctx, p.prefix+":opportunities", opps)
}

func (p *Publisher) publish(ctx context.Context, key string, value any) {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		p.log.Warn("feed encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, key, payload, p.ttl)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("feed publish failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
