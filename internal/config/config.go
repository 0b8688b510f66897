package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	VenueA   VenueConfig    `yaml:"venue_a"`
	VenueB   VenueConfig    `yaml:"venue_b"`
	State    StateConfig    `yaml:"state"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Funding  FundingConfig  `yaml:"funding"`
	History  HistoryConfig  `yaml:"history"`
	Feed     FeedConfig     `yaml:"feed"`
	Telegram TelegramConfig `yaml:"telegram"`
	Dash     DashConfig     `yaml:"dash"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type VenueConfig struct {
	Name           string        `yaml:"name"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	WSURL          string        `yaml:"ws_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	TakerFee       float64       `yaml:"taker_fee"`
	MinNotionalUSD float64       `yaml:"min_notional_usd"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	MaxInflight    int           `yaml:"max_inflight"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	QuoteCurrency        string        `yaml:"quote_currency"`
	BaseAllocationUSD    float64       `yaml:"base_allocation_usd"`
	MaxAllocationUSD     float64       `yaml:"max_allocation_usd"`
	CompoundEnabled      bool          `yaml:"compound_enabled"`
	CompoundPercent      float64       `yaml:"compound_percent"`
	MinProfitMargin      float64       `yaml:"min_profit_margin"`
	SlippageAllowance    float64       `yaml:"slippage_allowance"`
	DepthDiscount        float64       `yaml:"depth_discount"`
	PositionRiskFraction float64       `yaml:"position_risk_fraction"`
	BookDepth            int           `yaml:"book_depth"`
	BookFreshness        time.Duration `yaml:"book_freshness"`
	ScanInterval         time.Duration `yaml:"scan_interval"`
	MaxConcurrentChecks  int           `yaml:"max_concurrent_checks"`
	TopOpportunities     int           `yaml:"top_opportunities"`
	OrderWait            time.Duration `yaml:"order_wait"`
	OrderPollInterval    time.Duration `yaml:"order_poll_interval"`
	CompensationWindow   time.Duration `yaml:"compensation_window"`
	PairRefreshInterval  time.Duration `yaml:"pair_refresh_interval"`
	BalanceRefresh       time.Duration `yaml:"balance_refresh"`
}

type RiskConfig struct {
	DailyLossLimit    float64       `yaml:"daily_loss_limit"`
	MaxDrawdown       float64       `yaml:"max_drawdown"`
	PositionSizeLimit float64       `yaml:"position_size_limit"`
	MaxOpenPositions  int           `yaml:"max_open_positions"`
	MinLiquidityUSD   float64       `yaml:"min_liquidity_usd"`
	MaxVolatility     float64       `yaml:"max_volatility"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
}

type FundingConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type FeedConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	DB          int           `yaml:"db"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	KeyPrefix   string        `yaml:"key_prefix"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type DashConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	applyVenueDefaults(&cfg.VenueA)
	applyVenueDefaults(&cfg.VenueB)
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/cross-arb-bot.db"
	}
	s := &cfg.Strategy
	if s.QuoteCurrency == "" {
		s.QuoteCurrency = "USDT"
	}
	if s.BaseAllocationUSD == 0 {
		s.BaseAllocationUSD = 7
	}
	if s.MaxAllocationUSD == 0 {
		s.MaxAllocationUSD = 100
	}
	if s.CompoundPercent == 0 {
		s.CompoundPercent = 0.01
	}
	if s.MinProfitMargin == 0 {
		s.MinProfitMargin = 0.0001
	}
	if s.SlippageAllowance == 0 {
		s.SlippageAllowance = 0.001
	}
	if s.DepthDiscount == 0 {
		s.DepthDiscount = 0.8
	}
	if s.PositionRiskFraction == 0 {
		s.PositionRiskFraction = 0.9
	}
	if s.BookDepth == 0 {
		s.BookDepth = 20
	}
	if s.BookFreshness == 0 {
		s.BookFreshness = 3 * time.Second
	}
	if s.ScanInterval == 0 {
		s.ScanInterval = 500 * time.Millisecond
	}
	if s.MaxConcurrentChecks == 0 {
		s.MaxConcurrentChecks = 10
	}
	if s.TopOpportunities == 0 {
		s.TopOpportunities = 30
	}
	if s.OrderWait == 0 {
		s.OrderWait = 5 * time.Second
	}
	if s.OrderPollInterval == 0 {
		s.OrderPollInterval = 250 * time.Millisecond
	}
	if s.CompensationWindow == 0 {
		s.CompensationWindow = 30 * time.Second
	}
	if s.PairRefreshInterval == 0 {
		s.PairRefreshInterval = 6 * time.Hour
	}
	if s.BalanceRefresh == 0 {
		s.BalanceRefresh = 30 * time.Second
	}
	r := &cfg.Risk
	if r.DailyLossLimit == 0 {
		r.DailyLossLimit = 0.05
	}
	if r.MaxDrawdown == 0 {
		r.MaxDrawdown = 0.1
	}
	if r.PositionSizeLimit == 0 {
		r.PositionSizeLimit = 0.5
	}
	if r.MaxOpenPositions == 0 {
		r.MaxOpenPositions = 5
	}
	if r.MonitorInterval == 0 {
		r.MonitorInterval = 5 * time.Second
	}
	if cfg.Funding.RefreshInterval == 0 {
		cfg.Funding.RefreshInterval = 4 * time.Hour
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
	if cfg.Feed.KeyPrefix == "" {
		cfg.Feed.KeyPrefix = "arb"
	}
	if cfg.Feed.SnapshotTTL == 0 {
		cfg.Feed.SnapshotTTL = time.Minute
	}
	if cfg.Dash.Addr == "" {
		cfg.Dash.Addr = ":5000"
	}
}

func applyVenueDefaults(v *VenueConfig) {
	if v.Timeout == 0 {
		v.Timeout = 15 * time.Second
	}
	if v.ReconnectDelay == 0 {
		v.ReconnectDelay = 3 * time.Second
	}
	if v.PingInterval == 0 {
		v.PingInterval = 30 * time.Second
	}
	if v.RateLimit == 0 {
		v.RateLimit = 20
	}
	if v.RateBurst == 0 {
		v.RateBurst = 5
	}
	if v.MaxInflight == 0 {
		v.MaxInflight = 10
	}
}

func validate(cfg *Config) error {
	if err := validateVenue("venue_a", cfg.VenueA); err != nil {
		return err
	}
	if err := validateVenue("venue_b", cfg.VenueB); err != nil {
		return err
	}
	if strings.EqualFold(cfg.VenueA.Name, cfg.VenueB.Name) {
		return errors.New("venue_a.name and venue_b.name must differ")
	}
	s := cfg.Strategy
	if s.BaseAllocationUSD <= 0 {
		return errors.New("strategy.base_allocation_usd must be > 0")
	}
	if s.MaxAllocationUSD < s.BaseAllocationUSD {
		return errors.New("strategy.max_allocation_usd must be >= base_allocation_usd")
	}
	if s.CompoundPercent < 0 {
		return errors.New("strategy.compound_percent must be >= 0")
	}
	if s.DepthDiscount <= 0 || s.DepthDiscount > 1 {
		return errors.New("strategy.depth_discount must be in (0, 1]")
	}
	if s.PositionRiskFraction <= 0 || s.PositionRiskFraction > 1 {
		return errors.New("strategy.position_risk_fraction must be in (0, 1]")
	}
	r := cfg.Risk
	if r.DailyLossLimit <= 0 || r.DailyLossLimit >= 1 {
		return errors.New("risk.daily_loss_limit must be in (0, 1)")
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown >= 1 {
		return errors.New("risk.max_drawdown must be in (0, 1)")
	}
	if r.PositionSizeLimit <= 0 || r.PositionSizeLimit > 1 {
		return errors.New("risk.position_size_limit must be in (0, 1]")
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.DSN) == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	if cfg.Feed.Enabled && strings.TrimSpace(cfg.Feed.Addr) == "" {
		return errors.New("feed.addr is required when feed is enabled")
	}
	return nil
}

func validateVenue(section string, v VenueConfig) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%s.name is required", section)
	}
	if strings.TrimSpace(v.BaseURL) == "" {
		return fmt.Errorf("%s.base_url is required", section)
	}
	if v.TakerFee < 0 || v.TakerFee >= 0.01 {
		return fmt.Errorf("%s.taker_fee out of range", section)
	}
	return nil
}

// CredentialEnvNames derives the environment variable names holding a
// venue's API credentials, e.g. okx -> OKX_API_KEY / OKX_API_SECRET.
func CredentialEnvNames(venueName string) (keyVar, secretVar string) {
	base := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(venueName), "-", "_"))
	return base + "_API_KEY", base + "_API_SECRET"
}
