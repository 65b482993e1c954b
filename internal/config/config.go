// Package config defines the top-level configuration for the spike bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPIKEBOT_* environment variables. The
// struct is read once at startup and treated as immutable afterwards.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Markets    MarketsConfig    `toml:"markets"`
	Feed       FeedConfig       `toml:"feed"`
	Detector   DetectorConfig   `toml:"detector"`
	Risk       RiskConfig       `toml:"risk"`
	Engine     EngineConfig     `toml:"engine"`
	Sim        SimConfig        `toml:"sim"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials for live trading. The key
// may be given raw via PrivateKey, or as an encrypted key file produced by
// the crypto package together with its password.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ProxyWallet      string `toml:"proxy_wallet"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// MarketsConfig selects which markets the bot watches. Slugs are resolved to
// paired outcome tokens through the Gamma API at startup; AssetPairs may list
// explicit "yesTokenID:noTokenID" pairs instead.
type MarketsConfig struct {
	Slugs      []string `toml:"slugs"`
	AssetPairs []string `toml:"asset_pairs"`
	FetchLimit int      `toml:"fetch_limit"`
}

// FeedConfig holds price-feed aggregator parameters.
type FeedConfig struct {
	FetchInterval        duration `toml:"fetch_interval"`         // minimum inter-cycle interval
	MaxConcurrentFetches int      `toml:"max_concurrent_fetches"` // simultaneous order-book fetches
	HistorySize          int      `toml:"history_size"`           // rolling buffer capacity per asset
	BookCacheTTL         duration `toml:"book_cache_ttl"`
	BookCacheEnabled     bool     `toml:"book_cache_enabled"`
	FreshnessBound       duration `toml:"freshness_bound"` // samples older than this disqualify detection
	WsEnabled            bool     `toml:"ws_enabled"`      // keep the book cache warm via the CLOB market channel
}

// DetectorMode selects how the spike delta is computed.
type DetectorMode string

const (
	// DetectorModeTwoPoint compares the two most recent samples.
	DetectorModeTwoPoint DetectorMode = "two_point"
	// DetectorModeWindowCount compares the first and last of the most recent
	// WindowSamples samples.
	DetectorModeWindowCount DetectorMode = "window_count"
	// DetectorModeWindowTime compares the oldest sample within WindowSpan
	// against the newest.
	DetectorModeWindowTime DetectorMode = "window_time"
)

// DetectorConfig holds spike-detection parameters. The three modes are
// mutually exclusive; setting window parameters for the wrong mode is a
// validation error.
type DetectorConfig struct {
	Mode             DetectorMode `toml:"mode"`
	WindowSamples    int          `toml:"window_samples"` // window_count mode only
	WindowSpan       duration     `toml:"window_span"`    // window_time mode only
	SpikeThreshold   float64      `toml:"spike_threshold"`
	SpikeThresholdUp float64      `toml:"spike_threshold_up"`   // 0 falls back to SpikeThreshold
	SpikeThresholdDn float64      `toml:"spike_threshold_down"` // 0 falls back to SpikeThreshold
	SigmaMultiplier  float64      `toml:"sigma_multiplier"`     // k in max(static, k*sigma, spread+buffer)
	SpreadBuffer     float64      `toml:"spread_buffer"`
	MinTriggerGap    duration     `toml:"min_trigger_interval"` // per-asset re-trigger cooldown
	MaxConcurrent    int          `toml:"max_concurrent_checks"`
}

// UpThreshold returns the static threshold for upward moves.
func (d DetectorConfig) UpThreshold() float64 {
	if d.SpikeThresholdUp > 0 {
		return d.SpikeThresholdUp
	}
	return d.SpikeThreshold
}

// DownThreshold returns the static threshold for downward moves.
func (d DetectorConfig) DownThreshold() float64 {
	if d.SpikeThresholdDn > 0 {
		return d.SpikeThresholdDn
	}
	return d.SpikeThreshold
}

// RiskConfig holds entry-gate and exit parameters.
type RiskConfig struct {
	TradeUnit           float64  `toml:"trade_unit"` // target buy notional in USD
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	MinLiquidity        float64  `toml:"min_liquidity_requirement"` // min executable USD depth
	SlippageTolerance   float64  `toml:"slippage_tolerance"`        // max fractional slippage vs best price
	MaxBookLevels       int      `toml:"max_book_levels"`           // depth aggregation bound
	PriceLowerBound     float64  `toml:"price_lower_bound"`
	PriceUpperBound     float64  `toml:"price_upper_bound"`
	TakeProfitPct       float64  `toml:"pct_profit"`
	StopLossPct         float64  `toml:"pct_loss"` // positive fraction, e.g. 0.05 for -5%
	CashProfit          float64  `toml:"cash_profit"`
	CashLoss            float64  `toml:"cash_loss"` // positive USD amount
	HoldingTimeLimit    duration `toml:"holding_time_limit"`
	KeepMinShares       float64  `toml:"keep_min_shares"`    // liquidation floor
	ReentryCooldown     duration `toml:"sold_position_time"` // wait after close before re-entry
	RetryCooldown       duration `toml:"retry_cooldown"`     // wait after an order rejection
}

// EngineConfig holds orchestrator loop parameters.
type EngineConfig struct {
	DetectInterval     duration `toml:"detect_interval"`
	ExitCheckInterval  duration `toml:"exit_check_interval"`
	MaxConcurrentExits int      `toml:"max_concurrent_exits"`
	SnapshotInterval   duration `toml:"snapshot_interval"` // throttle for observable state emission
}

// SimConfig seeds the in-memory ledger used in sim mode.
type SimConfig struct {
	StartBalance float64 `toml:"start_balance"`
}

// PostgresConfig holds PostgreSQL connection parameters for the position store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the observer mirror.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for closed-position archival.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// ServerConfig holds HTTP status server parameters. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:   137,
		},
		Markets: MarketsConfig{
			FetchLimit: 50,
		},
		Feed: FeedConfig{
			FetchInterval:        duration{1 * time.Second},
			MaxConcurrentFetches: 8,
			HistorySize:          30,
			BookCacheTTL:         duration{1 * time.Second},
			BookCacheEnabled:     true,
			FreshnessBound:       duration{5 * time.Second},
			WsEnabled:            false,
		},
		Detector: DetectorConfig{
			Mode:            DetectorModeTwoPoint,
			SpikeThreshold:  0.02,
			SigmaMultiplier: 2.0,
			SpreadBuffer:    0.005,
			MinTriggerGap:   duration{30 * time.Second},
			MaxConcurrent:   4,
		},
		Risk: RiskConfig{
			TradeUnit:           10.0,
			MaxConcurrentTrades: 3,
			MinLiquidity:        5.0,
			SlippageTolerance:   0.02,
			MaxBookLevels:       10,
			PriceLowerBound:     0.20,
			PriceUpperBound:     0.80,
			TakeProfitPct:       0.03,
			StopLossPct:         0.05,
			CashProfit:          1.0,
			CashLoss:            2.0,
			HoldingTimeLimit:    duration{10 * time.Minute},
			KeepMinShares:       0,
			ReentryCooldown:     duration{60 * time.Second},
			RetryCooldown:       duration{30 * time.Second},
		},
		Engine: EngineConfig{
			DetectInterval:     duration{500 * time.Millisecond},
			ExitCheckInterval:  duration{1 * time.Second},
			MaxConcurrentExits: 3,
			SnapshotInterval:   duration{5 * time.Second},
		},
		Sim: SimConfig{
			StartBalance: 10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spikebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spikebot-data",
			ForcePathStyle: true,
			RetentionDays:  90,
			SweepInterval:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "error"},
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"sim":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. A non-nil error is fatal: no trading
// loop may start on an invalid configuration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, sim, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only required when orders will reach the live venue.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: private_key or encrypted_key_path is required for trade mode")
		}
		if c.Wallet.ProxyWallet == "" {
			errs = append(errs, "wallet: proxy_wallet is required for trade mode")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if len(c.Markets.Slugs) == 0 && len(c.Markets.AssetPairs) == 0 && c.Markets.FetchLimit <= 0 {
		errs = append(errs, "markets: set slugs, asset_pairs, or fetch_limit")
	}
	for _, pair := range c.Markets.AssetPairs {
		if strings.Count(pair, ":") != 1 {
			errs = append(errs, fmt.Sprintf("markets: asset pair %q must be \"tokenA:tokenB\"", pair))
		}
	}

	// Feed
	if c.Feed.FetchInterval.Duration <= 0 {
		errs = append(errs, "feed: fetch_interval must be > 0")
	}
	if c.Feed.MaxConcurrentFetches < 1 {
		errs = append(errs, "feed: max_concurrent_fetches must be >= 1")
	}
	if c.Feed.HistorySize < 2 {
		errs = append(errs, "feed: history_size must be >= 2 (two-point detection needs two samples)")
	}
	if c.Feed.BookCacheEnabled && c.Feed.BookCacheTTL.Duration <= 0 {
		errs = append(errs, "feed: book_cache_ttl must be > 0 when the cache is enabled")
	}
	if c.Feed.FreshnessBound.Duration <= 0 {
		errs = append(errs, "feed: freshness_bound must be > 0")
	}

	// Detector: window parameters must match the selected mode.
	switch c.Detector.Mode {
	case DetectorModeTwoPoint:
		if c.Detector.WindowSamples != 0 || c.Detector.WindowSpan.Duration != 0 {
			errs = append(errs, "detector: window_samples/window_span must not be set in two_point mode")
		}
	case DetectorModeWindowCount:
		if c.Detector.WindowSamples < 2 {
			errs = append(errs, "detector: window_samples must be >= 2 in window_count mode")
		}
		if c.Detector.WindowSpan.Duration != 0 {
			errs = append(errs, "detector: window_span must not be set in window_count mode")
		}
		if c.Detector.WindowSamples > c.Feed.HistorySize {
			errs = append(errs, "detector: window_samples must not exceed feed.history_size")
		}
	case DetectorModeWindowTime:
		if c.Detector.WindowSpan.Duration <= 0 {
			errs = append(errs, "detector: window_span must be > 0 in window_time mode")
		}
		if c.Detector.WindowSamples != 0 {
			errs = append(errs, "detector: window_samples must not be set in window_time mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("detector: unknown mode %q (valid: two_point, window_count, window_time)", c.Detector.Mode))
	}
	if c.Detector.SpikeThreshold <= 0 && c.Detector.SpikeThresholdUp <= 0 {
		errs = append(errs, "detector: spike_threshold must be > 0")
	}
	if c.Detector.SigmaMultiplier < 0 {
		errs = append(errs, "detector: sigma_multiplier must be >= 0")
	}
	if c.Detector.SpreadBuffer < 0 {
		errs = append(errs, "detector: spread_buffer must be >= 0")
	}
	if c.Detector.MinTriggerGap.Duration <= 0 {
		errs = append(errs, "detector: min_trigger_interval must be > 0")
	}
	if c.Detector.MaxConcurrent < 1 {
		errs = append(errs, "detector: max_concurrent_checks must be >= 1")
	}

	// Risk
	if c.Risk.TradeUnit <= 0 {
		errs = append(errs, "risk: trade_unit must be > 0")
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		errs = append(errs, "risk: max_concurrent_trades must be >= 1")
	}
	if c.Risk.SlippageTolerance < 0 {
		errs = append(errs, "risk: slippage_tolerance must be >= 0")
	}
	if c.Risk.MaxBookLevels < 1 {
		errs = append(errs, "risk: max_book_levels must be >= 1")
	}
	if c.Risk.PriceLowerBound < 0 || c.Risk.PriceUpperBound > 1 || c.Risk.PriceLowerBound >= c.Risk.PriceUpperBound {
		errs = append(errs, fmt.Sprintf("risk: price band [%.4f, %.4f] must satisfy 0 <= lower < upper <= 1",
			c.Risk.PriceLowerBound, c.Risk.PriceUpperBound))
	}
	if c.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk: pct_profit must be > 0")
	}
	if c.Risk.StopLossPct <= 0 {
		errs = append(errs, "risk: pct_loss must be > 0 (expressed as a positive fraction)")
	}
	if c.Risk.HoldingTimeLimit.Duration <= 0 {
		errs = append(errs, "risk: holding_time_limit must be > 0")
	}
	if c.Risk.KeepMinShares < 0 {
		errs = append(errs, "risk: keep_min_shares must be >= 0")
	}
	if c.Risk.RetryCooldown.Duration <= 0 {
		errs = append(errs, "risk: retry_cooldown must be > 0")
	}

	// Engine
	if c.Engine.DetectInterval.Duration <= 0 {
		errs = append(errs, "engine: detect_interval must be > 0")
	}
	if c.Engine.ExitCheckInterval.Duration <= 0 {
		errs = append(errs, "engine: exit_check_interval must be > 0")
	}
	if c.Engine.MaxConcurrentExits < 1 {
		errs = append(errs, "engine: max_concurrent_exits must be >= 1")
	}
	if c.Engine.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "engine: snapshot_interval must be > 0")
	}

	if strings.ToLower(c.Mode) == "sim" && c.Sim.StartBalance <= 0 {
		errs = append(errs, "sim: start_balance must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if c.S3.SweepInterval.Duration <= 0 {
			errs = append(errs, "s3: sweep_interval must be > 0")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
