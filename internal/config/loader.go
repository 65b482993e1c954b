package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPIKEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPIKEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets and tuning at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SPIKEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PK") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "SPIKEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SPIKEBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.ProxyWallet, "SPIKEBOT_WALLET_PROXY_WALLET")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "SPIKEBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "SPIKEBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "SPIKEBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "SPIKEBOT_POLYMARKET_CHAIN_ID")

	// ── Markets ──
	setStringSlice(&cfg.Markets.Slugs, "SPIKEBOT_MARKETS_SLUGS")
	setStringSlice(&cfg.Markets.AssetPairs, "SPIKEBOT_MARKETS_ASSET_PAIRS")
	setInt(&cfg.Markets.FetchLimit, "SPIKEBOT_MARKETS_FETCH_LIMIT")

	// ── Feed ──
	setDuration(&cfg.Feed.FetchInterval, "SPIKEBOT_FEED_FETCH_INTERVAL")
	setInt(&cfg.Feed.MaxConcurrentFetches, "SPIKEBOT_FEED_MAX_CONCURRENT_FETCHES")
	setInt(&cfg.Feed.HistorySize, "SPIKEBOT_FEED_HISTORY_SIZE")
	setDuration(&cfg.Feed.BookCacheTTL, "SPIKEBOT_FEED_BOOK_CACHE_TTL")
	setBool(&cfg.Feed.BookCacheEnabled, "SPIKEBOT_FEED_BOOK_CACHE_ENABLED")
	setDuration(&cfg.Feed.FreshnessBound, "SPIKEBOT_FEED_FRESHNESS_BOUND")
	setBool(&cfg.Feed.WsEnabled, "SPIKEBOT_FEED_WS_ENABLED")

	// ── Detector ──
	if v := os.Getenv("SPIKEBOT_DETECTOR_MODE"); v != "" {
		cfg.Detector.Mode = DetectorMode(v)
	}
	setInt(&cfg.Detector.WindowSamples, "SPIKEBOT_DETECTOR_WINDOW_SAMPLES")
	setDuration(&cfg.Detector.WindowSpan, "SPIKEBOT_DETECTOR_WINDOW_SPAN")
	setFloat64(&cfg.Detector.SpikeThreshold, "SPIKEBOT_DETECTOR_SPIKE_THRESHOLD")
	setFloat64(&cfg.Detector.SpikeThresholdUp, "SPIKEBOT_DETECTOR_SPIKE_THRESHOLD_UP")
	setFloat64(&cfg.Detector.SpikeThresholdDn, "SPIKEBOT_DETECTOR_SPIKE_THRESHOLD_DOWN")
	setFloat64(&cfg.Detector.SigmaMultiplier, "SPIKEBOT_DETECTOR_SIGMA_MULTIPLIER")
	setFloat64(&cfg.Detector.SpreadBuffer, "SPIKEBOT_DETECTOR_SPREAD_BUFFER")
	setDuration(&cfg.Detector.MinTriggerGap, "SPIKEBOT_DETECTOR_MIN_TRIGGER_INTERVAL")
	setInt(&cfg.Detector.MaxConcurrent, "SPIKEBOT_DETECTOR_MAX_CONCURRENT_CHECKS")

	// ── Risk ──
	setFloat64(&cfg.Risk.TradeUnit, "SPIKEBOT_RISK_TRADE_UNIT")
	setInt(&cfg.Risk.MaxConcurrentTrades, "SPIKEBOT_RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.MinLiquidity, "SPIKEBOT_RISK_MIN_LIQUIDITY_REQUIREMENT")
	setFloat64(&cfg.Risk.SlippageTolerance, "SPIKEBOT_RISK_SLIPPAGE_TOLERANCE")
	setInt(&cfg.Risk.MaxBookLevels, "SPIKEBOT_RISK_MAX_BOOK_LEVELS")
	setFloat64(&cfg.Risk.PriceLowerBound, "SPIKEBOT_RISK_PRICE_LOWER_BOUND")
	setFloat64(&cfg.Risk.PriceUpperBound, "SPIKEBOT_RISK_PRICE_UPPER_BOUND")
	setFloat64(&cfg.Risk.TakeProfitPct, "SPIKEBOT_RISK_PCT_PROFIT")
	setFloat64(&cfg.Risk.StopLossPct, "SPIKEBOT_RISK_PCT_LOSS")
	setFloat64(&cfg.Risk.CashProfit, "SPIKEBOT_RISK_CASH_PROFIT")
	setFloat64(&cfg.Risk.CashLoss, "SPIKEBOT_RISK_CASH_LOSS")
	setDuration(&cfg.Risk.HoldingTimeLimit, "SPIKEBOT_RISK_HOLDING_TIME_LIMIT")
	setFloat64(&cfg.Risk.KeepMinShares, "SPIKEBOT_RISK_KEEP_MIN_SHARES")
	setDuration(&cfg.Risk.ReentryCooldown, "SPIKEBOT_RISK_SOLD_POSITION_TIME")
	setDuration(&cfg.Risk.RetryCooldown, "SPIKEBOT_RISK_RETRY_COOLDOWN")

	// ── Engine ──
	setDuration(&cfg.Engine.DetectInterval, "SPIKEBOT_ENGINE_DETECT_INTERVAL")
	setDuration(&cfg.Engine.ExitCheckInterval, "SPIKEBOT_ENGINE_EXIT_CHECK_INTERVAL")
	setInt(&cfg.Engine.MaxConcurrentExits, "SPIKEBOT_ENGINE_MAX_CONCURRENT_EXITS")
	setDuration(&cfg.Engine.SnapshotInterval, "SPIKEBOT_ENGINE_SNAPSHOT_INTERVAL")

	// ── Sim ──
	setFloat64(&cfg.Sim.StartBalance, "SPIKEBOT_SIM_START_BALANCE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SPIKEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SPIKEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SPIKEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPIKEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPIKEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPIKEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPIKEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPIKEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SPIKEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SPIKEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SPIKEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SPIKEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPIKEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPIKEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPIKEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPIKEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPIKEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPIKEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPIKEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPIKEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPIKEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPIKEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPIKEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPIKEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SPIKEBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SPIKEBOT_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.SweepInterval, "SPIKEBOT_S3_SWEEP_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SPIKEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SPIKEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SPIKEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SPIKEBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPIKEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPIKEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPIKEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPIKEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPIKEBOT_MODE")
	setStr(&cfg.LogLevel, "SPIKEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
