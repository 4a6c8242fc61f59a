package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Load reads the configuration file at path, merges it on top of the built-in
// defaults, applies PERPBOT_* environment variable overrides, and returns the
// final Config. Files ending in .yaml or .yml are decoded as YAML, anything
// else as TOML. An empty path skips the file. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %v: %w", path, err, domain.ErrConfiguration)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(b, cfg)
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// applyEnvOverrides reads well-known PERPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PERPBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PERPBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PERPBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PERPBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PERPBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.VaultAddress, "PERPBOT_CHAIN_VAULT_ADDRESS")
	setStr(&cfg.Chain.PositionRouterAddress, "PERPBOT_CHAIN_POSITION_ROUTER_ADDRESS")
	setInt64(&cfg.Chain.SlippageBps, "PERPBOT_CHAIN_SLIPPAGE_BPS")
	setStr(&cfg.Chain.ExecutionFeeWei, "PERPBOT_CHAIN_EXECUTION_FEE_WEI")

	// ── Price feed ──
	setStr(&cfg.PriceFeed.APIKey, "PERPBOT_PRICE_FEED_API_KEY")
	setStr(&cfg.PriceFeed.APIKey, "COINGECKO_API_KEY") // compatibility alias
	setStr(&cfg.PriceFeed.BaseURL, "PERPBOT_PRICE_FEED_BASE_URL")
	setDuration(&cfg.PriceFeed.CacheDuration, "PERPBOT_PRICE_FEED_CACHE_DURATION")
	setInt(&cfg.PriceFeed.RequestsPerMinute, "PERPBOT_PRICE_FEED_REQUESTS_PER_MINUTE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxLeverage, "PERPBOT_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.MaxPositionSize, "PERPBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxTotalSize, "PERPBOT_RISK_MAX_TOTAL_SIZE")
	setFloat64(&cfg.Risk.MaintenanceMargin, "PERPBOT_RISK_MAINTENANCE_MARGIN")
	setFloat64(&cfg.Risk.PnLThreshold, "PERPBOT_RISK_PNL_THRESHOLD")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "PERPBOT_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.ErrorBackoff, "PERPBOT_MONITOR_ERROR_BACKOFF")
	setDuration(&cfg.Monitor.StaleAfter, "PERPBOT_MONITOR_STALE_AFTER")
	setInt(&cfg.Monitor.ErrorBuffer, "PERPBOT_MONITOR_ERROR_BUFFER")
	setStr(&cfg.Monitor.AlertMode, "PERPBOT_MONITOR_ALERT_MODE")
	setStringSlice(&cfg.Monitor.Wallets, "PERPBOT_MONITOR_WALLETS")

	// ── Orders ──
	setDuration(&cfg.Orders.SweepInterval, "PERPBOT_ORDERS_SWEEP_INTERVAL")
	setInt(&cfg.Orders.MaxAttempts, "PERPBOT_ORDERS_MAX_ATTEMPTS")
	setDuration(&cfg.Orders.LockTTL, "PERPBOT_ORDERS_LOCK_TTL")

	// ── Executor ──
	setBool(&cfg.Executor.Enabled, "PERPBOT_EXECUTOR_ENABLED")
	setBool(&cfg.Executor.EnforceRiskLimits, "PERPBOT_EXECUTOR_ENFORCE_RISK_LIMITS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PERPBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PERPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PERPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "PERPBOT_REDIS_URL")
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PERPBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PERPBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PERPBOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PERPBOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "PERPBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PERPBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PERPBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PERPBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")
	setStr(&cfg.Notify.MinPriority, "PERPBOT_NOTIFY_MIN_PRIORITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
