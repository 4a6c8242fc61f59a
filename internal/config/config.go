// Package config defines the top-level configuration for perpbot and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by PERPBOT_* environment
// variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet" yaml:"wallet"`
	Chain     ChainConfig     `toml:"chain" yaml:"chain"`
	PriceFeed PriceFeedConfig `toml:"price_feed" yaml:"price_feed"`
	Risk      RiskConfig      `toml:"risk" yaml:"risk"`
	Monitor   MonitorConfig   `toml:"monitor" yaml:"monitor"`
	Orders    OrdersConfig    `toml:"orders" yaml:"orders"`
	Executor  ExecutorConfig  `toml:"executor" yaml:"executor"`
	Postgres  PostgresConfig  `toml:"postgres" yaml:"postgres"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	S3        S3Config        `toml:"s3" yaml:"s3"`
	Archive   ArchiveConfig   `toml:"archive" yaml:"archive"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Notify    NotifyConfig    `toml:"notify" yaml:"notify"`
	Mode      string          `toml:"mode" yaml:"mode"`
	LogLevel  string          `toml:"log_level" yaml:"log_level"`
}

// WalletConfig holds the signing key. Without one the connector is
// read-only and trade intents are rejected.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
}

// Configured reports whether any key source is set.
func (w WalletConfig) Configured() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// ChainConfig holds the RPC endpoint and GMX deployment.
type ChainConfig struct {
	RPCURL                string `toml:"rpc_url" yaml:"rpc_url"`
	ChainID               int64  `toml:"chain_id" yaml:"chain_id"`
	VaultAddress          string `toml:"vault_address" yaml:"vault_address"`
	PositionRouterAddress string `toml:"position_router_address" yaml:"position_router_address"`
	AVAXToken             string `toml:"avax_token" yaml:"avax_token"`
	USDCToken             string `toml:"usdc_token" yaml:"usdc_token"`
	SlippageBps           int64  `toml:"slippage_bps" yaml:"slippage_bps"`
	// ExecutionFeeWei is a base-10 integer; it overflows int64 on some chains.
	ExecutionFeeWei string `toml:"execution_fee_wei" yaml:"execution_fee_wei"`
	GasHeadroomPct  uint64 `toml:"gas_headroom_pct" yaml:"gas_headroom_pct"`
}

// ExecutionFee parses ExecutionFeeWei.
func (c ChainConfig) ExecutionFee() (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(c.ExecutionFeeWei), 10)
}

// PriceFeedConfig holds CoinGecko settings.
type PriceFeedConfig struct {
	APIKey            string   `toml:"api_key" yaml:"api_key"`
	BaseURL           string   `toml:"base_url" yaml:"base_url"`
	CacheDuration     duration `toml:"cache_duration" yaml:"cache_duration"`
	RequestsPerMinute int      `toml:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           duration `toml:"timeout" yaml:"timeout"`
}

// RiskConfig holds the static exposure policy.
type RiskConfig struct {
	MaxLeverage       float64 `toml:"max_leverage" yaml:"max_leverage"`
	MaxPositionSize   float64 `toml:"max_position_size" yaml:"max_position_size"`
	MaxTotalSize      float64 `toml:"max_total_size" yaml:"max_total_size"`
	MaintenanceMargin float64 `toml:"maintenance_margin" yaml:"maintenance_margin"`
	// PnLThreshold is the absolute unrealized PnL, in USD, that raises a
	// pnl_alert notification.
	PnLThreshold float64 `toml:"pnl_threshold" yaml:"pnl_threshold"`
}

// MonitorConfig tunes the per-wallet monitoring loops.
type MonitorConfig struct {
	Interval     duration `toml:"interval" yaml:"interval"`
	ErrorBackoff duration `toml:"error_backoff" yaml:"error_backoff"`
	StaleAfter   duration `toml:"stale_after" yaml:"stale_after"`
	ErrorBuffer  int      `toml:"error_buffer" yaml:"error_buffer"`
	AlertMode    string   `toml:"alert_mode" yaml:"alert_mode"`
	Symbol       string   `toml:"symbol" yaml:"symbol"`
	// Wallets are started at boot.
	Wallets []string `toml:"wallets" yaml:"wallets"`
}

// OrdersConfig tunes the order ledger.
type OrdersConfig struct {
	SweepInterval duration `toml:"sweep_interval" yaml:"sweep_interval"`
	MaxAttempts   int      `toml:"max_attempts" yaml:"max_attempts"`
	LockTTL       duration `toml:"lock_ttl" yaml:"lock_ttl"`
	Retention     duration `toml:"retention" yaml:"retention"`
}

// ExecutorConfig tunes the trade intent executor.
type ExecutorConfig struct {
	Enabled           bool     `toml:"enabled" yaml:"enabled"`
	EnforceRiskLimits bool     `toml:"enforce_risk_limits" yaml:"enforce_risk_limits"`
	DedupTTL          duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	PollInterval      duration `toml:"poll_interval" yaml:"poll_interval"`
	BatchSize         int      `toml:"batch_size" yaml:"batch_size"`
}

// PostgresConfig holds connection parameters. DSN wins over the discrete
// fields when set.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"sslmode" yaml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds connection parameters. URL wins over Addr when set.
type RedisConfig struct {
	URL        string `toml:"url" yaml:"url"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
}

// S3Config holds the archive bucket settings.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ArchiveConfig controls the export of old rows to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	Interval      duration `toml:"interval" yaml:"interval"`
	RetentionDays int      `toml:"retention_days" yaml:"retention_days"`
}

// Retention returns RetentionDays as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (d duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// ServerConfig controls the HTTP/WS API.
type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	// APIKey gates every route except health and metrics. Empty disables auth.
	APIKey     string   `toml:"api_key" yaml:"api_key"`
	RateLimit  int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig controls the notification hub and external senders.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	MinPriority       string   `toml:"min_priority" yaml:"min_priority"`
	// Retention caps stored notifications per wallet.
	Retention int `toml:"retention" yaml:"retention"`
}

// Defaults returns the baseline configuration: Avalanche mainnet, local
// Redis and MinIO, Postgres off.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:                "https://api.avax.network/ext/bc/C/rpc",
			ChainID:               43114,
			VaultAddress:          "0x9ab2De34A33fB459b538c43f251eB825645e8595",
			PositionRouterAddress: "0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868",
			AVAXToken:             "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
			USDCToken:             "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			SlippageBps:           30,
			ExecutionFeeWei:       "300000",
			GasHeadroomPct:        20,
		},
		PriceFeed: PriceFeedConfig{
			CacheDuration:     duration{30 * time.Second},
			RequestsPerMinute: 30,
			Timeout:           duration{10 * time.Second},
		},
		Risk: RiskConfig{
			MaxLeverage:       50,
			MaxPositionSize:   100_000,
			MaxTotalSize:      200_000,
			MaintenanceMargin: 0.01,
			PnLThreshold:      1000,
		},
		Monitor: MonitorConfig{
			Interval:     duration{30 * time.Second},
			ErrorBackoff: duration{5 * time.Second},
			StaleAfter:   duration{60 * time.Second},
			ErrorBuffer:  5,
			AlertMode:    "edge",
			Symbol:       domain.SymbolAVAX,
		},
		Orders: OrdersConfig{
			SweepInterval: duration{10 * time.Second},
			MaxAttempts:   5,
			LockTTL:       duration{2 * time.Minute},
			Retention:     duration{24 * time.Hour},
		},
		Executor: ExecutorConfig{
			Enabled:           true,
			EnforceRiskLimits: true,
			DedupTTL:          duration{2 * time.Minute},
			PollInterval:      duration{time.Second},
			BatchSize:         16,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
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
			Bucket:         "perpbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:      []string{"liquidation_risk", "pnl_alert", "order_executed", "system_alert"},
			MinPriority: string(domain.PriorityHigh),
			Retention:   500,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPriorities = map[string]bool{
	string(domain.PriorityLow):      true,
	string(domain.PriorityMedium):   true,
	string(domain.PriorityHigh):     true,
	string(domain.PriorityCritical): true,
}

// Validate checks the config and reports every problem at once. The error
// wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	for name, addr := range map[string]string{
		"vault_address":           c.Chain.VaultAddress,
		"position_router_address": c.Chain.PositionRouterAddress,
		"avax_token":              c.Chain.AVAXToken,
		"usdc_token":              c.Chain.USDCToken,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not an address", name, addr))
		}
	}
	if c.Chain.SlippageBps < 0 || c.Chain.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("chain: slippage_bps must be 0-9999, got %d", c.Chain.SlippageBps))
	}
	if fee, ok := c.Chain.ExecutionFee(); !ok || fee.Sign() < 0 {
		errs = append(errs, fmt.Sprintf("chain: execution_fee_wei %q is not a non-negative integer", c.Chain.ExecutionFeeWei))
	}

	if c.PriceFeed.CacheDuration.Duration <= 0 {
		errs = append(errs, "price_feed: cache_duration must be positive")
	}
	if c.PriceFeed.RequestsPerMinute <= 0 {
		errs = append(errs, "price_feed: requests_per_minute must be positive")
	}

	if c.Risk.MaxLeverage <= 0 {
		errs = append(errs, "risk: max_leverage must be positive")
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be positive")
	}
	if c.Risk.MaxTotalSize < c.Risk.MaxPositionSize {
		errs = append(errs, "risk: max_total_size must be >= max_position_size")
	}
	if c.Risk.MaintenanceMargin <= 0 || c.Risk.MaintenanceMargin >= 1 {
		errs = append(errs, fmt.Sprintf("risk: maintenance_margin must be in (0, 1), got %g", c.Risk.MaintenanceMargin))
	}
	if c.Risk.PnLThreshold < 0 {
		errs = append(errs, "risk: pnl_threshold must be >= 0")
	}

	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.StaleAfter.Duration < c.Monitor.Interval.Duration {
		errs = append(errs, "monitor: stale_after must be >= interval")
	}
	if c.Monitor.AlertMode != "edge" && c.Monitor.AlertMode != "level" {
		errs = append(errs, fmt.Sprintf("monitor: alert_mode must be edge or level, got %q", c.Monitor.AlertMode))
	}
	if c.Monitor.Symbol == "" {
		errs = append(errs, "monitor: symbol must not be empty")
	}
	for _, w := range c.Monitor.Wallets {
		if !common.IsHexAddress(w) {
			errs = append(errs, fmt.Sprintf("monitor: wallet %q is not an address", w))
		}
	}

	if c.Orders.SweepInterval.Duration <= 0 {
		errs = append(errs, "orders: sweep_interval must be positive")
	}
	if c.Orders.MaxAttempts < 1 {
		errs = append(errs, "orders: max_attempts must be >= 1")
	}

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
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.URL == "" && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr or url must be set")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "redis: db must be >= 0")
	}

	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Mode != "monitor" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.MinPriority != "" && !validPriorities[c.Notify.MinPriority] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_priority %q", c.Notify.MinPriority))
	}
	for _, e := range c.Notify.Events {
		if !domain.NotificationType(e).Valid() {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}
	if c.Notify.Retention < 0 {
		errs = append(errs, "notify: retention must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s: %w",
			strings.Join(errs, "\n  - "), domain.ErrConfiguration)
	}
	return nil
}

// IsConfigError reports whether err came from Load or Validate.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration)
}
