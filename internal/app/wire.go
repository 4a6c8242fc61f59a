package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/perpbot/internal/blob/s3"
	"github.com/alanyoungcy/perpbot/internal/cache/redis"
	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/platform/coingecko"
	"github.com/alanyoungcy/perpbot/internal/platform/gmx"
	"github.com/alanyoungcy/perpbot/internal/risk"
	"github.com/alanyoungcy/perpbot/internal/service"
	"github.com/alanyoungcy/perpbot/internal/store/postgres"
)

// Dependencies bundles every component the application modes run. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional components are nil when their backing service is not configured.
type Dependencies struct {
	// Stores (nil without Postgres)
	OrderStore    *postgres.OrderStore
	PositionStore *postgres.PositionStore
	StatsStore    *postgres.StatsStore
	AuditStore    *postgres.AuditStore

	// Caches
	PriceCache  *redis.PriceCache
	RateLimiter *redis.RateLimiter
	LockManager *redis.LockManager
	SignalBus   *redis.SignalBus

	// Archive (nil unless archive.enabled)
	Archiver *s3blob.Archiver

	// Engine
	Hub       *notify.Hub
	Notifier  *notify.Notifier
	Prices    *service.PriceService
	Connector *gmx.Client
	Tracker   *service.PositionTracker
	Positions *service.PositionService // nil without Postgres
	Analytics *service.AnalyticsService // nil without Postgres
	Ledger    *service.OrderLedger
	Monitor   *service.Monitor
	Executor  *executor.Executor // nil when executor.enabled is false
}

// archiveBlobs gives the archiver both halves of the bucket.
type archiveBlobs struct {
	*s3blob.Writer
	*s3blob.Reader
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.StatsStore = postgres.NewStatsStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// Cached prices outlive the freshness window so a stale value is still
	// there to report when upstream is down.
	deps.PriceCache = redis.NewPriceCache(redisClient, 10*cfg.PriceFeed.CacheDuration.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.OrderStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable yet", slog.String("error", err.Error()))
		}
		blobs := archiveBlobs{Writer: s3blob.NewWriter(s3Client), Reader: s3blob.NewReader(s3Client)}
		deps.Archiver = s3blob.NewArchiver(blobs, deps.OrderStore, deps.PositionStore, deps.AuditStore, logger)
	}

	// --- Notifications ---
	deps.Hub = notify.NewHub(logger, notify.WithRetention(cfg.Notify.Retention))
	deps.Hub.SubscribeAll("signal_bus", notify.BusPublisher(deps.SignalBus))

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, domain.Priority(cfg.Notify.MinPriority), logger)
	if deps.Notifier.Enabled() {
		deps.Hub.SubscribeAll("external_senders", deps.Notifier.Handle)
	}

	// --- Prices ---
	upstream := coingecko.New(coingecko.Config{
		BaseURL:           cfg.PriceFeed.BaseURL,
		APIKey:            cfg.PriceFeed.APIKey,
		RequestsPerMinute: cfg.PriceFeed.RequestsPerMinute,
		Timeout:           cfg.PriceFeed.Timeout.Duration,
	}, logger)
	deps.Prices = service.NewPriceService(upstream, deps.PriceCache, deps.SignalBus, cfg.PriceFeed.CacheDuration.Duration, logger)

	// --- Exchange ---
	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: dial %s: %w", cfg.Chain.RPCURL, err))
	}
	closers = append(closers, eth.Close)

	// A nil *crypto.Signer must not reach the connector as a non-nil
	// interface.
	var txSigner gmx.TxSigner
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if keyCfg.Configured() {
		signer, err := crypto.LoadSigner(keyCfg, cfg.Chain.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		txSigner = signer
		logger.InfoContext(ctx, "wire: trading wallet loaded", slog.String("address", signer.Address().Hex()))
	} else {
		logger.WarnContext(ctx, "wire: no wallet key configured; connector is read-only")
	}

	deps.Connector, err = gmx.New(eth, txSigner, gmxConfig(cfg.Chain), logger)
	if err != nil {
		return fail(fmt.Errorf("wire: gmx: %w", err))
	}

	// --- Engine ---
	limits := domain.RiskLimits{
		MaxLeverage:     decimal.NewFromFloat(cfg.Risk.MaxLeverage),
		MaxPositionSize: decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
		MaxTotalSize:    decimal.NewFromFloat(cfg.Risk.MaxTotalSize),
	}
	calc := risk.NewCalculator(decimal.NewFromFloat(cfg.Risk.MaintenanceMargin))
	deps.Tracker = service.NewPositionTracker(deps.Connector, deps.Prices, calc, limits, cfg.Monitor.Symbol, logger)

	deps.Monitor = service.NewMonitor(deps.Tracker, deps.Prices, deps.Hub, service.MonitorConfig{
		Interval:     cfg.Monitor.Interval.Duration,
		ErrorBackoff: cfg.Monitor.ErrorBackoff.Duration,
		StaleAfter:   cfg.Monitor.StaleAfter.Duration,
		ErrorBuffer:  cfg.Monitor.ErrorBuffer,
		AlertMode:    cfg.Monitor.AlertMode,
		PnLThreshold: decimal.NewFromFloat(cfg.Risk.PnLThreshold),
		Symbol:       cfg.Monitor.Symbol,
	}, logger)

	var (
		orderStore domain.OrderStore
		auditStore domain.AuditStore
		book       executor.PositionBook
	)
	if deps.OrderStore != nil {
		orderStore = deps.OrderStore
		auditStore = deps.AuditStore
		deps.Positions = service.NewPositionService(deps.PositionStore, deps.StatsStore, deps.SignalBus, deps.AuditStore, logger)
		book = deps.Positions
		deps.Analytics = service.NewAnalyticsService(deps.PositionStore, logger)
	}

	deps.Ledger = service.NewOrderLedger(deps.Connector, deps.Prices, deps.Hub, orderStore, auditStore, deps.LockManager, service.OrderLedgerConfig{
		Symbol:      cfg.Monitor.Symbol,
		SlippageBps: cfg.Chain.SlippageBps,
		MaxAttempts: cfg.Orders.MaxAttempts,
		LockTTL:     cfg.Orders.LockTTL.Duration,
		Retention:   cfg.Orders.Retention.Duration,
	}, logger)

	if cfg.Executor.Enabled {
		deps.Executor = executor.NewExecutor(deps.Connector, deps.Prices, deps.Tracker, book, deps.Hub, deps.SignalBus, calc, executor.Config{
			Symbol:            cfg.Monitor.Symbol,
			SlippageBps:       cfg.Chain.SlippageBps,
			EnforceRiskLimits: cfg.Executor.EnforceRiskLimits,
			DedupTTL:          cfg.Executor.DedupTTL.Duration,
			PollInterval:      cfg.Executor.PollInterval.Duration,
			BatchSize:         cfg.Executor.BatchSize,
		}, logger)
	}

	return deps, cleanup, nil
}

// OpenPostgres connects using the postgres section of cfg.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	return postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: int32(cfg.Postgres.PoolMaxConns),
		MinConns: int32(cfg.Postgres.PoolMinConns),
	})
}

func gmxConfig(c config.ChainConfig) gmx.Config {
	g := gmx.DefaultConfig()
	g.VaultAddress = c.VaultAddress
	g.PositionRouterAddress = c.PositionRouterAddress
	g.Tokens = map[string]gmx.Token{
		domain.SymbolAVAX: {Address: c.AVAXToken, Decimals: 18},
		domain.SymbolUSDC: {Address: c.USDCToken, Decimals: 6},
	}
	if fee, ok := c.ExecutionFee(); ok {
		g.ExecutionFeeWei = fee
	}
	if c.GasHeadroomPct > 0 {
		g.GasHeadroomPct = c.GasHeadroomPct
	}
	return g
}
