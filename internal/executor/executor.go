package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/risk"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// Stream and channel names used when intents arrive over the signal bus.
const (
	IntentStream  = "trade_intents"
	ResultChannel = "trade_results"
)

// RiskChecker reads live positions and evaluates proposed trades against the
// account limits. *service.PositionTracker satisfies it.
type RiskChecker interface {
	ActivePositions(ctx context.Context, wallet string) (domain.ActivePositions, error)
	CheckRiskLimits(ctx context.Context, wallet string, proposedSize, proposedLeverage decimal.Decimal) (domain.RiskCheck, error)
}

// PositionBook persists opened and closed positions. *service.PositionService
// satisfies it.
type PositionBook interface {
	RecordOpen(ctx context.Context, p domain.Position, txHash string) (domain.PositionRecord, error)
	RecordClose(ctx context.Context, wallet string, side domain.Side, exitPrice, realizedPnL, leverage decimal.Decimal) error
}

// Config tunes the executor.
type Config struct {
	Symbol          string
	CollateralToken string
	SlippageBps     int64
	// EnforceRiskLimits rejects opens that fail the static limit check.
	// When false the check result is only reported.
	EnforceRiskLimits bool
	DedupTTL          time.Duration
	CleanupInterval   time.Duration
	PollInterval      time.Duration
	BatchSize         int
}

func (c *Config) defaults() {
	if c.Symbol == "" {
		c.Symbol = domain.SymbolAVAX
	}
	if c.CollateralToken == "" {
		c.CollateralToken = domain.SymbolUSDC
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = 30
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Executor turns structured trade intents into exchange transactions. Intents
// arrive either directly through Execute or from the intent stream on the
// signal bus when Run is active.
type Executor struct {
	connector domain.ExchangeConnector
	prices    domain.PriceSource
	tracker   RiskChecker
	book      PositionBook
	alerts    service.Alerter
	bus       domain.SignalBus
	calc      risk.Calculator
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger
}

// NewExecutor creates an Executor. book and bus may be nil.
func NewExecutor(
	connector domain.ExchangeConnector,
	prices domain.PriceSource,
	tracker RiskChecker,
	book PositionBook,
	alerts service.Alerter,
	bus domain.SignalBus,
	calc risk.Calculator,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	cfg.defaults()
	return &Executor{
		connector: connector,
		prices:    prices,
		tracker:   tracker,
		book:      book,
		alerts:    alerts,
		bus:       bus,
		calc:      calc,
		dedup:     NewDedup(cfg.DedupTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute validates and runs one intent.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		metrics.TradesTotal.WithLabelValues(string(intent.Operation), "rejected").Inc()
		return domain.TradeResult{}, err
	}
	if e.dedup.IsDuplicate(intent.ID) {
		metrics.TradesTotal.WithLabelValues(string(intent.Operation), "duplicate").Inc()
		return domain.TradeResult{}, fmt.Errorf("executor: intent %s: %w", intent.ID, domain.ErrDuplicateIntent)
	}

	var (
		res domain.TradeResult
		err error
	)
	switch intent.Operation {
	case domain.OpAnalyze:
		res, err = e.analyze(ctx)
	case domain.OpOpenPosition:
		res, err = e.open(ctx, intent)
	case domain.OpClosePosition:
		res, err = e.close(ctx, intent)
	default:
		err = fmt.Errorf("executor: %s: %w", intent.Operation, domain.ErrNotImplemented)
	}

	if err != nil {
		// Let the caller resubmit the same intent after a failure.
		e.dedup.Forget(intent.ID)
		metrics.TradesTotal.WithLabelValues(string(intent.Operation), "error").Inc()
		e.logger.WarnContext(ctx, "executor: intent failed",
			slog.String("intent_id", intent.ID),
			slog.String("wallet", intent.Wallet),
			slog.String("operation", string(intent.Operation)),
			slog.String("error", err.Error()),
		)
		return domain.TradeResult{}, err
	}
	metrics.TradesTotal.WithLabelValues(string(intent.Operation), "ok").Inc()
	return res, nil
}

func (e *Executor) analyze(ctx context.Context) (domain.TradeResult, error) {
	md, err := e.prices.MarketData(ctx, e.cfg.Symbol)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: market data: %w", err)
	}
	return domain.TradeResult{
		Operation: domain.OpAnalyze,
		Price:     md.CurrentPrice,
		Market:    &md,
	}, nil
}

func (e *Executor) open(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	amount := intent.Amount.Decimal
	leverage := intent.Leverage.Decimal
	size := amount.Mul(leverage)

	price, err := e.prices.SpotPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: spot price: %w", err)
	}
	if !price.IsPositive() {
		return domain.TradeResult{}, fmt.Errorf("executor: spot price %s: %w", price, domain.ErrPriceUnavailable)
	}

	check, err := e.tracker.CheckRiskLimits(ctx, intent.Wallet, size, leverage)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: risk check: %w", err)
	}
	if !check.Passed && e.cfg.EnforceRiskLimits {
		return domain.TradeResult{}, fmt.Errorf("executor: size %s at %sx: %w", size, leverage, domain.ErrRiskLimit)
	}

	liquidity, err := e.connector.AvailableLiquidity(ctx, e.cfg.CollateralToken)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: liquidity: %w", err)
	}
	if liquidity.LessThan(amount) {
		return domain.TradeResult{}, fmt.Errorf("executor: need %s %s, pool has %s: %w",
			amount, e.cfg.CollateralToken, liquidity, domain.ErrInsufficientLiquidity)
	}

	acceptable := risk.AcceptablePrice(price, intent.Side, true, e.cfg.SlippageBps)
	tx, err := e.connector.OpenPosition(ctx, intent.Wallet, size, intent.Side, acceptable)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: open %s: %w", intent.Side, err)
	}

	p := domain.Position{
		Wallet:           intent.Wallet,
		Side:             intent.Side,
		Size:             size,
		Collateral:       amount,
		EntryPrice:       price,
		MarkPrice:        price,
		Leverage:         leverage,
		LiquidationPrice: e.calc.LiquidationPrice(size, amount, price, intent.Side),
		LastUpdated:      time.Now().UTC(),
	}
	if e.book != nil {
		if _, err := e.book.RecordOpen(ctx, p, tx); err != nil {
			e.logger.ErrorContext(ctx, "executor: record open failed",
				slog.String("tx_hash", tx),
				slog.String("error", err.Error()),
			)
		}
	}
	e.alerts.NotifyPositionUpdate(ctx, intent.Wallet, p, false, notify.DefaultPnLThreshold)

	e.logger.InfoContext(ctx, "executor: position opened",
		slog.String("wallet", intent.Wallet),
		slog.String("side", string(intent.Side)),
		slog.String("size", size.String()),
		slog.String("price", price.String()),
		slog.String("tx_hash", tx),
	)
	return domain.TradeResult{
		Operation:       domain.OpOpenPosition,
		Side:            intent.Side,
		TxHash:          tx,
		Size:            size,
		Price:           price,
		AcceptablePrice: acceptable,
		Risk:            &check,
	}, nil
}

func (e *Executor) close(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	positions, err := e.tracker.ActivePositions(ctx, intent.Wallet)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: read positions: %w", err)
	}
	p := positions.Get(intent.Side)
	if p == nil {
		return domain.TradeResult{}, fmt.Errorf("executor: close %s for %s: %w", intent.Side, intent.Wallet, domain.ErrNoPosition)
	}

	acceptable := risk.AcceptablePrice(p.MarkPrice, intent.Side, false, e.cfg.SlippageBps)
	tx, err := e.connector.ClosePosition(ctx, intent.Wallet, intent.Side, acceptable)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: close %s: %w", intent.Side, err)
	}

	if e.book != nil {
		if err := e.book.RecordClose(ctx, intent.Wallet, intent.Side, p.MarkPrice, p.PnL, p.Leverage); err != nil {
			e.logger.ErrorContext(ctx, "executor: record close failed",
				slog.String("tx_hash", tx),
				slog.String("error", err.Error()),
			)
		}
	}
	e.alerts.NotifyPositionUpdate(ctx, intent.Wallet, *p, true, notify.DefaultPnLThreshold)

	e.logger.InfoContext(ctx, "executor: position closed",
		slog.String("wallet", intent.Wallet),
		slog.String("side", string(intent.Side)),
		slog.String("pnl", p.PnL.String()),
		slog.String("tx_hash", tx),
	)
	return domain.TradeResult{
		Operation:       domain.OpClosePosition,
		Side:            intent.Side,
		TxHash:          tx,
		Size:            p.Size,
		Price:           p.MarkPrice,
		AcceptablePrice: acceptable,
		RealizedPnL:     p.PnL,
	}, nil
}

// intentResult is published on ResultChannel for every streamed intent.
type intentResult struct {
	IntentID string              `json:"intent_id"`
	Wallet   string              `json:"wallet"`
	OK       bool                `json:"ok"`
	Error    string              `json:"error,omitempty"`
	Result   *domain.TradeResult `json:"result,omitempty"`
}

// Run consumes intents appended to IntentStream after startup and publishes
// each outcome on ResultChannel. Without a bus it only runs dedup cleanup.
// It blocks until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor: started")
	defer e.logger.InfoContext(ctx, "executor: stopped")

	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	var poll <-chan time.Time
	if e.bus != nil {
		t := time.NewTicker(e.cfg.PollInterval)
		defer t.Stop()
		poll = t.C
	}
	// Stream IDs are millisecond timestamps, so this skips any backlog.
	lastID := fmt.Sprintf("%d-0", time.Now().UnixMilli())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			if n := e.dedup.Cleanup(); n > 0 {
				e.logger.DebugContext(ctx, "executor: dedup cleanup", slog.Int("removed", n))
			}
		case <-poll:
			lastID = e.drain(ctx, lastID)
		}
	}
}

func (e *Executor) drain(ctx context.Context, lastID string) string {
	msgs, err := e.bus.StreamRead(ctx, IntentStream, lastID, e.cfg.BatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.WarnContext(ctx, "executor: stream read failed", slog.String("error", err.Error()))
		}
		return lastID
	}
	for _, m := range msgs {
		lastID = m.ID
		var intent domain.TradeIntent
		if err := json.Unmarshal(m.Payload, &intent); err != nil {
			e.logger.WarnContext(ctx, "executor: bad intent payload",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if intent.ID == "" {
			intent.ID = m.ID
		}
		out := intentResult{IntentID: intent.ID, Wallet: intent.Wallet}
		res, err := e.Execute(ctx, intent)
		if err != nil {
			out.Error = err.Error()
		} else {
			out.OK = true
			out.Result = &res
		}
		payload, _ := json.Marshal(out)
		if err := e.bus.Publish(ctx, ResultChannel, payload); err != nil {
			e.logger.WarnContext(ctx, "executor: publish result failed",
				slog.String("intent_id", intent.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return lastID
}
