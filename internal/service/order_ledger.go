package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/id"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// OrderLedgerConfig tunes order matching.
type OrderLedgerConfig struct {
	Symbol      string
	SlippageBps int64
	MaxAttempts int
	LockTTL     time.Duration
	// Retention is how long terminal orders stay in memory. The store keeps
	// them after that.
	Retention time.Duration
}

func (c *OrderLedgerConfig) defaults() {
	if c.Symbol == "" {
		c.Symbol = domain.SymbolAVAX
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// orderEntry guards one order. Holding mu is the right to change the
// order's status.
type orderEntry struct {
	mu    sync.Mutex
	order domain.Order
}

func (e *orderEntry) snapshot() domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order
}

// OrderLedger tracks conditional orders from creation to a terminal state
// and executes them against the exchange when their trigger is met.
type OrderLedger struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry

	connector domain.ExchangeConnector
	prices    domain.SpotPricer
	alerts    Alerter
	store     domain.OrderStore
	audit     domain.AuditStore
	locks     domain.LockManager

	cfg    OrderLedgerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewOrderLedger creates an OrderLedger. store, audit and locks may be nil.
func NewOrderLedger(
	connector domain.ExchangeConnector,
	prices domain.SpotPricer,
	alerts Alerter,
	store domain.OrderStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	cfg OrderLedgerConfig,
	logger *slog.Logger,
) *OrderLedger {
	cfg.defaults()
	return &OrderLedger{
		orders:    make(map[string]*orderEntry),
		connector: connector,
		prices:    prices,
		alerts:    alerts,
		store:     store,
		audit:     audit,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "order_ledger")),
		now:       time.Now,
	}
}

// Load restores pending orders from the store, for use at startup.
func (l *OrderLedger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	pending, err := l.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("order_ledger: load pending: %w", err)
	}
	l.mu.Lock()
	for _, o := range pending {
		if _, ok := l.orders[o.ID]; !ok {
			l.orders[o.ID] = &orderEntry{order: o}
		}
	}
	l.mu.Unlock()
	metrics.PendingOrders.Set(float64(len(l.Pending(""))))
	return len(pending), nil
}

func validateOrderRequest(req domain.OrderRequest) error {
	switch {
	case req.Wallet == "":
		return fmt.Errorf("%w: wallet is required", domain.ErrValidation)
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown order kind %q", domain.ErrValidation, req.Kind)
	case !req.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", domain.ErrValidation, req.Side)
	case !req.TriggerPrice.IsPositive():
		return fmt.Errorf("%w: trigger price must be positive", domain.ErrValidation)
	}
	if req.Kind.Opens() {
		if !req.Size.Valid || !req.Size.Decimal.IsPositive() {
			return fmt.Errorf("%w: limit order size must be positive", domain.ErrValidation)
		}
		if req.Leverage.Valid && !req.Leverage.Decimal.IsPositive() {
			return fmt.Errorf("%w: leverage must be positive", domain.ErrValidation)
		}
	}
	return nil
}

// Create registers a new pending order.
func (l *OrderLedger) Create(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return domain.Order{}, fmt.Errorf("order_ledger: create: %w", err)
	}

	o := domain.Order{
		ID:           id.New(),
		Wallet:       req.Wallet,
		Kind:         req.Kind,
		Side:         req.Side,
		TriggerPrice: req.TriggerPrice,
		Status:       domain.OrderStatusPending,
		CreatedAt:    l.now().UTC(),
	}
	if req.Kind.Opens() {
		o.Size = req.Size
		o.Leverage = req.Leverage
		if !o.Leverage.Valid {
			o.Leverage = decimal.NewNullDecimal(decimal.NewFromInt(1))
		}
	}

	l.mu.Lock()
	l.orders[o.ID] = &orderEntry{order: o}
	l.mu.Unlock()

	metrics.OrderTransitions.WithLabelValues(string(o.Kind), string(o.Status)).Inc()
	metrics.PendingOrders.Inc()

	if l.store != nil {
		if err := l.store.Create(ctx, o); err != nil {
			l.logger.WarnContext(ctx, "order_ledger: persist created order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	l.logAudit(ctx, "order_created", o)

	l.logger.InfoContext(ctx, "order_ledger: order created",
		slog.String("order_id", o.ID),
		slog.String("wallet", o.Wallet),
		slog.String("kind", string(o.Kind)),
		slog.String("side", string(o.Side)),
		slog.String("trigger", o.TriggerPrice.String()),
	)
	return o, nil
}

func (l *OrderLedger) entry(orderID string) (*orderEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.orders[orderID]
	return e, ok
}

// Cancel moves a pending order owned by wallet to cancelled.
func (l *OrderLedger) Cancel(ctx context.Context, orderID, wallet string) (domain.Order, error) {
	e, ok := l.entry(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("order_ledger: cancel %s: %w", orderID, domain.ErrNotFound)
	}

	e.mu.Lock()
	if e.order.Wallet != wallet {
		e.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order_ledger: cancel %s: %w", orderID, domain.ErrUnauthorized)
	}
	if e.order.Status != domain.OrderStatusPending {
		status := e.order.Status
		e.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order_ledger: cancel %s in status %s: %w", orderID, status, domain.ErrInvalidState)
	}
	now := l.now().UTC()
	o := e.order
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	if l.store != nil {
		err := l.store.Update(ctx, o)
		if errors.Is(err, domain.ErrInvalidState) {
			if stored, gerr := l.store.GetByID(ctx, orderID); gerr == nil {
				l.adopt(ctx, e, stored)
			}
			e.mu.Unlock()
			return domain.Order{}, fmt.Errorf("order_ledger: cancel %s: %w", orderID, err)
		}
		if err != nil {
			l.logger.WarnContext(ctx, "order_ledger: persist cancelled order failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.order = o
	e.mu.Unlock()

	metrics.OrderTransitions.WithLabelValues(string(o.Kind), string(o.Status)).Inc()
	metrics.PendingOrders.Dec()

	l.logAudit(ctx, "order_cancelled", o)
	l.alerts.NotifyOrderCancelled(ctx, o)
	return o, nil
}

// Get returns an order by id, falling back to the store for orders that
// have aged out of memory.
func (l *OrderLedger) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if e, ok := l.entry(orderID); ok {
		return e.snapshot(), nil
	}
	if l.store != nil {
		o, err := l.store.GetByID(ctx, orderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("order_ledger: get %s: %w", orderID, err)
		}
	}
	return domain.Order{}, fmt.Errorf("order_ledger: get %s: %w", orderID, domain.ErrNotFound)
}

func (l *OrderLedger) collect(keep func(domain.Order) bool) []domain.Order {
	l.mu.RLock()
	entries := make([]*orderEntry, 0, len(l.orders))
	for _, e := range l.orders {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]domain.Order, 0, len(entries))
	for _, e := range entries {
		if o := e.snapshot(); keep(o) {
			out = append(out, o)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending returns pending orders oldest first. An empty wallet matches
// every wallet.
func (l *OrderLedger) Pending(wallet string) []domain.Order {
	return l.collect(func(o domain.Order) bool {
		return o.Status == domain.OrderStatusPending && (wallet == "" || o.Wallet == wallet)
	})
}

// List returns every in-memory order for wallet, newest first.
func (l *OrderLedger) List(wallet string) []domain.Order {
	out := l.collect(func(o domain.Order) bool { return o.Wallet == wallet })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Sweep evaluates every pending order once against price and executes the
// ones whose trigger is met. A failure on one order never stops the sweep.
func (l *OrderLedger) Sweep(ctx context.Context, price decimal.Decimal) domain.SweepResult {
	metrics.SweepsTotal.Inc()
	res := domain.SweepResult{Executed: []string{}, Failed: []domain.SweepFailure{}}

	for _, o := range l.Pending("") {
		if ctx.Err() != nil {
			break
		}
		e, ok := l.entry(o.ID)
		if !ok {
			continue
		}
		executed, failure := l.tryExecute(ctx, e, price)
		switch {
		case executed != nil:
			res.Executed = append(res.Executed, executed.ID)
			l.alerts.NotifyOrderExecuted(ctx, *executed)
		case failure != nil:
			res.Failed = append(res.Failed, failure.SweepFailure)
			metrics.SweepFailures.Inc()
			if failure.gaveUp {
				l.alerts.NotifyOrderFailed(ctx, failure.order)
			}
		}
	}

	l.evict()

	if len(res.Executed) > 0 || len(res.Failed) > 0 {
		l.logger.InfoContext(ctx, "order_ledger: sweep complete",
			slog.String("price", price.String()),
			slog.Int("executed", len(res.Executed)),
			slog.Int("failed", len(res.Failed)),
		)
	}
	return res
}

type sweepFailure struct {
	domain.SweepFailure
	order  domain.Order
	gaveUp bool
}

// tryExecute holds the entry lock for the whole execution so a concurrent
// Cancel or Sweep cannot observe the order mid-flight.
func (l *OrderLedger) tryExecute(ctx context.Context, e *orderEntry, price decimal.Decimal) (*domain.Order, *sweepFailure) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.order
	if o.Status != domain.OrderStatusPending || !o.Triggered(price) {
		return nil, nil
	}

	if l.locks != nil {
		unlock, err := l.locks.Acquire(ctx, "order:"+o.ID, l.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			l.logger.DebugContext(ctx, "order_ledger: order locked elsewhere", slog.String("order_id", o.ID))
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, &sweepFailure{SweepFailure: domain.SweepFailure{OrderID: o.ID, Reason: err.Error()}, order: o}
		}
		defer unlock()
	}

	// Another process sharing the store may have settled the order after
	// this one loaded it.
	if l.store != nil {
		stored, err := l.store.GetByID(ctx, o.ID)
		switch {
		case err == nil:
			if l.adopt(ctx, e, stored) {
				return nil, nil
			}
			o = e.order
		case ctx.Err() != nil:
			return nil, nil
		case !errors.Is(err, domain.ErrNotFound):
			l.logger.WarnContext(ctx, "order_ledger: re-read order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			return nil, &sweepFailure{SweepFailure: domain.SweepFailure{OrderID: o.ID, Reason: err.Error()}, order: o}
		}
	}

	txHash, err := l.execute(ctx, o, price)
	now := l.now().UTC()
	if err != nil && interrupted(ctx, err) {
		l.logger.InfoContext(ctx, "order_ledger: execution interrupted, order stays pending",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if err != nil {
		e.order.Attempts++
		e.order.LastError = err.Error()
		gaveUp := !domain.IsTransient(err) || e.order.Attempts >= l.cfg.MaxAttempts
		if gaveUp {
			e.order.Status = domain.OrderStatusFailed
			e.order.FailedAt = &now
			metrics.OrderTransitions.WithLabelValues(string(o.Kind), string(e.order.Status)).Inc()
			metrics.PendingOrders.Dec()
		}
		failed := e.order
		l.logger.WarnContext(ctx, "order_ledger: execution failed",
			slog.String("order_id", o.ID),
			slog.Int("attempts", failed.Attempts),
			slog.Bool("gave_up", gaveUp),
			slog.String("error", err.Error()),
		)
		l.persist(ctx, failed)
		if gaveUp {
			l.logAudit(ctx, "order_failed", failed)
		}
		return nil, &sweepFailure{
			SweepFailure: domain.SweepFailure{OrderID: o.ID, Reason: err.Error()},
			order:        failed,
			gaveUp:       gaveUp,
		}
	}

	e.order.Status = domain.OrderStatusExecuted
	e.order.ExecutedAt = &now
	e.order.ExecutionPrice = decimal.NewNullDecimal(price)
	e.order.TxHash = txHash
	e.order.Attempts++
	done := e.order

	metrics.OrderTransitions.WithLabelValues(string(done.Kind), string(done.Status)).Inc()
	metrics.PendingOrders.Dec()
	l.persist(ctx, done)
	l.logAudit(ctx, "order_executed", done)
	l.logger.InfoContext(ctx, "order_ledger: order executed",
		slog.String("order_id", done.ID),
		slog.String("kind", string(done.Kind)),
		slog.String("price", price.String()),
		slog.String("tx_hash", txHash),
	)
	return &done, nil
}

// interrupted reports whether err comes from the sweep being cancelled
// rather than from the exchange.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// adopt merges the stored copy of a pending order into e. It returns true
// when the stored order is already terminal; e then takes the stored state
// and must not be executed. The caller holds e.mu.
func (l *OrderLedger) adopt(ctx context.Context, e *orderEntry, stored domain.Order) bool {
	if stored.Status == domain.OrderStatusPending {
		if stored.Attempts > e.order.Attempts {
			e.order.Attempts = stored.Attempts
		}
		return false
	}
	if e.order.Status == domain.OrderStatusPending {
		metrics.PendingOrders.Dec()
	}
	e.order = stored
	l.logger.InfoContext(ctx, "order_ledger: order settled by another process",
		slog.String("order_id", stored.ID),
		slog.String("status", string(stored.Status)),
	)
	return true
}

func (l *OrderLedger) execute(ctx context.Context, o domain.Order, price decimal.Decimal) (string, error) {
	if o.Kind.Opens() {
		acceptable := risk.AcceptablePrice(price, o.Side, true, l.cfg.SlippageBps)
		return l.connector.OpenPosition(ctx, o.Wallet, o.Notional(), o.Side, acceptable)
	}
	acceptable := risk.AcceptablePrice(price, o.Side, false, l.cfg.SlippageBps)
	return l.connector.ClosePosition(ctx, o.Wallet, o.Side, acceptable)
}

// evict drops terminal orders older than the retention window.
func (l *OrderLedger) evict() {
	cutoff := l.now().Add(-l.cfg.Retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	for oid, e := range l.orders {
		// An entry that is busy is mid-execution and not evictable yet.
		if !e.mu.TryLock() {
			continue
		}
		o := e.order
		e.mu.Unlock()
		if o.Status.Terminal() && o.CreatedAt.Before(cutoff) {
			delete(l.orders, oid)
		}
	}
}

// Run sweeps on every tick using the price source until ctx is done.
func (l *OrderLedger) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.InfoContext(ctx, "order_ledger: sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "order_ledger: sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if len(l.Pending("")) == 0 {
				continue
			}
			price, err := l.prices.SpotPrice(ctx, l.cfg.Symbol)
			if err != nil {
				l.logger.WarnContext(ctx, "order_ledger: price unavailable, skipping sweep",
					slog.String("error", err.Error()),
				)
				continue
			}
			l.Sweep(ctx, price)
		}
	}
}

func (l *OrderLedger) persist(ctx context.Context, o domain.Order) {
	if l.store == nil {
		return
	}
	if err := l.store.Update(ctx, o); err != nil {
		l.logger.WarnContext(ctx, "order_ledger: persist order failed",
			slog.String("order_id", o.ID),
			slog.String("status", string(o.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (l *OrderLedger) logAudit(ctx context.Context, event string, o domain.Order) {
	if l.audit == nil {
		return
	}
	detail := map[string]any{
		"order_id": o.ID,
		"wallet":   o.Wallet,
		"kind":     string(o.Kind),
		"side":     string(o.Side),
		"status":   string(o.Status),
		"trigger":  o.TriggerPrice.String(),
	}
	if o.TxHash != "" {
		detail["tx_hash"] = o.TxHash
	}
	if o.LastError != "" {
		detail["error"] = o.LastError
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "order_ledger: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
