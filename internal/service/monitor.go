package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/id"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// Alert modes for repeated risk conditions.
const (
	// AlertModeEdge notifies once when a condition starts and re-arms when
	// it clears.
	AlertModeEdge = "edge"
	// AlertModeLevel notifies on every cycle the condition holds.
	AlertModeLevel = "level"
)

// Assessor produces a risk assessment for a wallet. *PositionTracker
// satisfies it.
type Assessor interface {
	Assess(ctx context.Context, wallet string) (Assessment, error)
}

// MonitorConfig tunes the per-wallet surveillance loop.
type MonitorConfig struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	StaleAfter   time.Duration
	ErrorBuffer  int
	AlertMode    string
	PnLThreshold decimal.Decimal
	Symbol       string
}

func (c *MonitorConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = 5
	}
	if c.AlertMode != AlertModeLevel {
		c.AlertMode = AlertModeEdge
	}
	if !c.PnLThreshold.IsPositive() {
		c.PnLThreshold = decimal.NewFromInt(1000)
	}
	if c.Symbol == "" {
		c.Symbol = domain.SymbolAVAX
	}
}

type walletTask struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// cycleState carries edge-trigger memory between cycles of one wallet. It
// is owned by the wallet's goroutine.
type cycleState struct {
	liquidation map[domain.Side]bool
	pnl         map[domain.Side]bool
}

func newCycleState() *cycleState {
	return &cycleState{
		liquidation: map[domain.Side]bool{},
		pnl:         map[domain.Side]bool{},
	}
}

// Monitor supervises one surveillance goroutine per wallet and owns price
// alerts and system health.
type Monitor struct {
	assessor Assessor
	prices   domain.SpotPricer
	alerts   Alerter
	cfg      MonitorConfig
	logger   *slog.Logger
	now      func() time.Time

	base       context.Context
	baseCancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*walletTask

	alertMu     sync.Mutex
	priceAlerts map[string][]*domain.PriceAlert

	healthMu     sync.Mutex
	lastPrice    *time.Time
	lastPosition *time.Time
	recentErrors []domain.HealthError
}

// NewMonitor creates a Monitor with no active wallets.
func NewMonitor(assessor Assessor, prices domain.SpotPricer, alerts Alerter, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	cfg.defaults()
	base, cancel := context.WithCancel(context.Background())
	return &Monitor{
		assessor:    assessor,
		prices:      prices,
		alerts:      alerts,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "monitor")),
		now:         time.Now,
		base:        base,
		baseCancel:  cancel,
		tasks:       make(map[string]*walletTask),
		priceAlerts: make(map[string][]*domain.PriceAlert),
	}
}

// Start begins surveillance of wallet.
func (m *Monitor) Start(ctx context.Context, wallet string) error {
	if wallet == "" {
		return fmt.Errorf("monitor: start: %w: wallet is required", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base.Err() != nil {
		return fmt.Errorf("monitor: start %s: %w", wallet, context.Canceled)
	}
	if _, ok := m.tasks[wallet]; ok {
		return fmt.Errorf("monitor: start %s: %w", wallet, domain.ErrAlreadyActive)
	}

	loopCtx, cancel := context.WithCancel(m.base)
	task := &walletTask{cancel: cancel, done: make(chan struct{}), started: m.now().UTC()}
	m.tasks[wallet] = task
	metrics.ActiveMonitors.Inc()

	go m.loop(loopCtx, wallet, task.done)

	m.logger.InfoContext(ctx, "monitor: started", slog.String("wallet", wallet))
	return nil
}

// Stop cancels the wallet's loop and waits for it to exit or for ctx to
// end, whichever comes first.
func (m *Monitor) Stop(ctx context.Context, wallet string) error {
	m.mu.Lock()
	task, ok := m.tasks[wallet]
	if ok {
		delete(m.tasks, wallet)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitor: stop %s: %w", wallet, domain.ErrNotActive)
	}

	metrics.ActiveMonitors.Dec()
	task.cancel()
	select {
	case <-task.done:
	case <-ctx.Done():
		return fmt.Errorf("monitor: stop %s: %w", wallet, ctx.Err())
	}
	m.logger.InfoContext(ctx, "monitor: stopped", slog.String("wallet", wallet))
	return nil
}

// Active reports whether wallet is being monitored.
func (m *Monitor) Active(wallet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[wallet]
	return ok
}

// Shutdown stops every wallet and refuses new ones.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.baseCancel()
	tasks := m.tasks
	m.tasks = make(map[string]*walletTask)
	m.mu.Unlock()

	metrics.ActiveMonitors.Set(0)
	for wallet, task := range tasks {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
			return fmt.Errorf("monitor: shutdown waiting for %s: %w", wallet, ctx.Err())
		}
	}
	return nil
}

// Run blocks until ctx ends and then shuts the monitor down. It lets the
// supervisor sit in an errgroup beside the other services.
func (m *Monitor) Run(ctx context.Context) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Monitor) loop(ctx context.Context, wallet string, done chan struct{}) {
	defer close(done)
	state := newCycleState()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := m.cfg.Interval
		if err := m.safeCycle(ctx, wallet, state); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.recordError(ctx, wallet, err)
			wait = m.cfg.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// safeCycle runs one cycle and converts a panic into an error.
func (m *Monitor) safeCycle(ctx context.Context, wallet string, state *cycleState) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor: cycle panic: %v", r)
			metrics.MonitorCycles.WithLabelValues("panic").Inc()
			return
		}
		metrics.MonitorCycleSeconds.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.MonitorCycles.WithLabelValues(result).Inc()
	}()
	return m.cycle(ctx, wallet, state)
}

// cycle checks positions, then price alerts, then records freshness.
func (m *Monitor) cycle(ctx context.Context, wallet string, state *cycleState) error {
	a, err := m.assessor.Assess(ctx, wallet)
	if err != nil {
		return err
	}
	m.touch(&m.lastPosition)
	m.checkPositions(ctx, wallet, a, state)

	price := a.Price
	if !price.IsPositive() {
		price, err = m.prices.SpotPrice(ctx, m.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("monitor: spot price: %w", err)
		}
	}
	m.touch(&m.lastPrice)
	metrics.SpotPrice.WithLabelValues(m.cfg.Symbol).Set(price.InexactFloat64())

	m.checkPriceAlerts(ctx, wallet, price)
	return nil
}

func (m *Monitor) checkPositions(ctx context.Context, wallet string, a Assessment, state *cycleState) {
	level := m.cfg.AlertMode == AlertModeLevel

	for _, side := range domain.Sides {
		r, ok := a.Risks[side]
		high := ok && r.RiskLevel.AtLeastHigh()
		if high && (level || !state.liquidation[side]) {
			m.alerts.NotifyLiquidationRisk(ctx, wallet, r)
		}
		state.liquidation[side] = high

		p := a.Positions.Get(side)
		big := p != nil && p.PnL.Abs().GreaterThanOrEqual(m.cfg.PnLThreshold)
		if big && (level || !state.pnl[side]) {
			m.alerts.NotifyPositionUpdate(ctx, wallet, *p, false, m.cfg.PnLThreshold)
		}
		state.pnl[side] = big
	}
}

func (m *Monitor) checkPriceAlerts(ctx context.Context, wallet string, price decimal.Decimal) {
	now := m.now().UTC()
	var fired []domain.PriceAlert

	m.alertMu.Lock()
	for _, a := range m.priceAlerts[wallet] {
		if a.Triggered {
			continue
		}
		switch {
		case a.Expired(now):
			a.Triggered = true
			a.TriggeredAt = &now
		case a.Crossed(price):
			a.Triggered = true
			a.TriggeredAt = &now
			fired = append(fired, *a)
		}
	}
	m.alertMu.Unlock()

	for _, a := range fired {
		metrics.PriceAlertsFired.Inc()
		m.alerts.NotifyPriceAlert(ctx, m.cfg.Symbol, a, price)
	}
}

// AddPriceAlert registers a one-shot alert on the spot price.
func (m *Monitor) AddPriceAlert(ctx context.Context, wallet string, level decimal.Decimal, direction domain.AlertDirection, expiry *time.Time) (domain.PriceAlert, error) {
	switch {
	case wallet == "":
		return domain.PriceAlert{}, fmt.Errorf("monitor: add alert: %w: wallet is required", domain.ErrValidation)
	case !level.IsPositive():
		return domain.PriceAlert{}, fmt.Errorf("monitor: add alert: %w: price level must be positive", domain.ErrValidation)
	case !direction.Valid():
		return domain.PriceAlert{}, fmt.Errorf("monitor: add alert: %w: unknown direction %q", domain.ErrValidation, direction)
	}

	a := &domain.PriceAlert{
		ID:         id.New(),
		Wallet:     wallet,
		PriceLevel: level,
		Direction:  direction,
		CreatedAt:  m.now().UTC(),
		Expiry:     expiry,
	}
	m.alertMu.Lock()
	m.priceAlerts[wallet] = append(m.priceAlerts[wallet], a)
	m.alertMu.Unlock()

	m.logger.InfoContext(ctx, "monitor: price alert added",
		slog.String("wallet", wallet),
		slog.String("alert_id", a.ID),
		slog.String("level", level.String()),
		slog.String("direction", string(direction)),
	)
	return *a, nil
}

// RemovePriceAlert deletes an alert.
func (m *Monitor) RemovePriceAlert(wallet, alertID string) error {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	list := m.priceAlerts[wallet]
	for i, a := range list {
		if a.ID == alertID {
			m.priceAlerts[wallet] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("monitor: remove alert %s: %w", alertID, domain.ErrNotFound)
}

// PriceAlerts returns the wallet's alerts, oldest first.
func (m *Monitor) PriceAlerts(wallet string) []domain.PriceAlert {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	out := make([]domain.PriceAlert, 0, len(m.priceAlerts[wallet]))
	for _, a := range m.priceAlerts[wallet] {
		out = append(out, *a)
	}
	return out
}

func (m *Monitor) touch(field **time.Time) {
	now := m.now().UTC()
	m.healthMu.Lock()
	*field = &now
	m.healthMu.Unlock()
}

func (m *Monitor) recordError(ctx context.Context, wallet string, err error) {
	m.logger.ErrorContext(ctx, "monitor: cycle failed",
		slog.String("wallet", wallet),
		slog.String("error", err.Error()),
	)
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.recentErrors = append(m.recentErrors, domain.HealthError{
		Timestamp: m.now().UTC(),
		Wallet:    wallet,
		Message:   err.Error(),
	})
	if over := len(m.recentErrors) - m.cfg.ErrorBuffer; over > 0 {
		m.recentErrors = append(m.recentErrors[:0:0], m.recentErrors[over:]...)
	}
}

// Health reports monitoring freshness and recent errors.
func (m *Monitor) Health() domain.SystemHealth {
	m.mu.Lock()
	wallets := make([]string, 0, len(m.tasks))
	for w := range m.tasks {
		wallets = append(wallets, w)
	}
	m.mu.Unlock()
	sort.Strings(wallets)

	now := m.now()
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return domain.SystemHealth{
		PriceFeed:           m.grade(m.lastPrice, now),
		PositionMonitoring:  m.grade(m.lastPosition, now),
		ActiveMonitors:      len(wallets),
		Wallets:             wallets,
		RecentErrors:        append([]domain.HealthError{}, m.recentErrors...),
		LastPriceUpdateAt:   m.lastPrice,
		LastPositionCheckAt: m.lastPosition,
	}
}

func (m *Monitor) grade(ts *time.Time, now time.Time) domain.HealthState {
	if ts == nil || now.Sub(*ts) >= m.cfg.StaleAfter {
		return domain.HealthWarning
	}
	return domain.HealthHealthy
}
