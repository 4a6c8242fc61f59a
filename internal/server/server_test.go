package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/perpbot/internal/cache/redis"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubMonitor struct{}

func (stubMonitor) Health() domain.SystemHealth {
	return domain.SystemHealth{PriceFeed: domain.HealthHealthy, PositionMonitoring: domain.HealthWarning}
}
func (stubMonitor) Start(context.Context, string) error    { return nil }
func (stubMonitor) Stop(context.Context, string) error     { return nil }
func (stubMonitor) Active(string) bool                     { return false }
func (stubMonitor) RemovePriceAlert(string, string) error  { return nil }
func (stubMonitor) PriceAlerts(string) []domain.PriceAlert { return nil }
func (stubMonitor) AddPriceAlert(context.Context, string, decimal.Decimal, domain.AlertDirection, *time.Time) (domain.PriceAlert, error) {
	return domain.PriceAlert{}, nil
}

type stubLedger struct{}

func (stubLedger) Create(context.Context, domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, nil
}
func (stubLedger) Cancel(context.Context, string, string) (domain.Order, error) {
	return domain.Order{}, nil
}
func (stubLedger) Pending(string) []domain.Order { return nil }
func (stubLedger) List(string) []domain.Order    { return nil }

type stubPositions struct{}

func (stubPositions) ActivePositions(context.Context, string) (domain.ActivePositions, error) {
	return domain.ActivePositions{}, nil
}
func (stubPositions) MonitorLiquidationRisks(context.Context, string) (map[domain.Side]domain.LiquidationRisk, error) {
	return nil, nil
}
func (stubPositions) CheckRiskLimits(context.Context, string, decimal.Decimal, decimal.Decimal) (domain.RiskCheck, error) {
	return domain.RiskCheck{Passed: true}, nil
}

func testHandlers() Handlers {
	l := testLogger()
	return Handlers{
		Health:        handler.NewHealthHandler(stubMonitor{}, "server", time.Now()),
		Monitor:       handler.NewMonitorHandler(stubMonitor{}, l),
		Notifications: handler.NewNotificationHandler(notify.NewHub(l)),
		Orders:        handler.NewOrderHandler(stubLedger{}, l),
		Positions:     handler.NewPositionHandler(stubPositions{}, nil, l),
	}
}

func newRedis(t *testing.T) *rediscache.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c := rediscache.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAuthProtectsAPIButNotHealth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Routes(Config{APIKey: "s3cret"}, testHandlers(), nil, nil, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/monitor/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/monitor/health", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health domain.SystemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, domain.HealthWarning, health.PositionMonitoring)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Routes(Config{}, testHandlers(), nil, nil, testLogger()))
	defer srv.Close()

	_, _ = http.Get(srv.URL + "/api/health")
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `perpbot_server_requests_total{code="200",route="GET /api/health"}`)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h := Routes(Config{CORSOrigins: []string{"https://app.example"}}, testHandlers(), nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/orders/0xabc", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	limiter := rediscache.NewRateLimiter(newRedis(t))
	h := Routes(Config{RateLimit: 2, RateWindow: time.Minute}, testHandlers(), nil, limiter, testLogger())

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestTradeRouteOnlyWithExecutor(t *testing.T) {
	t.Parallel()
	h := Routes(Config{}, testHandlers(), nil, nil, testLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trade/0xabc", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketStreamsWalletNotifications(t *testing.T) {
	t.Parallel()
	rc := newRedis(t)
	bus := rediscache.NewSignalBus(rc)
	hub := ws.NewHub(bus, ws.Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	require.Eventually(t, func() bool {
		return rc.Underlying().PubSubNumPat(ctx).Val() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(Routes(Config{}, testHandlers(), hub, nil, testLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor/0xabc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	require.Eventually(t, func() bool { return hub.Clients("0xabc") == 1 }, 2*time.Second, 10*time.Millisecond)

	// Another wallet's notification must not reach this client.
	publish := notify.BusPublisher(bus)
	require.NoError(t, publish(ctx, domain.Notification{ID: "other", Wallet: "0xdef"}))
	require.NoError(t, publish(ctx, domain.Notification{ID: "n1", Wallet: "0xabc", Type: domain.NotifyPnLAlert, Message: "hi"}))

	var frame struct {
		Type string              `json:"type"`
		Data domain.Notification `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, "n1", frame.Data.ID)
	assert.Equal(t, domain.NotifyPnLAlert, frame.Data.Type)
}
