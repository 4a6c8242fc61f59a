// Package coingecko is the upstream spot price source.
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

const (
	PublicURL = "https://api.coingecko.com/api/v3"
	ProURL    = "https://pro-api.coingecko.com/api/v3"

	vsCurrency = "usd"
)

// CoinIDs maps supported symbols to CoinGecko coin ids.
var CoinIDs = map[string]string{
	domain.SymbolAVAX: "avalanche-2",
	domain.SymbolUSDC: "usd-coin",
}

// Config holds API settings.
type Config struct {
	BaseURL string
	APIKey  string
	// RequestsPerMinute caps outbound calls. The public tier allows about 30.
	RequestsPerMinute int
	MaxAttempts       uint
	RetryInitial      time.Duration
	Timeout           time.Duration
}

// Client implements domain.PriceSource against the CoinGecko REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	retryInit  time.Duration
	logger     *slog.Logger
}

// New creates a Client. An API key selects the pro endpoint unless BaseURL
// is set explicitly.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PublicURL
		if cfg.APIKey != "" {
			cfg.BaseURL = ProURL
		}
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 5),
		attempts:   cfg.MaxAttempts,
		retryInit:  cfg.RetryInitial,
		logger:     logger.With(slog.String("component", "coingecko")),
	}
}

func coinID(symbol string) (string, error) {
	id, ok := CoinIDs[strings.ToUpper(symbol)]
	if !ok {
		return "", fmt.Errorf("coingecko: %s: %w", symbol, domain.ErrUnsupportedToken)
	}
	return id, nil
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// get fetches path into out, waiting on the rate limiter and retrying
// throttled and server-side failures.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInit
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Cg-Pro-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return nil, &statusError{code: resp.StatusCode, body: string(b)}
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(&statusError{code: resp.StatusCode, body: string(b)})
		}
		return b, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.attempts))
	if err != nil {
		var serr *statusError
		switch {
		case errors.As(err, &serr) && serr.code == http.StatusTooManyRequests:
			return fmt.Errorf("coingecko: %s: %w", path, domain.ErrRateLimited)
		case errors.As(err, &serr) && (serr.code == http.StatusUnauthorized || serr.code == http.StatusForbidden):
			return fmt.Errorf("coingecko: %s: %v: %w", path, err, domain.ErrUnauthorized)
		}
		return fmt.Errorf("coingecko: %s: %v: %w", path, err, domain.ErrPriceUnavailable)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("coingecko: decode %s: %v: %w", path, err, domain.ErrPriceUnavailable)
	}
	return nil
}

// SpotPrice returns the current USD price of symbol.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id, err := coinID(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	var resp map[string]map[string]decimal.NullDecimal
	if err := c.get(ctx, "/simple/price", url.Values{"ids": {id}, "vs_currencies": {vsCurrency}}, &resp); err != nil {
		return decimal.Zero, err
	}
	p, ok := resp[id][vsCurrency]
	if !ok || !p.Valid || !p.Decimal.IsPositive() {
		return decimal.Zero, fmt.Errorf("coingecko: no %s price for %s: %w", vsCurrency, symbol, domain.ErrPriceUnavailable)
	}
	metrics.SpotPrice.WithLabelValues(strings.ToUpper(symbol)).Set(p.Decimal.InexactFloat64())
	return p.Decimal, nil
}

type marketChart struct {
	Prices [][]decimal.Decimal `json:"prices"`
}

// PriceHistory returns hourly samples for up to a week and daily samples
// beyond that.
func (c *Client) PriceHistory(ctx context.Context, symbol string, days int) ([]domain.PricePoint, error) {
	id, err := coinID(symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 1
	}
	params := url.Values{
		"vs_currency": {vsCurrency},
		"days":        {strconv.Itoa(days)},
	}
	if days > 7 {
		params.Set("interval", "daily")
	}

	var chart marketChart
	if err := c.get(ctx, "/coins/"+id+"/market_chart", params, &chart); err != nil {
		return nil, err
	}
	out := make([]domain.PricePoint, 0, len(chart.Prices))
	for _, row := range chart.Prices {
		if len(row) != 2 {
			continue
		}
		out = append(out, domain.PricePoint{
			Timestamp: time.UnixMilli(row[0].IntPart()).UTC(),
			Price:     row[1],
		})
	}
	return out, nil
}

type usdValue struct {
	USD decimal.NullDecimal `json:"usd"`
}

type coinResponse struct {
	MarketData struct {
		CurrentPrice          usdValue            `json:"current_price"`
		PriceChangePercent24h decimal.NullDecimal `json:"price_change_percentage_24h"`
		TotalVolume           usdValue            `json:"total_volume"`
		High24h               usdValue            `json:"high_24h"`
		Low24h                usdValue            `json:"low_24h"`
		LastUpdated           time.Time           `json:"last_updated"`
	} `json:"market_data"`
}

// MarketData returns the 24h summary for symbol.
func (c *Client) MarketData(ctx context.Context, symbol string) (domain.MarketData, error) {
	id, err := coinID(symbol)
	if err != nil {
		return domain.MarketData{}, err
	}
	params := url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"community_data": {"false"},
		"developer_data": {"false"},
	}
	var resp coinResponse
	if err := c.get(ctx, "/coins/"+id, params, &resp); err != nil {
		return domain.MarketData{}, err
	}
	md := resp.MarketData
	if !md.CurrentPrice.USD.Valid {
		return domain.MarketData{}, fmt.Errorf("coingecko: no market data for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	updated := md.LastUpdated.UTC()
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return domain.MarketData{
		Symbol:         strings.ToUpper(symbol),
		CurrentPrice:   md.CurrentPrice.USD.Decimal,
		PriceChange24h: md.PriceChangePercent24h.Decimal,
		Volume24h:      md.TotalVolume.USD.Decimal,
		High24h:        md.High24h.USD.Decimal,
		Low24h:         md.Low24h.USD.Decimal,
		LastUpdated:    updated,
	}, nil
}

var _ domain.PriceSource = (*Client)(nil)
