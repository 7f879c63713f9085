package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMetalPriceURL = "https://api.metalpriceapi.com/v1/latest"
	DefaultFastForexURL  = "https://api.fastforex.io/fetch-one"
	DefaultQuoteTimeout  = 10 * time.Second

	yesterdayPath = "/api/v1/gold-price/yesterday"
	maxQuoteBody  = 1 << 20
)

// HTTPQuoterConfig configures the live quote sources.
type HTTPQuoterConfig struct {
	MetalPriceKey string
	FastForexKey  string

	// APIBase serves yesterday's price; APIKey is sent as a bearer token.
	APIBase string
	APIKey  string

	MetalPriceURL string
	FastForexURL  string
	Timeout       time.Duration
	Limiter       *rate.Limiter
	Client        *http.Client
	Logger        *slog.Logger
}

// HTTPQuoter fetches quotes from metalpriceapi, fastforex and the backend.
// All calls share one rate limiter.
type HTTPQuoter struct {
	cfg     HTTPQuoterConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewHTTPQuoter(cfg HTTPQuoterConfig) *HTTPQuoter {
	if cfg.MetalPriceURL == "" {
		cfg.MetalPriceURL = DefaultMetalPriceURL
	}
	if cfg.FastForexURL == "" {
		cfg.FastForexURL = DefaultFastForexURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQuoteTimeout
	}
	q := &HTTPQuoter{
		cfg:     cfg,
		client:  cfg.Client,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
	if q.client == nil {
		q.client = &http.Client{}
	}
	if q.limiter == nil {
		q.limiter = rate.NewLimiter(rate.Limit(2), 4)
	}
	if q.logger == nil {
		q.logger = slog.Default().With("component", "market")
	}
	return q
}

// GoldUSDPerOz returns the spot price as 1 / rates.XAU.
func (q *HTTPQuoter) GoldUSDPerOz(ctx context.Context) (float64, error) {
	if q.cfg.MetalPriceKey == "" {
		return 0, fmt.Errorf("%w: metal price api key not configured", ErrUnavailable)
	}
	u := q.cfg.MetalPriceURL + "?" + url.Values{
		"api_key":    {q.cfg.MetalPriceKey},
		"base":       {"USD"},
		"currencies": {"XAU"},
	}.Encode()

	var resp struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := q.getJSON(ctx, u, nil, &resp); err != nil {
		return 0, fmt.Errorf("market: gold price: %w", err)
	}
	xau := resp.Rates["XAU"]
	if xau <= 0 {
		return 0, fmt.Errorf("market: gold price: invalid XAU rate %v", xau)
	}
	return 1 / xau, nil
}

func (q *HTTPQuoter) FXRate(ctx context.Context, pair string) (float64, error) {
	base, quote, ok := splitPair(pair)
	if !ok {
		return 0, fmt.Errorf("market: invalid pair %q", pair)
	}
	if q.cfg.FastForexKey == "" {
		return 0, fmt.Errorf("%w: fx api key not configured", ErrUnavailable)
	}
	u := q.cfg.FastForexURL + "?" + url.Values{
		"from":    {base},
		"to":      {quote},
		"api_key": {q.cfg.FastForexKey},
	}.Encode()

	var resp struct {
		Result map[string]float64 `json:"result"`
	}
	if err := q.getJSON(ctx, u, nil, &resp); err != nil {
		return 0, fmt.Errorf("market: fx %s: %w", pair, err)
	}
	r, ok := resp.Result[quote]
	if !ok || r <= 0 {
		return 0, fmt.Errorf("market: fx %s: no rate in response", pair)
	}
	return r, nil
}

func (q *HTTPQuoter) GoldPriceMYRPerGram(ctx context.Context) (float64, error) {
	usd, err := q.GoldUSDPerOz(ctx)
	if err != nil {
		return 0, err
	}
	fx, err := q.FXRate(ctx, "USD/MYR")
	if err != nil {
		return 0, err
	}
	return MYRPerGram(usd, fx), nil
}

func (q *HTTPQuoter) YesterdayGoldPriceMYRPerGram(ctx context.Context) (*float64, error) {
	if q.cfg.APIBase == "" {
		return nil, nil
	}
	var headers http.Header
	if q.cfg.APIKey != "" {
		headers = http.Header{"Authorization": {"Bearer " + q.cfg.APIKey}}
	}
	var resp struct {
		Success bool `json:"success"`
		Data    *struct {
			PricePerGramMyr float64 `json:"pricePerGramMyr"`
		} `json:"data"`
	}
	u := strings.TrimRight(q.cfg.APIBase, "/") + yesterdayPath
	if err := q.getJSON(ctx, u, headers, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusUnauthorized {
			q.logger.WarnContext(ctx, "yesterday price requires authentication; set SILSILAT_API_KEY")
		}
		return nil, fmt.Errorf("market: yesterday price: %w", err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, nil
	}
	p := round2(resp.Data.PricePerGramMyr)
	return &p, nil
}

// Volatility has no live source.
func (q *HTTPQuoter) Volatility(context.Context, string, int) (float64, error) {
	return 0, fmt.Errorf("%w: no volatility source", ErrUnavailable)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

func (q *HTTPQuoter) getJSON(ctx context.Context, rawURL string, headers http.Header, out any) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
