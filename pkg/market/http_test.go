package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestQuoter(t *testing.T, handler http.HandlerFunc) *HTTPQuoter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPQuoter(HTTPQuoterConfig{
		MetalPriceKey: "metal-key",
		FastForexKey:  "fx-key",
		APIBase:       srv.URL,
		APIKey:        "backend-key",
		MetalPriceURL: srv.URL + "/v1/latest",
		FastForexURL:  srv.URL + "/fetch-one",
		Limiter:       rate.NewLimiter(rate.Inf, 1),
	})
}

func TestHTTPQuoter_GoldPrice(t *testing.T) {
	q := newTestQuoter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/latest":
			assert.Equal(t, "metal-key", r.URL.Query().Get("api_key"))
			assert.Equal(t, "USD", r.URL.Query().Get("base"))
			assert.Equal(t, "XAU", r.URL.Query().Get("currencies"))
			_, _ = w.Write([]byte(`{"success":true,"base":"USD","rates":{"XAU":0.0004}}`))
		case "/fetch-one":
			assert.Equal(t, "USD", r.URL.Query().Get("from"))
			assert.Equal(t, "MYR", r.URL.Query().Get("to"))
			assert.Equal(t, "fx-key", r.URL.Query().Get("api_key"))
			_, _ = w.Write([]byte(`{"base":"USD","result":{"MYR":4.45}}`))
		default:
			http.NotFound(w, r)
		}
	})

	usd, err := q.GoldUSDPerOz(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2500.0, usd, 1e-9)

	price, err := q.GoldPriceMYRPerGram(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MYRPerGram(2500, 4.45), price)
}

func TestHTTPQuoter_BadResponses(t *testing.T) {
	q := newTestQuoter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/latest":
			_, _ = w.Write([]byte(`{"rates":{"XAU":0}}`))
		case "/fetch-one":
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	_, err := q.GoldUSDPerOz(context.Background())
	assert.ErrorContains(t, err, "invalid XAU rate")

	_, err = q.FXRate(context.Background(), "USD/MYR")
	assert.ErrorContains(t, err, "HTTP 502")

	_, err = q.FXRate(context.Background(), "USDMYR")
	assert.Error(t, err)
}

func TestHTTPQuoter_MissingKeys(t *testing.T) {
	q := NewHTTPQuoter(HTTPQuoterConfig{})
	_, err := q.GoldPriceMYRPerGram(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = q.FXRate(context.Background(), "USD/MYR")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = q.Volatility(context.Background(), "XAU/MYR", 30)
	assert.ErrorIs(t, err, ErrUnavailable)

	y, err := q.YesterdayGoldPriceMYRPerGram(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, y)
}

func TestHTTPQuoter_Yesterday(t *testing.T) {
	q := newTestQuoter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/gold-price/yesterday", r.URL.Path)
		assert.Equal(t, "Bearer backend-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"pricePerGramMyr":412.456}}`))
	})
	y, err := q.YesterdayGoldPriceMYRPerGram(context.Background())
	require.NoError(t, err)
	require.NotNil(t, y)
	assert.Equal(t, 412.46, *y)
}

func TestHTTPQuoter_YesterdayUnavailable(t *testing.T) {
	q := newTestQuoter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	})
	y, err := q.YesterdayGoldPriceMYRPerGram(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, y)

	q = newTestQuoter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	y, err = q.YesterdayGoldPriceMYRPerGram(context.Background())
	assert.ErrorContains(t, err, "HTTP 401")
	assert.Nil(t, y)
}

func TestHTTPQuoter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	q := NewHTTPQuoter(HTTPQuoterConfig{
		FastForexKey: "k",
		FastForexURL: srv.URL,
		Timeout:      50 * time.Millisecond,
	})
	start := time.Now()
	_, err := q.FXRate(context.Background(), "USD/MYR")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
