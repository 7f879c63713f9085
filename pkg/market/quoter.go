// Package market provides the gold price, FX and volatility figures an
// evaluation consumes. Every source is a single blocking call with its own
// timeout; callers decide what to do when one fails.
package market

import (
	"context"
	"errors"
	"math"
	"strings"
)

// TroyOunceGrams converts per-ounce quotes to per-gram.
const TroyOunceGrams = 31.1034768

// Fallback figures used when no live source is configured.
const (
	FallbackGoldUSDPerOz     = 592.48
	FallbackUSDMYR           = 4.70
	FallbackVolatility       = 0.03
	FallbackYesterdayMYRPerG = 90.00
)

// ErrUnavailable is returned when a source has no answer.
var ErrUnavailable = errors.New("market: quote unavailable")

// Quoter is the quote oracle.
type Quoter interface {
	GoldPriceMYRPerGram(ctx context.Context) (float64, error)
	// YesterdayGoldPriceMYRPerGram returns nil when there is no price to
	// compare against.
	YesterdayGoldPriceMYRPerGram(ctx context.Context) (*float64, error)
	Volatility(ctx context.Context, symbol string, windowDays int) (float64, error)
	FXRate(ctx context.Context, pair string) (float64, error)
}

// MYRPerGram converts a USD/oz quote with a USD/MYR rate, rounded to sen.
func MYRPerGram(usdPerOz, usdMYR float64) float64 {
	return round2(usdPerOz * usdMYR / TroyOunceGrams)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// splitPair parses "USD/MYR".
func splitPair(pair string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return strings.ToUpper(base), strings.ToUpper(quote), true
}

// StaticQuoter answers every call with fixed figures.
type StaticQuoter struct {
	USDPerOz  float64
	USDMYR    float64
	Vol       float64
	Yesterday *float64
}

// NewStaticQuoter returns a quoter primed with the fallback figures.
func NewStaticQuoter() *StaticQuoter {
	y := FallbackYesterdayMYRPerG
	return &StaticQuoter{
		USDPerOz:  FallbackGoldUSDPerOz,
		USDMYR:    FallbackUSDMYR,
		Vol:       FallbackVolatility,
		Yesterday: &y,
	}
}

func (s *StaticQuoter) GoldPriceMYRPerGram(context.Context) (float64, error) {
	return MYRPerGram(s.USDPerOz, s.USDMYR), nil
}

func (s *StaticQuoter) YesterdayGoldPriceMYRPerGram(context.Context) (*float64, error) {
	if s.Yesterday == nil {
		return nil, nil
	}
	y := *s.Yesterday
	return &y, nil
}

func (s *StaticQuoter) Volatility(context.Context, string, int) (float64, error) {
	return s.Vol, nil
}

func (s *StaticQuoter) FXRate(_ context.Context, pair string) (float64, error) {
	base, quote, ok := splitPair(pair)
	if !ok || base != "USD" || quote != "MYR" {
		return 0, ErrUnavailable
	}
	return s.USDMYR, nil
}
