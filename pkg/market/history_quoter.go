package market

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// HistoryQuoter records every live price it sees and answers yesterday's
// price and realised volatility from the history before asking the inner
// quoter.
type HistoryQuoter struct {
	inner   Quoter
	history PriceHistory
	clock   func() time.Time
	logger  *slog.Logger
}

func NewHistoryQuoter(inner Quoter, history PriceHistory) *HistoryQuoter {
	return &HistoryQuoter{
		inner:   inner,
		history: history,
		clock:   time.Now,
		logger:  slog.Default().With("component", "market.history"),
	}
}

// WithClock overrides the time source.
func (q *HistoryQuoter) WithClock(clock func() time.Time) *HistoryQuoter {
	q.clock = clock
	return q
}

func (q *HistoryQuoter) GoldPriceMYRPerGram(ctx context.Context) (float64, error) {
	price, err := q.inner.GoldPriceMYRPerGram(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.history.Record(ctx, q.clock(), price); err != nil {
		q.logger.WarnContext(ctx, "failed to record gold price", "error", err)
	}
	return price, nil
}

func (q *HistoryQuoter) YesterdayGoldPriceMYRPerGram(ctx context.Context) (*float64, error) {
	p, err := q.history.Yesterday(ctx, q.clock())
	if err != nil {
		q.logger.WarnContext(ctx, "price history lookup failed", "error", err)
	}
	if p != nil {
		return p, nil
	}
	return q.inner.YesterdayGoldPriceMYRPerGram(ctx)
}

// Volatility is the sample standard deviation of simple daily returns over
// the window. With fewer than two returns the inner quoter answers.
func (q *HistoryQuoter) Volatility(ctx context.Context, symbol string, windowDays int) (float64, error) {
	now := q.clock()
	points, err := q.history.Range(ctx, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		q.logger.WarnContext(ctx, "price history range failed", "error", err)
	}
	if vol, ok := realisedVolatility(points); ok {
		return vol, nil
	}
	return q.inner.Volatility(ctx, symbol, windowDays)
}

func (q *HistoryQuoter) FXRate(ctx context.Context, pair string) (float64, error) {
	return q.inner.FXRate(ctx, pair)
}

func realisedVolatility(points []Point) (float64, bool) {
	returns := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Price
		if prev <= 0 {
			continue
		}
		returns = append(returns, points[i].Price/prev-1)
	}
	if len(returns) < 2 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(returns)-1)), true
}
