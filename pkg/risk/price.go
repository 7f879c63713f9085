package risk

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PriceSignal compares today's gold price against yesterday's.
type PriceSignal struct {
	IsAbnormal       bool     `json:"is_abnormal"`
	DeviationPercent float64  `json:"deviation_percent"`
	YesterdayPrice   *float64 `json:"yesterday_price"`
	CurrentPrice     float64  `json:"current_price"`
	ThresholdPercent float64  `json:"threshold_percent"`
	Reason           string   `json:"reason"`
}

const noComparisonReason = "No yesterday price available for comparison"

// DetectAbnormalPrice flags a deviation strictly above thresholdPct. A
// missing or non-positive yesterday price is never abnormal.
func DetectAbnormalPrice(current float64, yesterday *float64, thresholdPct float64) PriceSignal {
	sig := PriceSignal{
		YesterdayPrice:   yesterday,
		CurrentPrice:     current,
		ThresholdPercent: thresholdPct,
	}
	if yesterday == nil || *yesterday <= 0 {
		sig.Reason = noComparisonReason
		return sig
	}

	deviation := math.Abs((current-*yesterday) / *yesterday) * 100
	sig.IsAbnormal = deviation > thresholdPct
	sig.DeviationPercent = math.Round(deviation*100) / 100

	verdict := "within"
	if sig.IsAbnormal {
		verdict = "exceeds"
	}
	sig.Reason = fmt.Sprintf("Price deviation %.2f%% %s threshold %s%%", deviation, verdict, decimal(thresholdPct))
	return sig
}

// decimal prints whole numbers with a trailing ".0" (5 -> "5.0").
func decimal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
