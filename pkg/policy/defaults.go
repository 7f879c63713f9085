package policy

import (
	"log/slog"
	"math"
	"os"
	"strconv"
)

// Defaults are the thresholds used when no policy document overrides them.
type Defaults struct {
	JewelleryHaircutBps     int     `json:"JEWELLERY_HAIRCUT_BPS"`
	BarHaircutBps           int     `json:"BAR_HAIRCUT_BPS"`
	MaxSafeLTV              float64 `json:"MAX_SAFE_LTV"`
	MarginCallLTV           float64 `json:"MARGIN_CALL_LTV"`
	VolWindowDays           int     `json:"VOL_WINDOW"`
	VolThreshold            float64 `json:"VOL_THRESHOLD"`
	TenureLimitDays         int     `json:"TENURE_LIMIT_DAYS"`
	PriceDeviationThreshold float64 `json:"PRICE_DEVIATION_THRESHOLD"`
}

// BaseDefaults returns the compiled-in defaults.
func BaseDefaults() Defaults {
	return Defaults{
		JewelleryHaircutBps:     500,
		BarHaircutBps:           100,
		MaxSafeLTV:              0.80,
		MarginCallLTV:           0.85,
		VolWindowDays:           30,
		VolThreshold:            0.05,
		TenureLimitDays:         180,
		PriceDeviationThreshold: 5.0,
	}
}

// DefaultsFromEnv starts from BaseDefaults and applies any environment
// variable named after a key (JEWELLERY_HAIRCUT_BPS, VOL_WINDOW, ...).
// Unparseable or out-of-range values are logged and ignored: haircuts must
// be >= 0, everything else > 0.
func DefaultsFromEnv() Defaults {
	d := BaseDefaults()
	envInt("JEWELLERY_HAIRCUT_BPS", &d.JewelleryHaircutBps, true)
	envInt("BAR_HAIRCUT_BPS", &d.BarHaircutBps, true)
	envFloat("MAX_SAFE_LTV", &d.MaxSafeLTV)
	envFloat("MARGIN_CALL_LTV", &d.MarginCallLTV)
	envInt("VOL_WINDOW", &d.VolWindowDays, false)
	envFloat("VOL_THRESHOLD", &d.VolThreshold)
	envInt("TENURE_LIMIT_DAYS", &d.TenureLimitDays, false)
	envFloat("PRICE_DEVIATION_THRESHOLD", &d.PriceDeviationThreshold)
	return d
}

// sanitized replaces every out-of-range field with the compiled-in value.
func (d Defaults) sanitized() Defaults {
	base := BaseDefaults()
	keepInt := func(key string, v *int, fallback int, zeroOK bool) {
		if *v < 0 || (*v == 0 && !zeroOK) {
			slog.Warn("policy default rejected: out of range", "key", key, "value", *v, "default", fallback)
			*v = fallback
		}
	}
	keepFloat := func(key string, v *float64, fallback float64) {
		if !positive(*v) {
			slog.Warn("policy default rejected: must be positive", "key", key, "value", *v, "default", fallback)
			*v = fallback
		}
	}
	keepInt(KeyJewelleryHaircutBps, &d.JewelleryHaircutBps, base.JewelleryHaircutBps, true)
	keepInt(KeyBarHaircutBps, &d.BarHaircutBps, base.BarHaircutBps, true)
	keepInt("VOL_WINDOW", &d.VolWindowDays, base.VolWindowDays, false)
	keepInt(KeyTenureLimitDays, &d.TenureLimitDays, base.TenureLimitDays, false)
	keepFloat(KeyMaxSafeLTV, &d.MaxSafeLTV, base.MaxSafeLTV)
	keepFloat(KeyMarginCallLTV, &d.MarginCallLTV, base.MarginCallLTV)
	keepFloat(KeyVolThreshold, &d.VolThreshold, base.VolThreshold)
	keepFloat(KeyPriceDeviationThreshold, &d.PriceDeviationThreshold, base.PriceDeviationThreshold)
	return d
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

func envInt(key string, dst *int, zeroOK bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid policy default", "key", key, "value", v, "error", err)
		return
	}
	if n < 0 || (n == 0 && !zeroOK) {
		slog.Warn("ignoring out-of-range policy default", "key", key, "value", v)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid policy default", "key", key, "value", v, "error", err)
		return
	}
	if !positive(f) {
		slog.Warn("ignoring out-of-range policy default", "key", key, "value", v)
		return
	}
	*dst = f
}
