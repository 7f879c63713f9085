package risk

import (
	"github.com/silsilat/gold-evaluator/pkg/policy"
)

// Tier is the descriptive LTV classification. Its boundaries are fixed and
// independent of the policy's safe and margin-call thresholds.
type Tier string

const (
	TierVeryLow  Tier = "VERY_LOW"
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierVeryHigh Tier = "VERY_HIGH"
)

// minCollateral guards the LTV division.
const minCollateral = 1e-9

// TierFor buckets ltv: <0.60, <=0.69, <=0.79, <=0.85, above.
func TierFor(ltv float64) Tier {
	switch {
	case ltv < 0.60:
		return TierVeryLow
	case ltv <= 0.69:
		return TierLow
	case ltv <= 0.79:
		return TierMedium
	case ltv <= 0.85:
		return TierHigh
	default:
		return TierVeryHigh
	}
}

// Metrics is the outcome of one evaluation. Optional market figures are nil
// when they could not be obtained.
type Metrics struct {
	GoldPriceMYRPerG   float64  `json:"gold_price_myr_per_g"`
	PurityFactor       float64  `json:"purity_factor"`
	HaircutBps         int      `json:"haircut_bps"`
	HaircutFactor      float64  `json:"haircut_factor"`
	CollateralValueMYR float64  `json:"collateral_value_myr"`
	PrincipalMYR       float64  `json:"principal_myr"`
	LTV                float64  `json:"ltv"`
	RiskLevel          Tier     `json:"risk_level"`
	MaxSafeLTV         float64  `json:"max_safe_ltv"`
	MarginCallLTV      float64  `json:"margin_call_ltv"`
	VolWindowDays      int      `json:"vol_window_days"`
	GoldVolatility     *float64 `json:"gold_volatility"`
	FXUSDMYR           *float64 `json:"fx_usd_myr"`
	ShopRating         *string  `json:"shop_rating"`
}

// Option attaches optional market figures to Metrics.
type Option func(*Metrics)

func WithVolatility(v float64) Option {
	return func(m *Metrics) { m.GoldVolatility = &v }
}

func WithFXRate(fx float64) Option {
	return func(m *Metrics) { m.FXUSDMYR = &fx }
}

func WithShopRating(r string) Option {
	return func(m *Metrics) { m.ShopRating = &r }
}

// HaircutFor returns the haircut configured for the collateral type.
func HaircutFor(t CollateralType, cfg policy.EffectiveConfig) int {
	if t == CollateralBar {
		return cfg.BarHaircutBps()
	}
	return cfg.JewelleryHaircutBps()
}

// Evaluate computes collateral value, LTV and tier. It is pure: the same
// inputs always give the same metrics.
func Evaluate(loan Loan, pricePerGram float64, haircutBps int, cfg policy.EffectiveConfig, opts ...Option) Metrics {
	purityFactor := float64(loan.Purity) / 999.0
	haircutFactor := max(0, 1-float64(haircutBps)/10_000)

	collateral := loan.GoldWeightG * purityFactor * pricePerGram * haircutFactor
	ltv := loan.PrincipalMYR / max(collateral, minCollateral)

	m := Metrics{
		GoldPriceMYRPerG:   pricePerGram,
		PurityFactor:       purityFactor,
		HaircutBps:         haircutBps,
		HaircutFactor:      haircutFactor,
		CollateralValueMYR: collateral,
		PrincipalMYR:       loan.PrincipalMYR,
		LTV:                ltv,
		RiskLevel:          TierFor(ltv),
		MaxSafeLTV:         cfg.MaxSafeLTV(),
		MarginCallLTV:      cfg.MarginCallLTV(),
		VolWindowDays:      cfg.VolWindowDays(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
