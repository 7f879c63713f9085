package risk

import (
	"fmt"

	"github.com/silsilat/gold-evaluator/pkg/policy"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rule codes other than the per-tier RISK_LEVEL_<TIER>.
const (
	CodeLTVCritical    = "LTV_CRITICAL"
	CodeLTVElevated    = "LTV_ELEVATED"
	CodeLTVOK          = "LTV_OK"
	CodeHaircutApplied = "HAIRCUT_APPLIED"
	CodeVolElevated    = "VOL_ELEVATED"
	CodeVolNormal      = "VOL_NORMAL"
	CodeTenureLong     = "TENURE_LONG"
	CodeTenureNormal   = "TENURE_NORMAL"
	CodePriceAbnormal  = "PRICE_ABNORMAL"
	CodePriceNormal    = "PRICE_NORMAL"
)

// Details is implemented only by the detail types in this package.
type Details interface {
	isDetails()
}

type RiskLevelDetails struct {
	LTV       float64 `json:"ltv"`
	RiskLevel Tier    `json:"risk_level"`
}

// LTVDetails carries the one threshold the LTV was compared against.
type LTVDetails struct {
	LTV           float64 `json:"ltv"`
	MarginCallLTV float64 `json:"margin_call_ltv,omitempty"`
	MaxSafeLTV    float64 `json:"max_safe_ltv,omitempty"`
}

type HaircutDetails struct {
	HaircutBps int `json:"haircut_bps"`
}

type VolatilityDetails struct {
	Volatility30d      float64 `json:"volatility_30d"`
	PolicyVolThreshold float64 `json:"policy_vol_threshold"`
}

type TenureDetails struct {
	TenureDays            int `json:"tenure_days"`
	PolicyTenureLimitDays int `json:"policy_tenure_limit_days"`
}

type PriceDetails struct {
	CurrentPrice     float64  `json:"current_price"`
	YesterdayPrice   *float64 `json:"yesterday_price"`
	DeviationPercent float64  `json:"deviation_percent"`
	ThresholdPercent float64  `json:"threshold_percent"`
}

func (RiskLevelDetails) isDetails()  {}
func (LTVDetails) isDetails()        {}
func (HaircutDetails) isDetails()    {}
func (VolatilityDetails) isDetails() {}
func (TenureDetails) isDetails()     {}
func (PriceDetails) isDetails()      {}

// RuleHit is one explanation line.
type RuleHit struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Details  Details  `json:"details"`
}

var tierSeverity = map[Tier]Severity{
	TierVeryLow:  SeverityInfo,
	TierLow:      SeverityInfo,
	TierMedium:   SeverityWarn,
	TierHigh:     SeverityWarn,
	TierVeryHigh: SeverityCritical,
}

var tierBand = map[Tier]string{
	TierVeryLow:  "< 60%",
	TierLow:      "between 61-69%",
	TierMedium:   "between 70-79%",
	TierHigh:     "between 80-85%",
	TierVeryHigh: "> 85%",
}

// Explain derives the rule hits for an evaluation, always in this order:
// risk level, LTV, haircut, volatility (when known), tenure, price (when a
// signal is given). Thresholds compared with >= put the boundary on the
// elevated side.
func Explain(loan Loan, m Metrics, cfg policy.EffectiveConfig, signal *PriceSignal) []RuleHit {
	hits := make([]RuleHit, 0, 6)

	hits = append(hits, RuleHit{
		Code:     "RISK_LEVEL_" + string(m.RiskLevel),
		Severity: tierSeverity[m.RiskLevel],
		Message:  fmt.Sprintf("Risk level %s (LTV %s %s)", m.RiskLevel, percent(m.LTV), tierBand[m.RiskLevel]),
		Details:  RiskLevelDetails{LTV: m.LTV, RiskLevel: m.RiskLevel},
	})

	switch {
	case m.LTV >= m.MarginCallLTV:
		hits = append(hits, RuleHit{
			Code:     CodeLTVCritical,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("LTV %.2f ≥ margin-call threshold %.2f.", m.LTV, m.MarginCallLTV),
			Details:  LTVDetails{LTV: m.LTV, MarginCallLTV: m.MarginCallLTV},
		})
	case m.LTV > m.MaxSafeLTV:
		hits = append(hits, RuleHit{
			Code:     CodeLTVElevated,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("LTV %.2f above safe limit %.2f.", m.LTV, m.MaxSafeLTV),
			Details:  LTVDetails{LTV: m.LTV, MaxSafeLTV: m.MaxSafeLTV},
		})
	default:
		hits = append(hits, RuleHit{
			Code:     CodeLTVOK,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("LTV %.2f within safe limit %.2f.", m.LTV, m.MaxSafeLTV),
			Details:  LTVDetails{LTV: m.LTV, MaxSafeLTV: m.MaxSafeLTV},
		})
	}

	hits = append(hits, RuleHit{
		Code:     CodeHaircutApplied,
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("Applied haircut %d bps.", m.HaircutBps),
		Details:  HaircutDetails{HaircutBps: m.HaircutBps},
	})

	if m.GoldVolatility != nil {
		vol, threshold := *m.GoldVolatility, cfg.VolThreshold()
		details := VolatilityDetails{Volatility30d: vol, PolicyVolThreshold: threshold}
		if vol >= threshold {
			hits = append(hits, RuleHit{
				Code:     CodeVolElevated,
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("30d volatility %s ≥ policy threshold %s.", percent(vol), percent(threshold)),
				Details:  details,
			})
		} else {
			hits = append(hits, RuleHit{
				Code:     CodeVolNormal,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("30d volatility %s below policy threshold %s.", percent(vol), percent(threshold)),
				Details:  details,
			})
		}
	}

	limit := cfg.TenureLimitDays()
	tenure := TenureDetails{TenureDays: loan.TenureDays, PolicyTenureLimitDays: limit}
	if loan.TenureDays >= limit {
		hits = append(hits, RuleHit{
			Code:     CodeTenureLong,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("Tenure %dd ≥ policy limit %dd.", loan.TenureDays, limit),
			Details:  tenure,
		})
	} else {
		hits = append(hits, RuleHit{
			Code:     CodeTenureNormal,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Tenure %dd within policy limit %dd.", loan.TenureDays, limit),
			Details:  tenure,
		})
	}

	if signal != nil {
		details := PriceDetails{
			CurrentPrice:     signal.CurrentPrice,
			YesterdayPrice:   signal.YesterdayPrice,
			DeviationPercent: signal.DeviationPercent,
			ThresholdPercent: signal.ThresholdPercent,
		}
		if signal.IsAbnormal {
			hits = append(hits, RuleHit{
				Code:     CodePriceAbnormal,
				Severity: SeverityCritical,
				Message:  "Gold price shows abnormal deviation: " + signal.Reason,
				Details:  details,
			})
		} else {
			hits = append(hits, RuleHit{
				Code:     CodePriceNormal,
				Severity: SeverityInfo,
				Message:  "Gold price within normal range: " + signal.Reason,
				Details:  details,
			})
		}
	}
	return hits
}

// Codes lists the codes of hits in order.
func Codes(hits []RuleHit) []string {
	codes := make([]string, len(hits))
	for i, h := range hits {
		codes[i] = h.Code
	}
	return codes
}

func percent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}
