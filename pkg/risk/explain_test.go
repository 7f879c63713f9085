package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricsWithLTV(ltv float64) Metrics {
	return Metrics{LTV: ltv, RiskLevel: TierFor(ltv), HaircutBps: 500, MaxSafeLTV: 0.80, MarginCallLTV: 0.85}
}

func TestExplain_WorkedExample(t *testing.T) {
	loan := sampleLoan()
	m := Evaluate(loan, 230, 500, baseConfig())
	hits := Explain(loan, m, baseConfig(), nil)

	assert.Equal(t, []string{"RISK_LEVEL_HIGH", CodeLTVOK, CodeHaircutApplied, CodeTenureNormal}, Codes(hits))
	assert.Equal(t, SeverityWarn, hits[0].Severity)
	assert.Equal(t, "Risk level HIGH (LTV 79.86% between 80-85%)", hits[0].Message)
	assert.Equal(t, "LTV 0.80 within safe limit 0.80.", hits[1].Message)
	assert.Equal(t, "Applied haircut 500 bps.", hits[2].Message)
	assert.Equal(t, "Tenure 90d within policy limit 180d.", hits[3].Message)
}

func TestExplain_LTVBands(t *testing.T) {
	cfg := baseConfig()
	loan := sampleLoan()

	cases := []struct {
		ltv      float64
		code     string
		severity Severity
	}{
		{0.85, CodeLTVCritical, SeverityCritical},
		{0.90, CodeLTVCritical, SeverityCritical},
		{0.8001, CodeLTVElevated, SeverityWarn},
		{0.80, CodeLTVOK, SeverityInfo},
		{0.10, CodeLTVOK, SeverityInfo},
	}
	for _, tc := range cases {
		hits := Explain(loan, metricsWithLTV(tc.ltv), cfg, nil)
		assert.Equal(t, tc.code, hits[1].Code, "ltv=%v", tc.ltv)
		assert.Equal(t, tc.severity, hits[1].Severity, "ltv=%v", tc.ltv)
	}

	hits := Explain(loan, metricsWithLTV(0.9), cfg, nil)
	assert.Equal(t, "RISK_LEVEL_VERY_HIGH", hits[0].Code)
	assert.Equal(t, SeverityCritical, hits[0].Severity)
	assert.Equal(t, "LTV 0.90 ≥ margin-call threshold 0.85.", hits[1].Message)
}

func TestExplain_VolatilityAndTenureBoundaries(t *testing.T) {
	cfg := baseConfig()
	loan := sampleLoan()
	loan.TenureDays = 180

	m := metricsWithLTV(0.5)
	vol := 0.05
	m.GoldVolatility = &vol
	hits := Explain(loan, m, cfg, nil)
	assert.Equal(t, []string{"RISK_LEVEL_VERY_LOW", CodeLTVOK, CodeHaircutApplied, CodeVolElevated, CodeTenureLong}, Codes(hits))
	assert.Equal(t, "30d volatility 5.00% ≥ policy threshold 5.00%.", hits[3].Message)
	assert.Equal(t, "Tenure 180d ≥ policy limit 180d.", hits[4].Message)

	low := 0.0312
	m.GoldVolatility = &low
	loan.TenureDays = 179
	hits = Explain(loan, m, cfg, nil)
	assert.Equal(t, CodeVolNormal, hits[3].Code)
	assert.Equal(t, "30d volatility 3.12% below policy threshold 5.00%.", hits[3].Message)
	assert.Equal(t, CodeTenureNormal, hits[4].Code)
}

func TestExplain_PriceSignal(t *testing.T) {
	cfg := baseConfig()
	yday := 90.0
	abnormal := DetectAbnormalPrice(190, &yday, 5)

	hits := Explain(sampleLoan(), metricsWithLTV(0.5), cfg, &abnormal)
	last := hits[len(hits)-1]
	assert.Equal(t, CodePriceAbnormal, last.Code)
	assert.Equal(t, SeverityCritical, last.Severity)
	assert.Equal(t, "Gold price shows abnormal deviation: Price deviation 111.11% exceeds threshold 5.0%", last.Message)

	normal := DetectAbnormalPrice(190, nil, 5)
	hits = Explain(sampleLoan(), metricsWithLTV(0.5), cfg, &normal)
	last = hits[len(hits)-1]
	assert.Equal(t, CodePriceNormal, last.Code)
	assert.Equal(t, "Gold price within normal range: No yesterday price available for comparison", last.Message)
}

func TestRuleHit_JSONShape(t *testing.T) {
	yday := 90.0
	sig := DetectAbnormalPrice(190, &yday, 5)
	hits := Explain(sampleLoan(), metricsWithLTV(0.9), baseConfig(), &sig)

	raw, err := json.Marshal(hits)
	require.NoError(t, err)

	var generic []map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, h := range generic {
		assert.ElementsMatch(t, []string{"code", "severity", "message", "details"}, keys(h))
	}
	assert.Equal(t, map[string]any{"ltv": 0.9, "margin_call_ltv": 0.85}, generic[1]["details"])
	assert.Equal(t, map[string]any{"haircut_bps": 500.0}, generic[2]["details"])
	assert.Equal(t, map[string]any{"tenure_days": 90.0, "policy_tenure_limit_days": 180.0}, generic[3]["details"])
	assert.Equal(t, map[string]any{
		"current_price":     190.0,
		"yesterday_price":   90.0,
		"deviation_percent": 111.11,
		"threshold_percent": 5.0,
	}, generic[4]["details"])
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
