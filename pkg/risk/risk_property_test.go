//go:build property
// +build property

package risk

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: haircut factor stays in [0,1] and LTV is positive.
func TestEvaluateBounds(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	cfg := baseConfig()

	properties.Property("bounded factors", prop.ForAll(
		func(principal, weight, price float64, purity, bps int) bool {
			loan := Loan{PrincipalMYR: principal, GoldWeightG: weight, Purity: purity, TenureDays: 30}
			m := Evaluate(loan, price, bps, cfg)
			return m.HaircutFactor >= 0 && m.HaircutFactor <= 1 && m.LTV > 0
		},
		gen.Float64Range(0.01, 1e7),
		gen.Float64Range(0.01, 1e4),
		gen.Float64Range(1, 2000),
		gen.IntRange(500, 999),
		gen.IntRange(0, 20_000),
	))

	properties.TestingRun(t)
}

// Property: a higher LTV never maps to a lower tier.
func TestTierMonotonic(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	rank := map[Tier]int{TierVeryLow: 0, TierLow: 1, TierMedium: 2, TierHigh: 3, TierVeryHigh: 4}

	properties.Property("monotonic", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return rank[TierFor(a)] <= rank[TierFor(b)]
		},
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 2),
	))

	// Exactly one tier hit and one LTV hit per explanation.
	properties.Property("one hit per category", prop.ForAll(
		func(ltv float64) bool {
			hits := Explain(sampleLoan(), metricsWithLTV(ltv), baseConfig(), nil)
			ltvHits := 0
			for _, h := range hits {
				switch h.Code {
				case CodeLTVOK, CodeLTVElevated, CodeLTVCritical:
					ltvHits++
				}
			}
			return ltvHits == 1 && hits[0].Code == "RISK_LEVEL_"+string(TierFor(ltv))
		},
		gen.Float64Range(0, 2),
	))

	properties.TestingRun(t)
}
