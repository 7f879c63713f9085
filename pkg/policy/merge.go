package policy

import (
	"encoding/json"
	"log/slog"
	"math"
)

// EffectiveConfig is the result of merging a policy document over the
// defaults. It cannot be modified after Merge returns.
type EffectiveConfig struct {
	jewelleryHaircutBps     int
	barHaircutBps           int
	maxSafeLTV              float64
	marginCallLTV           float64
	volWindowDays           int
	volThreshold            float64
	tenureLimitDays         int
	priceDeviationThreshold float64

	policyID      string
	policyVersion string
	policyHash    string
	hasPolicy     bool
}

func (c EffectiveConfig) JewelleryHaircutBps() int { return c.jewelleryHaircutBps }
func (c EffectiveConfig) BarHaircutBps() int { return c.barHaircutBps }
func (c EffectiveConfig) MaxSafeLTV() float64 { return c.maxSafeLTV }
func (c EffectiveConfig) MarginCallLTV() float64 { return c.marginCallLTV }
func (c EffectiveConfig) VolWindowDays() int { return c.volWindowDays }
func (c EffectiveConfig) VolThreshold() float64 { return c.volThreshold }
func (c EffectiveConfig) TenureLimitDays() int { return c.tenureLimitDays }
func (c EffectiveConfig) PriceDeviationThreshold() float64 { return c.priceDeviationThreshold }

// PolicyID, PolicyVersion and PolicyHash are empty when no document was
// merged.
func (c EffectiveConfig) PolicyID() string { return c.policyID }
func (c EffectiveConfig) PolicyVersion() string { return c.policyVersion }
func (c EffectiveConfig) PolicyHash() string { return c.policyHash }
func (c EffectiveConfig) HasPolicy() bool { return c.hasPolicy }

// Meta is the compact policy description attached to decision records.
type Meta struct {
	ID      string         `json:"id"`
	Version string         `json:"version"`
	Hash    string         `json:"hash"`
	Values  map[string]any `json:"values"`
}

// Meta returns the provenance and the effective thresholds.
func (c EffectiveConfig) Meta() Meta {
	return Meta{
		ID:      c.policyID,
		Version: c.policyVersion,
		Hash:    c.policyHash,
		Values: map[string]any{
			KeyMaxSafeLTV:              c.maxSafeLTV,
			KeyMarginCallLTV:           c.marginCallLTV,
			"HAIRCUT_BPS":              c.jewelleryHaircutBps,
			KeyBarHaircutBps:           c.barHaircutBps,
			KeyVolThreshold:            c.volThreshold,
			KeyTenureLimitDays:         c.tenureLimitDays,
			KeyPriceDeviationThreshold: c.priceDeviationThreshold,
		},
	}
}

// Merge overlays the enumerated keys of doc's values onto defaults. A nil
// doc yields the defaults without provenance. Unknown keys are ignored;
// values of the wrong type or out of range are logged and the default kept.
func Merge(defaults Defaults, doc *Document) EffectiveConfig {
	defaults = defaults.sanitized()
	cfg := EffectiveConfig{
		jewelleryHaircutBps:     defaults.JewelleryHaircutBps,
		barHaircutBps:           defaults.BarHaircutBps,
		maxSafeLTV:              defaults.MaxSafeLTV,
		marginCallLTV:           defaults.MarginCallLTV,
		volWindowDays:           defaults.VolWindowDays,
		volThreshold:            defaults.VolThreshold,
		tenureLimitDays:         defaults.TenureLimitDays,
		priceDeviationThreshold: defaults.PriceDeviationThreshold,
	}
	if doc == nil {
		return cfg
	}

	logger := slog.Default().With("component", "policy", "policy_version", doc.Version)
	vals := doc.Body.Values

	overrideInt(logger, vals, KeyJewelleryHaircutBps, &cfg.jewelleryHaircutBps, true)
	overrideInt(logger, vals, KeyBarHaircutBps, &cfg.barHaircutBps, true)
	overrideInt(logger, vals, KeyTenureLimitDays, &cfg.tenureLimitDays, false)
	overrideFloat(logger, vals, KeyMaxSafeLTV, &cfg.maxSafeLTV)
	overrideFloat(logger, vals, KeyMarginCallLTV, &cfg.marginCallLTV)
	overrideFloat(logger, vals, KeyVolThreshold, &cfg.volThreshold)
	overrideFloat(logger, vals, KeyPriceDeviationThreshold, &cfg.priceDeviationThreshold)

	cfg.policyID = doc.ID
	cfg.policyVersion = doc.Version
	cfg.policyHash = doc.Hash
	cfg.hasPolicy = true
	return cfg
}

func overrideInt(logger *slog.Logger, vals map[string]any, key string, dst *int, zeroOK bool) {
	raw, ok := vals[key]
	if !ok {
		return
	}
	f, ok := toFloat(raw)
	if !ok || f != math.Trunc(f) {
		logger.Warn("policy value rejected: not an integer", "key", key, "value", raw)
		return
	}
	if f < 0 || (f == 0 && !zeroOK) {
		logger.Warn("policy value rejected: out of range", "key", key, "value", raw)
		return
	}
	*dst = int(f)
}

func overrideFloat(logger *slog.Logger, vals map[string]any, key string, dst *float64) {
	raw, ok := vals[key]
	if !ok {
		return
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		logger.Warn("policy value rejected: not a number", "key", key, "value", raw)
		return
	}
	if f <= 0 {
		logger.Warn("policy value rejected: must be positive", "key", key, "value", raw)
		return
	}
	*dst = f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
