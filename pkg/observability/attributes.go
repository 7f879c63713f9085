package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes set by the evaluator.
var (
	AttrEvalID = attribute.Key("goldeval.eval.id")
	AttrLoanID = attribute.Key("goldeval.loan.id")

	AttrPolicyID      = attribute.Key("goldeval.policy.id")
	AttrPolicyVersion = attribute.Key("goldeval.policy.version")
	AttrPolicyHash    = attribute.Key("goldeval.policy.hash")

	AttrGoldPrice     = attribute.Key("goldeval.market.gold_price_myr_per_g")
	AttrPriceAbnormal = attribute.Key("goldeval.market.price_abnormal")
	AttrPriceDevPct   = attribute.Key("goldeval.market.deviation_percent")

	AttrLTV        = attribute.Key("goldeval.metrics.ltv")
	AttrRiskLevel  = attribute.Key("goldeval.metrics.risk_level")
	AttrCollateral = attribute.Key("goldeval.metrics.collateral_value_myr")
	AttrHaircutBps = attribute.Key("goldeval.metrics.haircut_bps")

	AttrRuleCodes = attribute.Key("goldeval.explanations.codes")

	AttrLLMModel = attribute.Key("goldeval.llm.model")
	AttrLLMMode  = attribute.Key("goldeval.llm.mode")
	AttrAction   = attribute.Key("goldeval.decision.action")

	AttrTopicID  = attribute.Key("goldeval.topic.id")
	AttrTopicSeq = attribute.Key("goldeval.topic.sequence")
)

func LoanAttributes(loanID string) []attribute.KeyValue {
	if loanID == "" {
		return nil
	}
	return []attribute.KeyValue{AttrLoanID.String(loanID)}
}

// PolicyAttributes describes the policy an evaluation ran under.
func PolicyAttributes(id, version, hash string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyID.String(id),
		AttrPolicyVersion.String(version),
		AttrPolicyHash.String(hash),
	}
}

func MetricsAttributes(ltv float64, riskLevel string, collateral float64, haircutBps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLTV.Float64(ltv),
		AttrRiskLevel.String(riskLevel),
		AttrCollateral.Float64(collateral),
		AttrHaircutBps.Int(haircutBps),
	}
}

func DecisionAttributes(model, mode, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLLMModel.String(model),
		AttrLLMMode.String(mode),
		AttrAction.String(action),
	}
}

// SetAttributes adds attributes to the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span and marks it failed.
func SetSpanStatus(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
