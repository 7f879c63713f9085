package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments are nil-safe: a Provider without a meter records nothing.
type instruments struct {
	steps       metric.Int64Counter
	stepErrors  metric.Int64Counter
	stepSeconds metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter

	evaluations metric.Int64Counter
	ltv         metric.Float64Histogram
	anomalies   metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	in := &instruments{}
	var err error
	if in.steps, err = m.Int64Counter("goldeval.steps",
		metric.WithDescription("Pipeline steps started"), metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	if in.stepErrors, err = m.Int64Counter("goldeval.step.errors",
		metric.WithDescription("Pipeline steps that returned an error"), metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	if in.stepSeconds, err = m.Float64Histogram("goldeval.step.duration",
		metric.WithDescription("Wall time per pipeline step"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120)); err != nil {
		return nil, err
	}
	if in.inFlight, err = m.Int64UpDownCounter("goldeval.steps.in_flight",
		metric.WithDescription("Pipeline steps currently running"), metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	if in.evaluations, err = m.Int64Counter("goldeval.evaluations",
		metric.WithDescription("Completed evaluations by risk level and action"), metric.WithUnit("{evaluation}")); err != nil {
		return nil, err
	}
	if in.ltv, err = m.Float64Histogram("goldeval.ltv",
		metric.WithDescription("Loan-to-value ratio of evaluated loans"), metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.3, 0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 1)); err != nil {
		return nil, err
	}
	if in.anomalies, err = m.Int64Counter("goldeval.price.anomalies",
		metric.WithDescription("Gold price moves beyond the deviation threshold"), metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *instruments) stepStarted(ctx context.Context, step string) {
	if in == nil {
		return
	}
	set := metric.WithAttributes(attribute.String("step", step))
	in.steps.Add(ctx, 1, set)
	in.inFlight.Add(ctx, 1, set)
}

func (in *instruments) stepFinished(ctx context.Context, step string, d time.Duration, err error) {
	if in == nil {
		return
	}
	set := metric.WithAttributes(attribute.String("step", step))
	in.inFlight.Add(ctx, -1, set)
	in.stepSeconds.Record(ctx, d.Seconds(), set)
	if err != nil {
		in.stepErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step", step), attribute.String("error.type", fmt.Sprintf("%T", err))))
	}
}

// RecordEvaluation counts a finished evaluation and its LTV.
func (p *Provider) RecordEvaluation(ctx context.Context, riskLevel, action string, ltv float64) {
	if p.inst == nil {
		return
	}
	p.inst.evaluations.Add(ctx, 1, metric.WithAttributes(
		AttrRiskLevel.String(riskLevel), AttrAction.String(action)))
	p.inst.ltv.Record(ctx, ltv, metric.WithAttributes(AttrRiskLevel.String(riskLevel)))
}

// RecordPriceAnomaly counts an abnormal gold price, by direction.
func (p *Provider) RecordPriceAnomaly(ctx context.Context, direction string) {
	if p.inst == nil {
		return
	}
	p.inst.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}
