// Package observability traces each evaluation step and exports evaluation
// metrics over OTLP.
//
// Initialize the provider at startup; it is a no-op unless enabled:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "silsilat-gold-evaluator",
//		OTLPEndpoint: "otel-collector:4317",
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
// Wrap each evaluation step:
//
//	ctx, done := p.TrackOperation(ctx, "compute_metrics", observability.LoanAttributes(loanID)...)
//	err := step(ctx)
//	done(err)
package observability
