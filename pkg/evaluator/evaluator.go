// Package evaluator runs one gold-collateral loan evaluation end to end:
// policy resolution, market quotes, risk metrics, rule explanations, the
// model recommendation, ledger submissions and the audit archive.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/silsilat/gold-evaluator/pkg/artifacts"
	"github.com/silsilat/gold-evaluator/pkg/llm"
	"github.com/silsilat/gold-evaluator/pkg/market"
	"github.com/silsilat/gold-evaluator/pkg/observability"
	"github.com/silsilat/gold-evaluator/pkg/policy"
	"github.com/silsilat/gold-evaluator/pkg/risk"
	"github.com/silsilat/gold-evaluator/pkg/topic"
)

// SchemaID identifies the Output layout.
const SchemaID = "ps.silsilat/gold-eval/1.2"

const (
	volatilitySymbol = "XAU/MYR"
	fxPair           = "USD/MYR"
)

// Output is the decision record of one evaluation.
type Output struct {
	SchemaID       string             `json:"schema_id"`
	EvalID         string             `json:"eval_id"`
	TimestampUTC   string             `json:"timestamp_utc"`
	TraceID        string             `json:"trace_id"`
	Inputs         risk.Loan          `json:"inputs"`
	Metrics        risk.Metrics       `json:"metrics"`
	Recommendation llm.Recommendation `json:"recommendation"`
	Explanations   []risk.RuleHit     `json:"explanations"`
	Policy         policy.Meta        `json:"policy"`
}

// PolicySource supplies the policy document in force. *policy.Loader
// implements it.
type PolicySource interface {
	Latest(now time.Time) policy.Document
}

// ShopRater looks up a pawnshop's operational rating.
type ShopRater func(ctx context.Context, shopID string) (string, error)

// Evaluator wires the collaborators of an evaluation. It holds no
// per-evaluation state and is safe for concurrent use if its collaborators
// are.
type Evaluator struct {
	quoter      market.Quoter
	recommender *llm.Recommender
	policies    PolicySource
	defaults    policy.Defaults
	sink        topic.Sink
	topics      topic.Topics
	archive     *artifacts.Archive
	rater       ShopRater
	obs         *observability.Provider
	logger      *slog.Logger
	clock       func() time.Time
	newID       func() string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPolicies sets the policy source. Without one the builtin policy is
// used.
func WithPolicies(p PolicySource) Option {
	return func(e *Evaluator) { e.policies = p }
}

// WithDefaults replaces the base defaults the policy is merged onto.
func WithDefaults(d policy.Defaults) Option {
	return func(e *Evaluator) { e.defaults = d }
}

// WithSink sets the ledger sink and the topics prompts and responses go to.
func WithSink(s topic.Sink, topics topic.Topics) Option {
	return func(e *Evaluator) {
		e.sink = s
		e.topics = topics
	}
}

// WithArchive keeps an audit copy of every output.
func WithArchive(a *artifacts.Archive) Option {
	return func(e *Evaluator) { e.archive = a }
}

func WithShopRater(r ShopRater) Option {
	return func(e *Evaluator) { e.rater = r }
}

func WithObservability(p *observability.Provider) Option {
	return func(e *Evaluator) { e.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithClock overrides the timestamp source for testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) { e.clock = clock }
}

// WithIDs overrides evaluation id generation for testing.
func WithIDs(newID func() string) Option {
	return func(e *Evaluator) { e.newID = newID }
}

// New creates an evaluator.
func New(quoter market.Quoter, recommender *llm.Recommender, opts ...Option) *Evaluator {
	e := &Evaluator{
		quoter:      quoter,
		recommender: recommender,
		defaults:    policy.BaseDefaults(),
		obs:         observability.Disabled(),
		logger:      slog.Default().With("component", "evaluator"),
		clock:       time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config resolves the effective configuration for an evaluation at now.
func (e *Evaluator) Config(now time.Time) policy.EffectiveConfig {
	if e.policies == nil {
		doc := policy.Builtin(now)
		return policy.Merge(e.defaults, &doc)
	}
	doc := e.policies.Latest(now)
	return policy.Merge(e.defaults, &doc)
}

// Evaluate runs the full pipeline for loan. Failing to price gold or to get
// a recommendation is fatal; ledger and archive failures are logged only.
func (e *Evaluator) Evaluate(ctx context.Context, loan risk.Loan) (out *Output, err error) {
	now := e.clock().UTC()
	evalID := e.newID()

	ctx, done := e.obs.TrackOperation(ctx, "evaluate_loan",
		append(observability.LoanAttributes(loan.LoanID), observability.AttrEvalID.String(evalID))...)
	defer func() { done(err) }()

	log := e.logger.With("eval_id", evalID, "loan_id", loan.LoanID)
	log.InfoContext(ctx, "starting loan evaluation",
		"principal_myr", loan.PrincipalMYR, "gold_weight_g", loan.GoldWeightG,
		"purity", loan.Purity, "tenure_days", loan.TenureDays)

	cfg := e.Config(now)
	observability.SetAttributes(ctx, observability.PolicyAttributes(cfg.PolicyID(), cfg.PolicyVersion(), cfg.PolicyHash())...)

	signal, err := e.priceSignal(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	metrics := e.metrics(ctx, log, loan, signal.CurrentPrice, cfg)
	hits := e.explain(ctx, loan, metrics, cfg, &signal)

	rec, err := e.recommend(ctx, log, loan, metrics)
	if err != nil {
		return nil, err
	}
	observability.SetAttributes(ctx, observability.AttrAction.String(string(rec.Action)))
	e.obs.RecordEvaluation(ctx, string(metrics.RiskLevel), string(rec.Action), metrics.LTV)

	if signal.IsAbnormal {
		observability.SetAttributes(ctx, attribute.Bool("goldeval.admin.has_critical_alert", true))
		observability.SetSpanStatus(ctx, fmt.Errorf("critical gold price anomaly detected (%.1f%% deviation)", signal.DeviationPercent))
	}

	out = &Output{
		SchemaID:       SchemaID,
		EvalID:         evalID,
		TimestampUTC:   now.Format(time.RFC3339Nano),
		TraceID:        observability.TraceID(ctx),
		Inputs:         loan,
		Metrics:        metrics,
		Recommendation: rec,
		Explanations:   hits,
		Policy:         cfg.Meta(),
	}

	e.archiveOutput(ctx, log, out)

	log.InfoContext(ctx, "evaluation complete", "action", rec.Action, "risk_level", metrics.RiskLevel, "trace_id", out.TraceID)
	return out, nil
}

func (e *Evaluator) priceSignal(ctx context.Context, log *slog.Logger, cfg policy.EffectiveConfig) (sig risk.PriceSignal, err error) {
	ctx, done := e.obs.TrackOperation(ctx, "fetch_gold_price")
	defer func() { done(err) }()

	price, err := e.quoter.GoldPriceMYRPerGram(ctx)
	if err != nil {
		return risk.PriceSignal{}, fmt.Errorf("evaluator: gold price: %w", err)
	}
	observability.SetAttributes(ctx, observability.AttrGoldPrice.Float64(price))

	yesterday, yerr := e.quoter.YesterdayGoldPriceMYRPerGram(ctx)
	if yerr != nil {
		log.WarnContext(ctx, "yesterday gold price unavailable", "error", yerr)
		yesterday = nil
	}

	sig = risk.DetectAbnormalPrice(price, yesterday, cfg.PriceDeviationThreshold())
	observability.SetAttributes(ctx,
		observability.AttrPriceAbnormal.Bool(sig.IsAbnormal),
		observability.AttrPriceDevPct.Float64(sig.DeviationPercent),
	)
	if sig.IsAbnormal {
		log.ErrorContext(ctx, "abnormal gold price detected",
			"deviation_percent", sig.DeviationPercent, "threshold_percent", sig.ThresholdPercent)
		observability.AddSpanEvent(ctx, "CRITICAL_GOLD_PRICE_ANOMALY",
			attribute.Float64("current_price_myr", price),
			attribute.Float64("yesterday_price_myr", *yesterday),
			attribute.Float64("deviation_percent", sig.DeviationPercent),
			attribute.Float64("threshold_percent", sig.ThresholdPercent),
			attribute.Float64("price_difference_myr", math.Abs(price-*yesterday)),
			attribute.String("direction", direction(price, *yesterday)),
		)
		observability.SetSpanStatus(ctx, errors.New("abnormal gold price detected"))
		e.obs.RecordPriceAnomaly(ctx, direction(price, *yesterday))
	}
	return sig, nil
}

func direction(current, yesterday float64) string {
	if current > yesterday {
		return "increase"
	}
	return "decrease"
}

func (e *Evaluator) metrics(ctx context.Context, log *slog.Logger, loan risk.Loan, price float64, cfg policy.EffectiveConfig) risk.Metrics {
	ctx, done := e.obs.TrackOperation(ctx, "compute_metrics")
	defer done(nil)

	var opts []risk.Option
	if vol, err := e.quoter.Volatility(ctx, volatilitySymbol, cfg.VolWindowDays()); err != nil {
		log.WarnContext(ctx, "failed to fetch volatility", "error", err)
	} else {
		opts = append(opts, risk.WithVolatility(vol))
	}
	if fx, err := e.quoter.FXRate(ctx, fxPair); err != nil {
		log.WarnContext(ctx, "failed to fetch FX rate", "pair", fxPair, "error", err)
	} else {
		opts = append(opts, risk.WithFXRate(fx))
	}
	if e.rater != nil {
		if rating, err := e.rater(ctx, loan.ShopID); err != nil {
			log.WarnContext(ctx, "failed to fetch shop rating", "shop_id", loan.ShopID, "error", err)
		} else {
			opts = append(opts, risk.WithShopRating(rating))
		}
	}

	m := risk.Evaluate(loan, price, risk.HaircutFor(loan.CollateralType, cfg), cfg, opts...)
	observability.SetAttributes(ctx,
		observability.MetricsAttributes(m.LTV, string(m.RiskLevel), m.CollateralValueMYR, m.HaircutBps)...)
	log.InfoContext(ctx, "metrics computed",
		"ltv", m.LTV, "risk_level", m.RiskLevel, "collateral_value_myr", m.CollateralValueMYR)
	return m
}

func (e *Evaluator) explain(ctx context.Context, loan risk.Loan, m risk.Metrics, cfg policy.EffectiveConfig, sig *risk.PriceSignal) []risk.RuleHit {
	ctx, done := e.obs.TrackOperation(ctx, "generate_explanations")
	defer done(nil)

	hits := risk.Explain(loan, m, cfg, sig)
	observability.SetAttributes(ctx,
		attribute.Int("goldeval.explanations.count", len(hits)),
		observability.AttrRuleCodes.StringSlice(risk.Codes(hits)),
	)
	return hits
}

// recommend publishes the prompt to the input topic, asks the model, and
// publishes the reply with the risk level to the output topic.
func (e *Evaluator) recommend(ctx context.Context, log *slog.Logger, loan risk.Loan, m risk.Metrics) (rec llm.Recommendation, err error) {
	ctx, done := e.obs.TrackOperation(ctx, "build_recommendation_with_llm")
	defer func() { done(err) }()

	if e.recommender == nil {
		return llm.Recommendation{}, errors.New("evaluator: no recommender configured")
	}
	prompt, err := e.recommender.Prompt(loan, m)
	if err != nil {
		return llm.Recommendation{}, err
	}
	e.submit(ctx, log, topic.KindInput, prompt)

	rec, err = e.recommender.Ask(ctx, prompt)
	if err != nil {
		return llm.Recommendation{}, err
	}
	observability.SetAttributes(ctx, observability.DecisionAttributes(rec.Model, rec.Mode, string(rec.Action))...)

	payload, err := json.Marshal(struct {
		RiskLevel   risk.Tier    `json:"risk_level"`
		LLMResponse string       `json:"llm_response"`
		Metrics     risk.Metrics `json:"metrics"`
	}{m.RiskLevel, rec.Rationale, m})
	if err != nil {
		return llm.Recommendation{}, fmt.Errorf("evaluator: marshal output message: %w", err)
	}
	e.submit(ctx, log, topic.KindOutput, string(payload))
	return rec, nil
}

func (e *Evaluator) submit(ctx context.Context, log *slog.Logger, kind, message string) {
	if e.sink == nil {
		return
	}
	topicID, err := e.topics.ID(kind)
	if err != nil || topicID == "" {
		return
	}
	ctx, done := e.obs.TrackOperation(ctx, "submit_"+kind, observability.AttrTopicID.String(topicID))
	receipt, err := e.sink.Submit(ctx, topicID, message)
	if err != nil {
		done(err)
		log.ErrorContext(ctx, "failed to send message to ledger topic", "topic_id", topicID, "kind", kind, "error", err)
		return
	}
	if receipt != nil {
		observability.SetAttributes(ctx, observability.AttrTopicSeq.Int64(int64(receipt.Sequence)))
		log.InfoContext(ctx, "sent message to ledger topic", "topic_id", topicID, "kind", kind, "sequence", receipt.Sequence)
	}
	done(nil)
}

func (e *Evaluator) archiveOutput(ctx context.Context, log *slog.Logger, out *Output) {
	if e.archive == nil {
		return
	}
	ctx, done := e.obs.TrackOperation(ctx, "archive_output")
	key, err := e.archive.Put(ctx, artifacts.TypeGoldRiskEvaluation, out)
	done(err)
	if err != nil {
		log.ErrorContext(ctx, "failed to archive evaluation", "error", err)
		return
	}
	log.InfoContext(ctx, "evaluation archived", "key", key)
}
