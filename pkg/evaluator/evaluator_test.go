package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/silsilat/gold-evaluator/pkg/artifacts"
	"github.com/silsilat/gold-evaluator/pkg/llm"
	"github.com/silsilat/gold-evaluator/pkg/market"
	"github.com/silsilat/gold-evaluator/pkg/observability"
	"github.com/silsilat/gold-evaluator/pkg/policy"
	"github.com/silsilat/gold-evaluator/pkg/risk"
	"github.com/silsilat/gold-evaluator/pkg/topic"
)

var fixedNow = time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)

type fakeQuoter struct {
	price     float64
	yesterday *float64
	priceErr  error
	yErr      error
	volErr    error
	fxErr     error
}

func (q *fakeQuoter) GoldPriceMYRPerGram(context.Context) (float64, error) {
	return q.price, q.priceErr
}

func (q *fakeQuoter) YesterdayGoldPriceMYRPerGram(context.Context) (*float64, error) {
	return q.yesterday, q.yErr
}

func (q *fakeQuoter) Volatility(context.Context, string, int) (float64, error) {
	return 0.03, q.volErr
}

func (q *fakeQuoter) FXRate(context.Context, string) (float64, error) {
	return 4.70, q.fxErr
}

type scriptedClient struct {
	reply string
	err   error
	calls int
}

func (c *scriptedClient) Chat(context.Context, []llm.Message, *llm.SamplingOptions) (*llm.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.reply, Mode: "chat"}, nil
}

type submission struct {
	topicID string
	message string
}

type recordingSink struct {
	mu   sync.Mutex
	sent []submission
	err  error
}

func (s *recordingSink) Submit(_ context.Context, topicID, message string) (*topic.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, submission{topicID, message})
	return &topic.Receipt{TopicID: topicID, Sequence: uint64(len(s.sent))}, nil
}

type capturingStore struct {
	inner artifacts.Store
	keys  []string
	err   error
}

func (s *capturingStore) Store(ctx context.Context, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	key, err := s.inner.Store(ctx, data)
	if err == nil {
		s.keys = append(s.keys, key)
	}
	return key, err
}

func (s *capturingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s *capturingStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

func (s *capturingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

type fixedPolicy struct{ doc policy.Document }

func (p fixedPolicy) Latest(time.Time) policy.Document { return p.doc }

func ptr(f float64) *float64 { return &f }

func sampleLoan() risk.Loan {
	return risk.Loan{
		LoanID:         "L-100",
		ShopID:         "SHOP-4",
		PrincipalMYR:   4000,
		GoldWeightG:    25,
		Purity:         916,
		TenureDays:     90,
		CollateralType: risk.CollateralJewellery,
	}
}

func newStore(t *testing.T) *capturingStore {
	t.Helper()
	fs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &capturingStore{inner: fs}
}

func newEvaluator(q market.Quoter, client llm.Client, opts ...Option) *Evaluator {
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(func() string { return "eval-1" }),
	}
	return New(q, llm.NewRecommender(client, "llama3.1:8b"), append(base, opts...)...)
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	return names
}

func findSpan(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not recorded", name)
	return nil
}

func TestEvaluate_FullPipeline(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	obs := observability.NewWithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	sink := &recordingSink{}
	store := newStore(t)
	client := &scriptedClient{reply: "Action: margin_call\nRationale: LTV near the safe limit."}

	e := newEvaluator(&fakeQuoter{price: 230, yesterday: ptr(228)}, client,
		WithSink(sink, topic.Topics{Input: "0.0.1", Output: "0.0.2"}),
		WithArchive(artifacts.NewArchive(store, "goldeval")),
		WithObservability(obs),
	)

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)

	assert.Equal(t, SchemaID, out.SchemaID)
	assert.Equal(t, "eval-1", out.EvalID)
	assert.Equal(t, "2025-10-01T08:00:00Z", out.TimestampUTC)
	assert.Equal(t, sampleLoan(), out.Inputs)

	assert.Equal(t, risk.TierHigh, out.Metrics.RiskLevel)
	assert.InDelta(t, 0.7987, out.Metrics.LTV, 1e-3)
	assert.Equal(t, 500, out.Metrics.HaircutBps)
	require.NotNil(t, out.Metrics.GoldVolatility)
	require.NotNil(t, out.Metrics.FXUSDMYR)
	assert.InDelta(t, 4.70, *out.Metrics.FXUSDMYR, 1e-9)
	assert.Nil(t, out.Metrics.ShopRating)

	got := risk.Codes(out.Explanations)
	assert.Contains(t, got, "RISK_LEVEL_HIGH")
	assert.Contains(t, got, risk.CodeLTVOK)
	assert.Contains(t, got, risk.CodePriceNormal)

	assert.Equal(t, llm.ActionMarginCall, out.Recommendation.Action)
	assert.Equal(t, "llama3.1:8b", out.Recommendation.Model)

	assert.Equal(t, policy.BuiltinVersion, out.Policy.Version)
	assert.NotEmpty(t, out.Policy.Hash)
	assert.Equal(t, 500, out.Policy.Values["HAIRCUT_BPS"])

	// Ledger: prompt without tier to input, tier plus reply to output.
	require.Len(t, sink.sent, 2)
	assert.Equal(t, "0.0.1", sink.sent[0].topicID)
	assert.Contains(t, sink.sent[0].message, `"principal_myr":4000`)
	assert.NotContains(t, sink.sent[0].message, "risk_level")

	assert.Equal(t, "0.0.2", sink.sent[1].topicID)
	var published map[string]any
	require.NoError(t, json.Unmarshal([]byte(sink.sent[1].message), &published))
	assert.Equal(t, "HIGH", published["risk_level"])
	assert.Equal(t, client.reply, published["llm_response"])
	assert.Contains(t, published["metrics"], "ltv")

	// Archive holds the same record.
	require.Len(t, store.keys, 1)
	env, err := artifacts.NewArchive(store, "goldeval").Get(context.Background(), store.keys[0])
	require.NoError(t, err)
	assert.Equal(t, artifacts.TypeGoldRiskEvaluation, env.Type)
	var archived map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &archived))
	assert.Equal(t, "eval-1", archived["eval_id"])
	assert.Equal(t, SchemaID, archived["schema_id"])

	// Spans.
	spans := recorder.Ended()
	assert.Subset(t, spanNames(spans), []string{
		"evaluate_loan", "fetch_gold_price", "compute_metrics", "generate_explanations",
		"build_recommendation_with_llm", "submit_input", "submit_output", "archive_output",
	})
	root := findSpan(t, spans, "evaluate_loan")
	assert.Equal(t, root.SpanContext().TraceID().String(), out.TraceID)
	assert.NotEqual(t, codes.Error, root.Status().Code)
}

func TestEvaluate_OutputJSONShape(t *testing.T) {
	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: monitor"})
	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	for _, k := range []string{"schema_id", "eval_id", "timestamp_utc", "trace_id", "inputs", "metrics", "recommendation", "explanations", "policy"} {
		assert.Contains(t, doc, k)
	}
	assert.Equal(t, "", doc["trace_id"], "no tracer installed")
	rec := doc["recommendation"].(map[string]any)
	assert.Equal(t, "monitor", rec["action"])
	assert.NotContains(t, rec, "Mode")
}

func TestEvaluate_PriceFailureIsFatal(t *testing.T) {
	sink := &recordingSink{}
	client := &scriptedClient{reply: "approve"}
	e := newEvaluator(&fakeQuoter{priceErr: market.ErrUnavailable}, client,
		WithSink(sink, topic.Topics{Input: "0.0.1", Output: "0.0.2"}))

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, market.ErrUnavailable)
	assert.Zero(t, client.calls)
	assert.Empty(t, sink.sent)
}

func TestEvaluate_RecommendationFailureIsFatal(t *testing.T) {
	store := newStore(t)
	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{err: errors.New("ollama down")},
		WithArchive(artifacts.NewArchive(store, "goldeval")))

	_, err := e.Evaluate(context.Background(), sampleLoan())
	assert.ErrorContains(t, err, "ollama down")
	assert.Empty(t, store.keys)
}

func TestEvaluate_OptionalMarketFiguresAreBestEffort(t *testing.T) {
	q := &fakeQuoter{
		price:  230,
		yErr:   errors.New("history offline"),
		volErr: market.ErrUnavailable,
		fxErr:  errors.New("HTTP 503"),
	}
	e := newEvaluator(q, &scriptedClient{reply: "Action: monitor"})

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	assert.Nil(t, out.Metrics.GoldVolatility)
	assert.Nil(t, out.Metrics.FXUSDMYR)

	got := risk.Codes(out.Explanations)
	assert.Contains(t, got, risk.CodePriceNormal)
	assert.NotContains(t, got, risk.CodeVolNormal)
	assert.NotContains(t, got, risk.CodeVolElevated)
}

func TestEvaluate_AbnormalPriceMarksTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	obs := observability.NewWithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	e := newEvaluator(&fakeQuoter{price: 230, yesterday: ptr(200)}, &scriptedClient{reply: "Action: monitor"},
		WithObservability(obs))

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	assert.Contains(t, risk.Codes(out.Explanations), risk.CodePriceAbnormal)

	spans := recorder.Ended()
	assert.Equal(t, codes.Error, findSpan(t, spans, "evaluate_loan").Status().Code)

	price := findSpan(t, spans, "fetch_gold_price")
	assert.Equal(t, codes.Error, price.Status().Code)
	var events []string
	for _, ev := range price.Events() {
		events = append(events, ev.Name)
	}
	assert.Contains(t, events, "CRITICAL_GOLD_PRICE_ANOMALY")
}

func TestEvaluate_SinkAndArchiveFailuresAreNotFatal(t *testing.T) {
	store := newStore(t)
	store.err = errors.New("disk full")

	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: approve"},
		WithSink(&recordingSink{err: errors.New("gateway 502")}, topic.Topics{Input: "0.0.1", Output: "0.0.2"}),
		WithArchive(artifacts.NewArchive(store, "goldeval")),
	)

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	assert.Equal(t, llm.ActionApprove, out.Recommendation.Action)
}

func TestEvaluate_UnconfiguredTopicsAreSkipped(t *testing.T) {
	sink := &recordingSink{}
	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: monitor"},
		WithSink(sink, topic.Topics{Output: "0.0.2"}))

	_, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "0.0.2", sink.sent[0].topicID)
}

func TestEvaluate_PolicySourceDrivesThresholds(t *testing.T) {
	values := policy.BuiltinValues()
	values[policy.KeyMaxSafeLTV] = 0.75
	doc, err := policy.NewDocument("gold-risk-2025.11.0", values, fixedNow)
	require.NoError(t, err)

	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: margin_call"},
		WithPolicies(fixedPolicy{doc}))

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	assert.Equal(t, "gold-risk-2025.11.0", out.Policy.Version)
	assert.Equal(t, doc.Hash, out.Policy.Hash)
	assert.InDelta(t, 0.75, out.Metrics.MaxSafeLTV, 1e-9)
	assert.Contains(t, risk.Codes(out.Explanations), risk.CodeLTVElevated)
}

func TestEvaluate_BarCollateralUsesBarHaircut(t *testing.T) {
	loan := sampleLoan()
	loan.CollateralType = risk.CollateralBar

	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: approve"})
	out, err := e.Evaluate(context.Background(), loan)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Metrics.HaircutBps)
}

func TestEvaluate_ShopRating(t *testing.T) {
	rater := func(_ context.Context, shopID string) (string, error) {
		if shopID == "SHOP-4" {
			return "A", nil
		}
		return "", errors.New("unknown shop")
	}
	e := newEvaluator(&fakeQuoter{price: 230}, &scriptedClient{reply: "Action: approve"}, WithShopRater(rater))

	out, err := e.Evaluate(context.Background(), sampleLoan())
	require.NoError(t, err)
	require.NotNil(t, out.Metrics.ShopRating)
	assert.Equal(t, "A", *out.Metrics.ShopRating)

	loan := sampleLoan()
	loan.ShopID = "SHOP-9"
	out, err = e.Evaluate(context.Background(), loan)
	require.NoError(t, err)
	assert.Nil(t, out.Metrics.ShopRating)
}
