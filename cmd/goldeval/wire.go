package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/silsilat/gold-evaluator/pkg/artifacts"
	"github.com/silsilat/gold-evaluator/pkg/config"
	"github.com/silsilat/gold-evaluator/pkg/evaluator"
	"github.com/silsilat/gold-evaluator/pkg/kms"
	"github.com/silsilat/gold-evaluator/pkg/llm"
	"github.com/silsilat/gold-evaluator/pkg/market"
	"github.com/silsilat/gold-evaluator/pkg/observability"
	"github.com/silsilat/gold-evaluator/pkg/policy"
	"github.com/silsilat/gold-evaluator/pkg/topic"
)

// closers runs cleanup in reverse order of registration.
type closers []func()

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// newQuoter builds the quote oracle. offline skips the network entirely.
func newQuoter(ctx context.Context, cfg *config.Config, offline bool, cl *closers) (market.Quoter, error) {
	var q market.Quoter
	if offline {
		q = market.NewStaticQuoter()
	} else {
		q = market.NewHTTPQuoter(market.HTTPQuoterConfig{
			MetalPriceKey: cfg.MetalPriceAPIKey,
			FastForexKey:  cfg.FastForexAPIKey,
			APIBase:       cfg.APIBase,
			APIKey:        cfg.APIKey,
			Limiter:       rate.NewLimiter(rate.Limit(max(cfg.QuoteRatePerSec, 1)), max(cfg.QuoteRatePerSec, 1)),
		})
	}
	if cfg.PriceHistoryDSN == "" {
		return q, nil
	}
	history, err := market.OpenHistory(ctx, cfg.PriceHistoryDSN)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, func() { _ = history.Close() })
	return market.NewHistoryQuoter(q, history), nil
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "", "ollama":
		return llm.NewOllamaClient(llm.OllamaConfig{BaseURL: cfg.OllamaBaseURL, Model: cfg.LLMModel}), nil
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Model: cfg.LLMModel}), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (want ollama or openai)", cfg.LLMProvider)
	}
}

func newFetcher(cfg *config.Config, cl *closers) (artifacts.Fetcher, error) {
	var opts []artifacts.GatewayOption
	if len(cfg.Gateways) > 0 {
		opts = append(opts, artifacts.WithGateways(cfg.Gateways...))
	}
	var f artifacts.Fetcher = artifacts.NewGatewayResolver(opts...)
	if cfg.RedisURL == "" {
		return f, nil
	}
	cache, err := artifacts.NewRedisCacheFromURL(cfg.RedisURL, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, func() { _ = cache.Close() })
	return artifacts.NewCachingFetcher(f, cache), nil
}

func newResolver(cfg *config.Config, cl *closers) (*artifacts.Resolver, error) {
	f, err := newFetcher(cfg, cl)
	if err != nil {
		return nil, err
	}
	return artifacts.NewResolver(f, artifacts.WithMaxHops(cfg.MaxResolveHops)), nil
}

func newObservability(ctx context.Context, cfg *config.Config, cl *closers) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.ServiceName = cfg.ServiceName
	oc.ServiceVersion = version
	oc.Enabled = cfg.TelemetryEnabled()
	if cfg.OTLPEndpoint != "" {
		oc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	p, err := observability.New(ctx, oc)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(sctx)
	})
	return p, nil
}

// buildEvaluator wires every collaborator named by cfg.
func buildEvaluator(ctx context.Context, cfg *config.Config, offline bool) (*evaluator.Evaluator, closers, error) {
	var cl closers

	quoter, err := newQuoter(ctx, cfg, offline, &cl)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}
	client, err := newLLMClient(cfg)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}
	loader, err := policy.NewLoader(cfg.PolicyDir)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}
	if err := loader.LoadAll(); err != nil {
		cl.Close()
		return nil, nil, err
	}
	obs, err := newObservability(ctx, cfg, &cl)
	if err != nil {
		cl.Close()
		return nil, nil, err
	}

	topics := topic.Topics{Input: cfg.InputTopicID, Output: cfg.OutputTopicID, Override: cfg.OverrideTopicID}
	sink := topic.NewHTTPSink(cfg.APIBase, kms.NewCodec(cfg.EncryptionKey), topic.WithTopics(topics))

	opts := []evaluator.Option{
		evaluator.WithPolicies(loader),
		evaluator.WithDefaults(policy.DefaultsFromEnv()),
		evaluator.WithSink(sink, topics),
		evaluator.WithObservability(obs),
	}
	if cfg.ArchiveEnabled {
		store, err := artifacts.NewStoreFromEnv(ctx)
		if err != nil {
			cl.Close()
			return nil, nil, err
		}
		opts = append(opts, evaluator.WithArchive(artifacts.NewArchive(store, cfg.ServiceName)))
	}

	slog.Default().With("component", "goldeval").InfoContext(ctx, "evaluator ready",
		"llm_provider", cfg.LLMProvider, "model", cfg.LLMModel, "offline", offline,
		"policies", len(loader.Documents()), "archive", cfg.ArchiveEnabled)

	return evaluator.New(quoter, llm.NewRecommender(client, cfg.LLMModel), opts...), cl, nil
}
