package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/silsilat/gold-evaluator/pkg/risk"
)

type Action string

const (
	ActionApprove    Action = "approve"
	ActionMonitor    Action = "monitor"
	ActionMarginCall Action = "margin_call"
	ActionReject     Action = "reject"
)

// actionScanOrder is the order tokens are searched for in model output.
var actionScanOrder = []Action{ActionApprove, ActionMarginCall, ActionReject, ActionMonitor}

// ParseAction returns the first action in scan order whose token appears
// anywhere in text (case-insensitive), or monitor.
func ParseAction(text string) Action {
	lower := strings.ToLower(text)
	for _, a := range actionScanOrder {
		if strings.Contains(lower, string(a)) {
			return a
		}
	}
	return ActionMonitor
}

// Recommendation is the oracle's answer attached to a decision record.
type Recommendation struct {
	Model     string `json:"model"`
	Rationale string `json:"rationale"`
	Action    Action `json:"action"`

	// Mode is the endpoint that answered, e.g. "chat" or "generate".
	Mode string `json:"-"`
}

// Recommender renders prompts and classifies the model's reply.
type Recommender struct {
	client Client
	model  string
	logger *slog.Logger
}

func NewRecommender(client Client, model string) *Recommender {
	return &Recommender{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "llm.recommend"),
	}
}

// Prompt renders the user prompt for loan and metrics. The risk level is
// withheld from the model.
func (r *Recommender) Prompt(loan risk.Loan, m risk.Metrics) (string, error) {
	loanJSON, err := json.Marshal(loan)
	if err != nil {
		return "", fmt.Errorf("llm: marshal loan: %w", err)
	}
	metricsJSON, err := metricsWithoutTier(m)
	if err != nil {
		return "", err
	}
	return RecommendationPrompt(string(loanJSON), metricsJSON), nil
}

// Ask sends a rendered prompt and classifies the reply.
func (r *Recommender) Ask(ctx context.Context, prompt string) (Recommendation, error) {
	resp, err := r.client.Chat(ctx, []Message{
		{Role: RoleSystem, Content: SystemPrompt()},
		{Role: RoleUser, Content: prompt},
	}, DefaultSampling())
	if err != nil {
		return Recommendation{}, fmt.Errorf("llm: recommend: %w", err)
	}
	action := ParseAction(resp.Content)
	r.logger.InfoContext(ctx, "llm recommendation", "model", r.model, "action", action, "mode", resp.Mode)
	return Recommendation{Model: r.model, Rationale: resp.Content, Action: action, Mode: resp.Mode}, nil
}

// Recommend renders the prompt and asks the model in one step.
func Recommend(ctx context.Context, client Client, model string, loan risk.Loan, m risk.Metrics) (Recommendation, error) {
	r := NewRecommender(client, model)
	prompt, err := r.Prompt(loan, m)
	if err != nil {
		return Recommendation{}, err
	}
	return r.Ask(ctx, prompt)
}

func metricsWithoutTier(m risk.Metrics) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("llm: marshal metrics: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("llm: marshal metrics: %w", err)
	}
	delete(fields, "risk_level")
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("llm: marshal metrics: %w", err)
	}
	return string(out), nil
}
