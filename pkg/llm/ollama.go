package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.1:8b"
	DefaultOllamaTimeout = 120 * time.Second

	maxResponseBody = 4 << 20
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// OllamaClient talks to an Ollama server. Chat tries /api/chat first and
// falls back to /api/generate with the system prompt prepended.
type OllamaClient struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	c := &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultOllamaURL
	}
	if c.model == "" {
		c.model = DefaultOllamaModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultOllamaTimeout
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "llm.ollama")
	}
	return c
}

func (c *OllamaClient) Model() string { return c.model }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type strategy struct {
	mode string
	path string
	call func(ctx context.Context) (*Response, error)
}

func (c *OllamaClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	if len(msgs) == 0 {
		return nil, errors.New("ollama: messages must not be empty")
	}
	if options == nil {
		options = DefaultSampling()
	}
	opts := ollamaOptions{Temperature: options.Temperature, TopP: options.TopP, Seed: options.Seed}

	strategies := []strategy{
		{mode: "chat", path: "/api/chat", call: func(ctx context.Context) (*Response, error) {
			return c.chat(ctx, msgs, opts)
		}},
		{mode: "generate", path: "/api/generate", call: func(ctx context.Context) (*Response, error) {
			return c.generate(ctx, msgs, opts)
		}},
	}

	var failures []AttemptFailure
	for _, s := range strategies {
		resp, err := s.call(ctx)
		if err == nil {
			resp.Mode = s.mode
			c.logger.InfoContext(ctx, "llm response received", "model", c.model, "mode", s.mode, "length", len(resp.Content))
			return resp, nil
		}
		c.logger.WarnContext(ctx, "llm endpoint failed", "endpoint", s.path, "error", err)
		failures = append(failures, AttemptFailure{Endpoint: c.baseURL + s.path, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &UnavailableError{Attempts: failures}
}

func (c *OllamaClient) chat(ctx context.Context, msgs []Message, opts ollamaOptions) (*Response, error) {
	req := ollamaChatRequest{Model: c.model, Messages: msgs, Options: opts}
	var out ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &Response{Content: strings.TrimSpace(out.Message.Content)}, nil
}

func (c *OllamaClient) generate(ctx context.Context, msgs []Message, opts ollamaOptions) (*Response, error) {
	system, user := splitMessages(msgs)
	prompt := user
	if system != "" {
		prompt = system + "\n\n" + user
	}
	var out ollamaGenerateResponse
	if err := c.post(ctx, "/api/generate", ollamaGenerateRequest{Model: c.model, Prompt: prompt, Options: opts}, &out); err != nil {
		return nil, err
	}
	return &Response{Content: strings.TrimSpace(out.Response)}, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
