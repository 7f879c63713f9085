package topic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/silsilat/gold-evaluator/pkg/kms"
	"github.com/silsilat/gold-evaluator/pkg/ledger"
)

// DefaultSubmitTimeout bounds one submission.
const DefaultSubmitTimeout = 10 * time.Second

// Topic kinds.
const (
	KindInput    = "input"
	KindOutput   = "output"
	KindOverride = "override"
)

// Topics maps topic kinds to ledger topic ids. An empty id disables
// submissions of that kind.
type Topics struct {
	Input    string
	Output   string
	Override string
}

// ID returns the topic id for kind.
func (t Topics) ID(kind string) (string, error) {
	switch kind {
	case KindInput:
		return t.Input, nil
	case KindOutput:
		return t.Output, nil
	case KindOverride:
		return t.Override, nil
	default:
		return "", fmt.Errorf("topic: unknown kind %q (want input, output or override)", kind)
	}
}

// KindOf returns the kind configured for id, or "" if id is not configured.
func (t Topics) KindOf(id string) string {
	switch {
	case id == "":
		return ""
	case id == t.Input:
		return KindInput
	case id == t.Output:
		return KindOutput
	case id == t.Override:
		return KindOverride
	}
	return ""
}

// Receipt acknowledges one submission.
type Receipt struct {
	TopicID     string `json:"topic_id"`
	Kind        string `json:"kind,omitempty"`
	Sequence    uint64 `json:"sequence"`
	MessageHash string `json:"message_hash"`
	ChainHash   string `json:"chain_hash"`
	Encrypted   bool   `json:"encrypted"`
}

// Sink submits messages to a ledger topic.
type Sink interface {
	Submit(ctx context.Context, topicID, message string) (*Receipt, error)
}

// HTTPSink posts to the ledger gateway's /api/v1/topic/setmessage endpoint.
type HTTPSink struct {
	apiBase string
	client  *http.Client
	codec   *kms.Codec
	topics  Topics
	mirror  *ledger.Ledger
	timeout time.Duration
	logger  *slog.Logger
}

// SinkOption configures an HTTPSink.
type SinkOption func(*HTTPSink)

// WithSinkHTTPClient sets the HTTP client.
func WithSinkHTTPClient(c *http.Client) SinkOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithSinkTimeout sets the per-submission deadline.
func WithSinkTimeout(d time.Duration) SinkOption {
	return func(s *HTTPSink) { s.timeout = d }
}

// WithMirror sets the local ledger that records successful submissions.
func WithMirror(l *ledger.Ledger) SinkOption {
	return func(s *HTTPSink) { s.mirror = l }
}

// WithTopics lets the mirror record the kind of each submission.
func WithTopics(t Topics) SinkOption {
	return func(s *HTTPSink) { s.topics = t }
}

// NewHTTPSink creates a sink. Messages are sealed with codec; a disabled
// codec sends them as-is.
func NewHTTPSink(apiBase string, codec *kms.Codec, opts ...SinkOption) *HTTPSink {
	s := &HTTPSink{
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{},
		codec:   codec,
		mirror:  ledger.New(),
		timeout: DefaultSubmitTimeout,
		logger:  slog.Default().With("component", "topic_sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mirror returns the local ledger of successful submissions.
func (s *HTTPSink) Mirror() *ledger.Ledger {
	return s.mirror
}

// Submit seals and posts message. An empty topicID is a no-op returning
// (nil, nil).
func (s *HTTPSink) Submit(ctx context.Context, topicID, message string) (*Receipt, error) {
	if topicID == "" {
		return nil, nil
	}

	wire, err := s.codec.Encrypt(message)
	if err != nil {
		return nil, fmt.Errorf("topic: seal message: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"topicId": topicID, "message": wire})
	if err != nil {
		return nil, fmt.Errorf("topic: encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/api/v1/topic/setmessage", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("topic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("topic: submit to %s: %w", topicID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("topic: submit to %s: HTTP %d: %s", topicID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	kind := s.topics.KindOf(topicID)
	entry, err := s.mirror.Append(topicID, kind, "goldeval", wire)
	if err != nil {
		return nil, fmt.Errorf("topic: mirror: %w", err)
	}
	s.logger.InfoContext(ctx, "topic message submitted",
		"topic_id", topicID,
		"kind", kind,
		"sequence", entry.Sequence,
		"encrypted", s.codec.Enabled(),
	)
	return &Receipt{
		TopicID:     topicID,
		Kind:        kind,
		Sequence:    entry.Sequence,
		MessageHash: entry.MessageHash,
		ChainHash:   entry.ChainHash,
		Encrypted:   s.codec.Enabled(),
	}, nil
}

// SubmitKind submits to the topic configured for kind.
func (s *HTTPSink) SubmitKind(ctx context.Context, kind, message string) (*Receipt, error) {
	id, err := s.topics.ID(kind)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, id, message)
}
