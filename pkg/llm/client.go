// Package llm is the generative-text oracle: a chat Client abstraction, an
// Ollama client with a generate fallback, and the recommendation step that
// turns risk metrics into one of four actions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed,omitempty"`
}

// DefaultSampling keeps answers short and stable.
func DefaultSampling() *SamplingOptions {
	return &SamplingOptions{Temperature: 0.2, TopP: 0.9}
}

type Response struct {
	Content string `json:"content"`
	// Mode names the endpoint that answered, e.g. "chat" or "generate".
	Mode string `json:"mode,omitempty"`
}

// ErrUnavailable matches *UnavailableError.
var ErrUnavailable = errors.New("llm: no endpoint answered")

// AttemptFailure is one failed endpoint.
type AttemptFailure struct {
	Endpoint string
	Err      error
}

// UnavailableError lists every endpoint tried, in order.
type UnavailableError struct {
	Attempts []AttemptFailure
}

func (e *UnavailableError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Endpoint, a.Err)
	}
	return "llm: all endpoints failed: " + strings.Join(parts, "; ")
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// splitMessages joins system and non-system contents for completion-style
// endpoints that take a single prompt.
func splitMessages(msgs []Message) (system, user string) {
	var sys, rest []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m.Content)
	}
	return strings.Join(sys, "\n\n"), strings.Join(rest, "\n\n")
}
