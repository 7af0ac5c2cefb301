// Package llm defines the interface the orchestration core needs from a
// language-model provider, plus http and mock implementations of it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one prior turn handed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`

	// MaxTokens caps the generated answer; zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// WantLogprobs asks the provider for per-token probability metadata on
	// the answer, with up to TopAlternatives ranked alternatives for the
	// first generated token.
	WantLogprobs    bool `json:"logprobs,omitempty"`
	TopAlternatives int  `json:"top_alternatives,omitempty"`
}

// TokenAlternative is one candidate first token with its log-probability.
type TokenAlternative struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Completion is the provider's answer. Alternatives is nil unless the request
// asked for logprobs and the provider supplied them.
type Completion struct {
	Text         string             `json:"text"`
	Alternatives []TokenAlternative `json:"alternatives,omitempty"`
}

// Client is the sole surface the core calls a language model through.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration

	// OnError, when set, is fired once per HTTP completion that fails.
	OnError func()
}

// NewClient builds a client for the configured mode. Mode auto prefers the
// HTTP endpoint when one is configured and falls back to the mock otherwise.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	httpClient := func() *HTTPClient {
		c := NewHTTPClient(cfg.HTTPURL)
		if cfg.Timeout > 0 {
			c.client.Timeout = cfg.Timeout
		}
		if cfg.OnError != nil {
			c.OnError(cfg.OnError)
		}
		return c
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return httpClient(), nil
		}
		return NewMockClient(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return httpClient(), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm client mode %q", cfg.Mode)
	}
}
