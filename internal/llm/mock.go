package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// MockClient produces deterministic local completions when no inference
// endpoint is configured. Index-constrained prompts (the resolver's
// disambiguation calls) always pick candidate 0 with near-certain
// probability so development flows behave predictably.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	default:
	}

	if req.WantLogprobs {
		alts := []TokenAlternative{{Token: "0", Logprob: math.Log(0.95)}}
		if req.TopAlternatives > 1 {
			alts = append(alts, TokenAlternative{Token: "1", Logprob: math.Log(0.04)})
		}
		return Completion{Text: "0", Alternatives: alts}, nil
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return Completion{Text: "How can I help?"}, nil
	}
	return Completion{Text: fmt.Sprintf("Here is what I can tell you: %s", last)}, nil
}
