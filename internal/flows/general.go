package flows

import (
	"context"
	"errors"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/llm"
	"github.com/edoventura/crossbar/internal/protocol"
)

const generalSystemPrompt = "You are a concise crypto assistant. Answer the user's question directly. If the question is unrelated to crypto, answer briefly anyway."

// generalBuilder answers one-shot questions that fit no specialized flow.
func generalBuilder(deps Deps) func(sessionID string) *graph.Graph {
	return func(_ string) *graph.Graph {
		g := graph.New("general", "answer")
		g.Node("answer", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			run.Notify("Thinking about your question")

			completion, err := deps.LLM.Complete(ctx, llm.Request{
				System:   generalSystemPrompt,
				Messages: []llm.Message{{Role: "user", Content: run.Message}},
			})
			if err != nil {
				return nil, errors.New("I could not reach the assistant backend. Please try again")
			}

			return &protocol.Response{
				Message: completion.Text,
				IntentSuggestions: []string{
					intent.RoutePriceQuery,
					intent.RouteTokenAnalysis,
				},
			}, nil
		})
		return g
	}
}

// terminateBuilder closes a conversation with a farewell. Routing it
// always replaces any live task for the session.
func terminateBuilder() func(sessionID string) *graph.Graph {
	return func(_ string) *graph.Graph {
		g := graph.New("terminate", "farewell")
		g.Node("farewell", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
			return &protocol.Response{Message: "Goodbye! Message me any time you want to look at the market again."}, nil
		})
		return g
	}
}
