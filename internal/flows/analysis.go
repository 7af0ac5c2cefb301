package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/llm"
	"github.com/edoventura/crossbar/internal/market"
	"github.com/edoventura/crossbar/internal/protocol"
)

const analysisSystemPrompt = "You are a crypto market analyst. Given a token and its current quote, write a short plain-language read on how it is doing. Two or three sentences, no financial advice."

// analysisBuilder handles analysis and news-flavored questions: resolve
// the token, fetch its quote, let the model write the read, then offer the
// user follow-up branches.
func analysisBuilder(deps Deps) func(sessionID string) *graph.Graph {
	return func(_ string) *graph.Graph {
		g := graph.New(intent.RouteTokenAnalysis, "resolve")

		g.Node("resolve", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			token, err := resolveToken(ctx, deps, run.Message, false)
			if err != nil {
				return nil, err
			}
			run.Set("token", token)
			run.Notify("Gathering market data for " + token.Symbol)
			return nil, nil
		}).Then("summarize")

		g.Node("summarize", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			token, _ := run.Get("token")
			tok := token.(market.Token)

			quote, err := deps.Market.SpotPrice(ctx, tok.Symbol)
			if err != nil {
				return nil, fmt.Errorf("I could not fetch market data for %s right now. Please try again", tok.Symbol)
			}

			prompt := fmt.Sprintf("Token: %s (%s) on %s. Price: $%.2f. 24h change: %+.2f%%. The user asked: %s",
				tok.Name, tok.Symbol, tok.Network, quote.PriceUSD, quote.Change24h, run.Message)
			completion, err := deps.LLM.Complete(ctx, llm.Request{
				System:   analysisSystemPrompt,
				Messages: []llm.Message{{Role: "user", Content: prompt}},
			})
			if err != nil {
				return nil, errors.New("I could not produce an analysis right now. Please try again")
			}

			return &protocol.Response{
				Message: completion.Text,
				ExpressionSuggestions: []protocol.Expression{
					{Label: "Check the current price", ID: intent.RoutePriceQuery},
					{Label: "See recent news", ID: intent.RouteNewsQuery},
					{Label: "Buy " + tok.Symbol, ID: intent.RouteSwap},
				},
			}, nil
		})

		return g
	}
}
