package flows

import (
	"context"
	"fmt"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/market"
	"github.com/edoventura/crossbar/internal/protocol"
)

// priceBuilder answers spot-price questions in a single pass: resolve the
// token mention, fetch the quote, reply.
func priceBuilder(deps Deps) func(sessionID string) *graph.Graph {
	return func(_ string) *graph.Graph {
		g := graph.New(intent.RoutePriceQuery, "resolve")

		g.Node("resolve", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			token, err := resolveToken(ctx, deps, run.Message, false)
			if err != nil {
				return nil, err
			}
			run.Set("token", token)
			run.Notify("Fetching the latest " + token.Symbol + " quote")
			return nil, nil
		}).Then("quote")

		g.Node("quote", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			token, _ := run.Get("token")
			tok := token.(market.Token)

			quote, err := deps.Market.SpotPrice(ctx, tok.Symbol)
			if err != nil {
				return nil, fmt.Errorf("I could not fetch a quote for %s right now. Please try again", tok.Symbol)
			}

			return &protocol.Response{
				Message: fmt.Sprintf("%s (%s) is trading at $%.2f, %+.2f%% over the last 24h.",
					tok.Name, tok.Symbol, quote.PriceUSD, quote.Change24h),
				IntentSuggestions: []string{
					intent.RouteTokenAnalysis,
					intent.RouteNewsQuery,
				},
			}, nil
		})

		return g
	}
}
