// Package flows builds the task graphs behind each route and assembles the
// router's route table.
package flows

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/llm"
	"github.com/edoventura/crossbar/internal/market"
	"github.com/edoventura/crossbar/internal/match"
	"github.com/edoventura/crossbar/internal/protocol"
	"github.com/edoventura/crossbar/internal/resolve"
	"github.com/edoventura/crossbar/internal/router"
)

// DefaultConfidenceThreshold gates token resolutions before a flow acts on
// them. Below it, the flow asks a clarifying question instead.
const DefaultConfidenceThreshold = 60.0

// Deps carries every external handle a flow may need. Constructed once at
// process start and shared across all sessions.
type Deps struct {
	LLM        llm.Client
	Market     market.Provider
	Resolver   *resolve.Resolver
	Classifier intent.Classifier

	// ConfidenceThreshold overrides DefaultConfidenceThreshold when > 0.
	ConfidenceThreshold float64
}

func (d Deps) threshold() float64 {
	if d.ConfidenceThreshold > 0 {
		return d.ConfidenceThreshold
	}
	return DefaultConfidenceThreshold
}

// NewTable wires the route table. Every route the classifier can produce
// has a home; unrecognized routes fall back to general assistance.
func NewTable(deps Deps) router.Table {
	return router.Table{
		router.FallbackRoute:      generalBuilder(deps),
		intent.RouteExplanation:   generalBuilder(deps),
		intent.RouteNone:          generalBuilder(deps),
		intent.RouteFindYield:     generalBuilder(deps),
		intent.RoutePriceQuery:    priceBuilder(deps),
		intent.RouteNewsQuery:     analysisBuilder(deps),
		intent.RouteTokenAnalysis: analysisBuilder(deps),
		intent.RouteTransfer:      actionBuilder(deps, "send"),
		intent.RouteSwap:          actionBuilder(deps, "swap"),
		intent.RouteTerminate:     terminateBuilder(),
	}
}

// resolveToken finds the catalogue token the message most plausibly
// mentions. Flows that act on funds pass useLLM to add the disambiguation
// stage on top of the approximate pass. Low confidence surfaces as an
// error whose text is a clarifying question, which the engine turns into
// the terminal response.
func resolveToken(ctx context.Context, deps Deps, message string, useLLM bool) (market.Token, error) {
	tokens, err := deps.Market.Tokens(ctx)
	if err != nil {
		return market.Token{}, errors.New("I could not reach the token catalogue. Please try again in a moment")
	}
	if len(tokens) == 0 {
		return market.Token{}, errors.New("I could not find any tokens to match against")
	}

	candidates := make([]resolve.Candidate, len(tokens))
	for i, t := range tokens {
		candidates[i] = resolve.Candidate(t.Candidate())
	}

	mention := extractMention(message, tokens)
	if mention == "" {
		return market.Token{}, errors.New("Which token are you asking about?")
	}

	var llmKeys []string
	if useLLM {
		llmKeys = []string{"symbol", "name", "network"}
	}
	res, err := deps.Resolver.Resolve(ctx, mention, candidates, []string{"symbol", "name"}, llmKeys)
	if err != nil {
		return market.Token{}, fmt.Errorf("resolve token %q: %w", mention, err)
	}
	top, ok := res.Top()
	if !ok || top.Confidence < deps.threshold() {
		return market.Token{}, fmt.Errorf("Did you mean a specific token? I could not match %q confidently", mention)
	}

	for _, t := range tokens {
		if t.Symbol == top.Candidate["symbol"] {
			return t, nil
		}
	}
	return market.Token{}, fmt.Errorf("Did you mean a specific token? I could not match %q confidently", mention)
}

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*`)

// extractMention picks the message word closest to any catalogue symbol or
// name. Ties go to the earlier word.
func extractMention(message string, tokens []market.Token) string {
	best := ""
	bestScore := 0.0
	for _, word := range wordPattern.FindAllString(message, -1) {
		if len(word) < 2 {
			continue
		}
		for _, t := range tokens {
			for _, target := range []string{t.Symbol, t.Name} {
				if s := match.Similarity(word, target); s > bestScore {
					bestScore = s
					best = word
				}
			}
		}
	}
	return best
}

var amountPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

func extractAmount(message string) (float64, bool) {
	raw := amountPattern.FindString(message)
	if raw == "" {
		return 0, false
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

var recipientPattern = regexp.MustCompile(`(?i)\bto\s+(@?[A-Za-z0-9_.-]+)`)

func extractRecipient(message string) (string, bool) {
	m := recipientPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var yesPattern = regexp.MustCompile(`(?i)^\s*(yes|y|yep|yeah|sure|confirm|ok|okay|go ahead|do it)\b`)
var noPattern = regexp.MustCompile(`(?i)^\s*(no|n|nope|cancel|stop|never mind|nevermind)\b`)

// classifyAside asks whether a resumed message belongs to a different
// workflow. A non-empty return means the flow should raise an interrupt
// with that route as the hint.
func classifyAside(ctx context.Context, deps Deps, ownRoutes []string, message string) string {
	if deps.Classifier == nil {
		return ""
	}
	cls, err := deps.Classifier.Classify(ctx, message)
	if err != nil {
		return ""
	}
	if cls.Route == intent.RouteNone {
		return ""
	}
	for _, own := range ownRoutes {
		if cls.Route == own {
			return ""
		}
	}
	return cls.Route
}

func interruptFor(route, message string) error {
	return &graph.Interrupt{Payload: protocol.EncodeInterruptPayload(route, message)}
}
