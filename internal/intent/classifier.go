// Package intent classifies inbound chat messages into route labels and
// holds the coarse recommendation buckets used when a pinned conversation
// receives an out-of-scope message.
package intent

import (
	"context"
	"regexp"
	"strings"
)

// Route labels understood by the router's task table.
const (
	RoutePriceQuery    = "crypto_price_query"
	RouteNewsQuery     = "crypto_news_query"
	RouteTransfer      = "transfer_crypto_action"
	RouteSwap          = "swap_crypto_action"
	RouteFindYield     = "find_yield_query"
	RouteTokenAnalysis = "token_analysis_query"
	RouteExplanation   = "explanation_query"
	RouteTerminate     = "terminate"
	RouteNone          = "none"
)

// Classification is one classifier verdict with a confidence percentage.
type Classification struct {
	Route      string
	Confidence float64
}

// Classifier maps a raw user message to a route label.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

var (
	terminatePattern = regexp.MustCompile(`(?i)^\s*(bye|goodbye|stop|quit|exit|that'?s all|thanks,? bye)\b`)
	pricePattern     = regexp.MustCompile(`(?i)\b(price|worth|cost|how much is|quote|market cap)\b`)
	newsPattern      = regexp.MustCompile(`(?i)\b(news|headline|announcement|what happened (to|with))\b`)
	transferPattern  = regexp.MustCompile(`(?i)\b(send|transfer|pay|withdraw)\b`)
	swapPattern      = regexp.MustCompile(`(?i)\b(swap|exchange|convert|buy|sell|trade)\b`)
	yieldPattern     = regexp.MustCompile(`(?i)\b(yield|apy|apr|staking|farm|lend|earn interest)\b`)
	analysisPattern  = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|chart|outlook|sentiment|performance)\b`)
	explainPattern   = regexp.MustCompile(`(?i)\b(what is|what are|explain|how does|difference between|meaning of)\b`)
)

// KeywordClassifier is the default, dependency-free classifier. Ordering
// matters: action verbs are checked before informational patterns so
// "buy some SOL, what is the price" routes to the swap flow.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Classify(_ context.Context, text string) (Classification, error) {
	in := strings.TrimSpace(text)
	if in == "" {
		return Classification{Route: RouteNone, Confidence: 100}, nil
	}

	switch {
	case terminatePattern.MatchString(in):
		return Classification{Route: RouteTerminate, Confidence: 95}, nil
	case transferPattern.MatchString(in):
		return Classification{Route: RouteTransfer, Confidence: 90}, nil
	case swapPattern.MatchString(in):
		return Classification{Route: RouteSwap, Confidence: 90}, nil
	case yieldPattern.MatchString(in):
		return Classification{Route: RouteFindYield, Confidence: 85}, nil
	case pricePattern.MatchString(in):
		return Classification{Route: RoutePriceQuery, Confidence: 85}, nil
	case newsPattern.MatchString(in):
		return Classification{Route: RouteNewsQuery, Confidence: 80}, nil
	case analysisPattern.MatchString(in):
		return Classification{Route: RouteTokenAnalysis, Confidence: 80}, nil
	case explainPattern.MatchString(in):
		return Classification{Route: RouteExplanation, Confidence: 75}, nil
	default:
		return Classification{Route: RouteNone, Confidence: 40}, nil
	}
}
