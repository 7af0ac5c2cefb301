package intent

import "strings"

// Buckets collapses classified routes into the coarse recommendation labels
// offered when a pinned conversation gets an out-of-scope message. The table
// is data, not behavior: its boundaries are a product decision and callers
// may supply their own.
type Buckets map[string]string

// DefaultBuckets maps price/news/analysis-flavored routes to the analysis
// recommendation and everything low-value, unclear, or terminal to the
// explanation recommendation.
func DefaultBuckets() Buckets {
	return Buckets{
		RoutePriceQuery:    RouteTokenAnalysis,
		RouteNewsQuery:     RouteTokenAnalysis,
		RouteTokenAnalysis: RouteTokenAnalysis,
		RouteTransfer:      RouteExplanation,
		RouteSwap:          RouteExplanation,
		RouteFindYield:     RouteExplanation,
		RouteExplanation:   RouteExplanation,
		RouteTerminate:     RouteExplanation,
		RouteNone:          RouteExplanation,
	}
}

// Recommend returns the bucket for a route, defaulting to the explanation
// bucket for unknown labels.
func (b Buckets) Recommend(route string) string {
	if out, ok := b[strings.TrimSpace(route)]; ok {
		return out
	}
	return RouteExplanation
}
