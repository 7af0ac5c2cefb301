// Package match provides approximate string similarity scoring and the
// weighted confidence aggregation used by entity resolution.
package match

import "strings"

// Similarity scores how closely mention matches target on a 0-100 scale.
// Both inputs are case-folded and whitespace-collapsed before comparison; the
// score is the normalized Levenshtein ratio, so 100 means equal after
// normalization and 0 means no character survives the edit.
func Similarity(mention, target string) float64 {
	a := Normalize(mention)
	b := Normalize(target)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	dist := levenshtein(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	ratio := 1 - float64(dist)/float64(longest)
	if ratio < 0 {
		ratio = 0
	}
	return ratio * 100
}

// Normalize lowercases and collapses interior whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LogWeightedAverage blends per-key scores weighting each score by itself,
// so a single strong key dominates the blend more than an arithmetic mean
// would. Scores at or below zero contribute nothing. An all-zero input
// yields 0.
func LogWeightedAverage(scores []float64) float64 {
	var weightedSum, weightTotal float64
	for _, s := range scores {
		if s <= 0 {
			continue
		}
		weightedSum += s * s
		weightTotal += s
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	out := vals[0]
	for _, v := range vals[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
