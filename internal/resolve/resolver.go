// Package resolve maps free-text user mentions onto canonical candidate
// records with calibrated confidence, combining a cheap approximate pass
// with an LLM disambiguation pass. Either stage is optional.
package resolve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edoventura/crossbar/internal/llm"
	"github.com/edoventura/crossbar/internal/match"
)

const (
	// DefaultCutoff is the approximate-stage acceptance threshold on the
	// 0-100 similarity scale.
	DefaultCutoff = 70.0

	// DefaultLimit caps how many approximate survivors are kept.
	DefaultLimit = 5

	defaultTopAlternatives = 4
)

// Candidate is one canonical record, keyed by field name.
type Candidate map[string]string

// Match pairs a candidate with a confidence percentage in [0,100].
type Match struct {
	Candidate  Candidate
	Confidence float64
}

// Result carries the outcome of a resolution. ApproxMatches and LLMMatches
// are independently nil when their stage was not requested.
type Result struct {
	Mention       string
	ApproxMatches []Match
	LLMMatches    []Match
}

// Resolver runs the two resolution stages. The zero cutoff/limit fall back
// to package defaults.
type Resolver struct {
	client  llm.Client
	cutoff  float64
	limit   int
	observe func(stage string, seconds float64)
}

// Option adjusts resolver behavior.
type Option func(*Resolver)

// WithCutoff overrides the approximate-stage acceptance threshold.
func WithCutoff(cutoff float64) Option {
	return func(r *Resolver) {
		if cutoff > 0 {
			r.cutoff = cutoff
		}
	}
}

// WithLimit overrides how many approximate survivors are kept.
func WithLimit(limit int) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// WithStageObserver registers a callback invoked with each stage's wall
// time, named "approximate" or "llm".
func WithStageObserver(fn func(stage string, seconds float64)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

func New(client llm.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client: client,
		cutoff: DefaultCutoff,
		limit:  DefaultLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve runs the requested stages for one mention. Passing no approximate
// keys skips stage one; passing no LLM keys skips stage two; passing neither
// returns the mention unresolved.
func (r *Resolver) Resolve(ctx context.Context, mention string, candidates []Candidate, approxKeys, llmKeys []string) (Result, error) {
	out := Result{Mention: mention}

	if len(approxKeys) > 0 {
		started := time.Now()
		out.ApproxMatches = r.approximate(mention, candidates, approxKeys)
		r.timeStage("approximate", started)
	}

	if len(llmKeys) > 0 {
		catalogue := candidates
		if len(approxKeys) > 0 && len(out.ApproxMatches) > 0 {
			catalogue = make([]Candidate, 0, len(out.ApproxMatches))
			for _, m := range out.ApproxMatches {
				catalogue = append(catalogue, m.Candidate)
			}
		}
		started := time.Now()
		matches, err := r.disambiguate(ctx, mention, catalogue, llmKeys)
		r.timeStage("llm", started)
		if err != nil {
			return Result{}, err
		}
		out.LLMMatches = matches
	}

	return out, nil
}

func (r *Resolver) timeStage(stage string, started time.Time) {
	if r.observe != nil {
		r.observe(stage, time.Since(started).Seconds())
	}
}

// approximate scores every candidate across the requested keys and keeps the
// ones at or above the cutoff, best first.
func (r *Resolver) approximate(mention string, candidates []Candidate, keys []string) []Match {
	out := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		scores := make([]float64, 0, len(keys))
		for _, key := range keys {
			s := match.Similarity(mention, cand[key])
			// A flat zero is indistinguishable from "no information";
			// keep it barely alive instead.
			if s == 0 {
				s = 1
			}
			scores = append(scores, s)
		}
		conf := match.LogWeightedAverage(scores)
		if conf < r.cutoff {
			continue
		}
		out = append(out, Match{Candidate: cand, Confidence: conf})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > r.limit {
		out = out[:r.limit]
	}
	return out
}

// disambiguate asks the model to pick one catalogue index and converts the
// returned token alternatives into ranked candidate matches.
func (r *Resolver) disambiguate(ctx context.Context, mention string, catalogue []Candidate, keys []string) ([]Match, error) {
	if len(catalogue) == 0 {
		return []Match{}, nil
	}

	completion, err := r.client.Complete(ctx, llm.Request{
		System: "You match a user phrase to one entry of a numbered catalogue. " +
			"Answer with the single index of the best match and nothing else.",
		Messages: []llm.Message{
			{Role: "user", Content: buildCataloguePrompt(mention, catalogue, keys)},
		},
		MaxTokens:       4,
		WantLogprobs:    true,
		TopAlternatives: defaultTopAlternatives,
	})
	if err != nil {
		return nil, fmt.Errorf("llm disambiguation: %w", err)
	}

	alternatives := completion.Alternatives
	if len(alternatives) == 0 {
		alternatives = []llm.TokenAlternative{{Token: completion.Text, Logprob: 0}}
	}

	out := make([]Match, 0, len(alternatives))
	seen := make(map[int]bool, len(alternatives))
	for _, alt := range alternatives {
		idx, err := strconv.Atoi(strings.TrimSpace(alt.Token))
		if err != nil || idx < 0 || idx >= len(catalogue) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, Match{
			Candidate:  catalogue[idx],
			Confidence: logprobToPercent(alt.Logprob),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// Top returns the best match from the preferred stage: LLM matches when
// present, approximate matches otherwise.
func (res Result) Top() (Match, bool) {
	if len(res.LLMMatches) > 0 {
		return res.LLMMatches[0], true
	}
	if len(res.ApproxMatches) > 0 {
		return res.ApproxMatches[0], true
	}
	return Match{}, false
}

func buildCataloguePrompt(mention string, catalogue []Candidate, keys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phrase: %q\n\nCatalogue:\n", mention)
	for i, cand := range catalogue {
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			if v := strings.TrimSpace(cand[key]); v != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", key, v))
			}
		}
		fmt.Fprintf(&b, "%d: %s\n", i, strings.Join(parts, " "))
	}
	b.WriteString("\nIndex of the best match:")
	return b.String()
}

func logprobToPercent(logprob float64) float64 {
	p := math.Exp(logprob) * 100
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}
