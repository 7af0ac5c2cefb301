package flows

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/market"
	"github.com/edoventura/crossbar/internal/protocol"
)

const (
	keyToken     = "token"
	keyAmount    = "amount"
	keyRecipient = "recipient"
	keyVerdict   = "verdict"
)

// actionBuilder drives transfer- and swap-style workflows. It collects the
// missing pieces of the order across suspend points, confirms, then emits
// a signing link. A resumed message that clearly belongs to another
// workflow raises a re-route interrupt instead of being force-fit.
func actionBuilder(deps Deps, verb string) func(sessionID string) *graph.Graph {
	ownRoutes := []string{intent.RouteTransfer, intent.RouteSwap}
	needsRecipient := verb == "send"

	nextStep := func(run *graph.Run) string {
		if _, ok := run.Get(keyAmount); !ok {
			return "ask_amount"
		}
		if needsRecipient {
			if _, ok := run.Get(keyRecipient); !ok {
				return "ask_recipient"
			}
		}
		return "confirm"
	}

	return func(_ string) *graph.Graph {
		g := graph.New(verbRoute(verb), "start")

		g.Node("start", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			token, err := resolveToken(ctx, deps, run.Message, true)
			if err != nil {
				return nil, err
			}
			run.Set(keyToken, token)
			if amount, ok := extractAmount(run.Message); ok {
				run.Set(keyAmount, amount)
			}
			if recipient, ok := extractRecipient(run.Message); ok {
				run.Set(keyRecipient, recipient)
			}
			return nil, nil
		}).Decide(nextStep)

		g.Node("ask_amount", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
			tok := tokenFrom(run)
			return &protocol.Response{
				Message: fmt.Sprintf("How much %s would you like to %s?", tok.Symbol, verb),
			}, nil
		}).Suspend().Then("got_amount")

		g.Node("got_amount", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			if route := classifyAside(ctx, deps, ownRoutes, run.Message); route != "" {
				return nil, interruptFor(route, run.Message)
			}
			if amount, ok := extractAmount(run.Message); ok {
				run.Set(keyAmount, amount)
			}
			return nil, nil
		}).Decide(nextStep)

		g.Node("ask_recipient", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
			return &protocol.Response{Message: "Who should receive it?"}, nil
		}).Suspend().Then("got_recipient")

		g.Node("got_recipient", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			if route := classifyAside(ctx, deps, ownRoutes, run.Message); route != "" {
				return nil, interruptFor(route, run.Message)
			}
			if recipient, ok := extractRecipient("to " + run.Message); ok {
				run.Set(keyRecipient, recipient)
			}
			return nil, nil
		}).Decide(nextStep)

		g.Node("confirm", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
			return &protocol.Response{Message: confirmPrompt(run, verb, needsRecipient)}, nil
		}).Suspend().Then("verdict")

		g.Node("verdict", func(ctx context.Context, run *graph.Run) (*protocol.Response, error) {
			msg := run.Message
			switch {
			case yesPattern.MatchString(msg):
				run.Set(keyVerdict, "yes")
			case noPattern.MatchString(msg):
				run.Set(keyVerdict, "no")
			default:
				if route := classifyAside(ctx, deps, ownRoutes, msg); route != "" {
					return nil, interruptFor(route, msg)
				}
				run.Set(keyVerdict, "retry")
			}
			return nil, nil
		}).Decide(func(run *graph.Run) string {
			switch run.GetString(keyVerdict) {
			case "yes":
				return "execute"
			case "no":
				return "cancelled"
			default:
				return "confirm"
			}
		})

		g.Node("execute", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
			tok := tokenFrom(run)
			txID := uuid.NewString()
			return &protocol.Response{
				Message:         fmt.Sprintf("Your %s order for %s is ready. Open the signing link to approve it.", verb, tok.Symbol),
				SignURL:         "https://sign.crossbar.app/tx/" + txID,
				TransactionHash: "0x" + uuid.NewString(),
			}, nil
		})

		g.Node("cancelled", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
			return &protocol.Response{Message: "Okay, I cancelled that. Nothing was signed."}, nil
		})

		return g
	}
}

func tokenFrom(run *graph.Run) market.Token {
	v, _ := run.Get(keyToken)
	tok, _ := v.(market.Token)
	return tok
}

func verbRoute(verb string) string {
	if verb == "swap" {
		return intent.RouteSwap
	}
	return intent.RouteTransfer
}

func confirmPrompt(run *graph.Run, verb string, needsRecipient bool) string {
	tok := tokenFrom(run)
	amount, _ := run.Get(keyAmount)
	if needsRecipient {
		recipient, _ := run.Get(keyRecipient)
		return fmt.Sprintf("%s %v %s to %v? (yes/no)", titleVerb(verb), amount, tok.Symbol, recipient)
	}
	return fmt.Sprintf("%s %v %s? (yes/no)", titleVerb(verb), amount, tok.Symbol)
}

func titleVerb(verb string) string {
	if verb == "" {
		return verb
	}
	return string(verb[0]-'a'+'A') + verb[1:]
}
