package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/edoventura/crossbar/internal/protocol"
)

// OutcomeKind says how a run ended.
type OutcomeKind int

const (
	// Completed means the graph reached a terminal node or a node failed
	// and the run produced its final response.
	Completed OutcomeKind = iota
	// Interrupted means the conversation was re-routed mid-run.
	Interrupted
)

// Outcome is the result of running a graph to its end.
type Outcome struct {
	Kind      OutcomeKind
	Response  *protocol.Response
	Interrupt *Interrupt
	// Err records a node failure that was converted into the terminal
	// response. It is informational; the run still counts as completed.
	Err error
}

// Engine executes graphs.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Run executes g from its start node against run. It returns a Completed
// outcome with a terminal response, a Completed outcome carrying the node
// error when a node fails, or an Interrupted outcome when the run is
// re-routed. Node revisits are allowed; only the step limit bounds them.
func (e *Engine) Run(ctx context.Context, g *Graph, run *Run) (Outcome, error) {
	if err := g.Validate(); err != nil {
		return Outcome{}, err
	}

	cur := g.start
	for steps := 0; steps < maxSteps; steps++ {
		node, ok := g.nodes[cur]
		if !ok {
			return Outcome{}, fmt.Errorf("graph %q: node %q not registered", g.name, cur)
		}

		resp, err := node.body(ctx, run)
		if err != nil {
			var intr *Interrupt
			if errors.As(err, &intr) {
				return Outcome{Kind: Interrupted, Interrupt: intr}, nil
			}
			// The error text is the user-facing terminal message; nodes
			// phrase expected failures (low-confidence match, missing
			// field) as clarifying questions.
			failure := &protocol.Response{Message: err.Error()}
			run.AppendHistory(SenderAssistant, failure.Message)
			return Outcome{
				Kind:     Completed,
				Response: failure,
				Err:      fmt.Errorf("graph %q node %q: %w", g.name, cur, err),
			}, nil
		}
		if resp != nil && resp.Message != "" {
			run.AppendHistory(SenderAssistant, resp.Message)
		}

		if node.next == nil {
			if resp == nil {
				resp = &protocol.Response{Message: ""}
			}
			return Outcome{Kind: Completed, Response: resp}, nil
		}

		if node.suspend {
			run.rt.DeliverInterim(resp)
			msg, err := run.rt.WaitMessage(ctx)
			if err != nil {
				var intr *Interrupt
				if errors.As(err, &intr) {
					return Outcome{Kind: Interrupted, Interrupt: intr}, nil
				}
				return Outcome{}, fmt.Errorf("graph %q node %q: wait input: %w", g.name, cur, err)
			}
			run.Message = msg
			run.AppendHistory(SenderUser, msg)
		}

		if node.next.decide != nil {
			cur = node.next.decide(run)
			continue
		}
		cur = node.next.fixed
	}

	return Outcome{}, fmt.Errorf("graph %q: %w", g.name, ErrStepLimit)
}
