// Package graph runs named-node task graphs. A graph advances node by node
// inside a single goroutine, pausing at suspend points to wait for the next
// user message and stopping when a node without a successor produces the
// terminal response.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/edoventura/crossbar/internal/protocol"
)

// ErrStepLimit guards against graphs that cycle without ever suspending.
var ErrStepLimit = errors.New("graph exceeded step limit")

const maxSteps = 256

// Interrupt aborts a run because the conversation was re-routed. Payload
// carries the raw re-route envelope for the router to parse.
type Interrupt struct {
	Payload string
}

func (i *Interrupt) Error() string { return "task interrupted" }

// Runtime is the surface a run uses to talk back to its owning task
// instance.
type Runtime interface {
	// DeliverInterim resolves the in-flight turn with a non-terminal
	// response, typically right before the run suspends for more input.
	DeliverInterim(resp *protocol.Response)
	// WaitMessage blocks until the user sends another message. It returns
	// an *Interrupt error when the conversation has been re-routed.
	WaitMessage(ctx context.Context) (string, error)
	// NotifyActivity pushes a human-readable progress line to whichever
	// callback is registered on the instance, if any.
	NotifyActivity(activity string)
}

// HistoryEntry is one line of the run's conversation history.
type HistoryEntry struct {
	Sender  string
	Content string
}

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Run is the mutable state threaded through one execution of a graph.
type Run struct {
	SessionID string
	// Message holds the most recent user input, refreshed after every
	// suspend point.
	Message string
	// History accumulates the conversation in delivery order. Resumes
	// append under the user sender, delivered responses under assistant.
	History []HistoryEntry

	values map[string]any
	rt     Runtime
}

func NewRun(sessionID, message string, rt Runtime) *Run {
	r := &Run{
		SessionID: sessionID,
		Message:   message,
		values:    make(map[string]any),
		rt:        rt,
	}
	if message != "" {
		r.AppendHistory(SenderUser, message)
	}
	return r
}

func (r *Run) AppendHistory(sender, content string) {
	r.History = append(r.History, HistoryEntry{Sender: sender, Content: content})
}

// Notify forwards a progress line to the instance's activity callback.
func (r *Run) Notify(activity string) {
	r.rt.NotifyActivity(activity)
}

func (r *Run) Set(key string, value any) { r.values[key] = value }

func (r *Run) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Run) GetString(key string) string {
	if v, ok := r.values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Body is a node's behavior. The returned response is delivered when the
// node suspends or terminates the graph and is dropped otherwise.
type Body func(ctx context.Context, run *Run) (*protocol.Response, error)

// DecideFunc picks the next node from run state.
type DecideFunc func(run *Run) string

type successor struct {
	fixed  string
	decide DecideFunc
}

// Node is one named step of a graph.
type Node struct {
	name    string
	body    Body
	next    *successor
	suspend bool
}

// Then wires a fixed successor.
func (n *Node) Then(name string) *Node {
	n.next = &successor{fixed: name}
	return n
}

// Decide wires a successor chosen at runtime.
func (n *Node) Decide(fn DecideFunc) *Node {
	n.next = &successor{decide: fn}
	return n
}

// Suspend marks the node as a wait point. After its response is delivered
// the run blocks for the next user message before moving on.
func (n *Node) Suspend() *Node {
	n.suspend = true
	return n
}

// Graph is an immutable-after-build set of nodes with a designated start.
type Graph struct {
	name  string
	start string
	nodes map[string]*Node
}

func New(name, start string) *Graph {
	return &Graph{name: name, start: start, nodes: make(map[string]*Node)}
}

func (g *Graph) Name() string { return g.name }

// Node registers a node and returns it for successor wiring.
func (g *Graph) Node(name string, body Body) *Node {
	n := &Node{name: name, body: body}
	g.nodes[name] = n
	return n
}

// Validate checks that the start node and every wired fixed successor
// exist. Decide successors are only checkable at runtime.
func (g *Graph) Validate() error {
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("graph %q: start node %q not registered", g.name, g.start)
	}
	for name, n := range g.nodes {
		if n.next != nil && n.next.fixed != "" {
			if _, ok := g.nodes[n.next.fixed]; !ok {
				return fmt.Errorf("graph %q: node %q points at missing node %q", g.name, name, n.next.fixed)
			}
		}
	}
	return nil
}
