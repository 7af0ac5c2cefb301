// Package task wraps one running or suspended graph execution per session.
// An instance owns the message inbox, the per-turn result slot, and the
// activity-callback registration the ingress layer subscribes through.
package task

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/protocol"
)

// ErrCompleted is returned by Send once the instance's run has reached a
// terminal outcome. The router reacts by starting a fresh instance.
var ErrCompleted = errors.New("task instance already completed")

// Message is one inbound user utterance with its transport metadata. The
// metadata rides with each inbox entry; when a drain coalesces several
// entries the latest non-empty value of each field wins.
type Message struct {
	Text    string
	Type    string
	Context string
	Channel string
}

// Run-value keys under which the instance publishes the latest drained
// transport metadata for node bodies.
const (
	KeyMessageType    = "message_type"
	KeyMessageContext = "message_context"
	KeySideChannel    = "side_channel"
)

// TurnOutcome resolves one external send. Terminal marks the instance as
// finished; Interrupt is set instead of Response when the run asked to be
// re-routed.
type TurnOutcome struct {
	Response  *protocol.Response
	Interrupt *graph.Interrupt
	Terminal  bool
}

// Instance drives one graph run for one session. The run executes on its
// own goroutine, started lazily by the first Send.
type Instance struct {
	id        string
	sessionID string
	graph     *graph.Graph
	engine    *graph.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	inbox      []Message
	turn       *oneshot
	started    bool
	finished   bool
	msgType    string
	msgContext string
	msgChannel string
	active     *graph.Run
	onComplete func()
	onActivity func(string)

	wake chan struct{}
}

func New(id, sessionID string, g *graph.Graph, engine *graph.Engine) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		id:        id,
		sessionID: sessionID,
		graph:     g,
		engine:    engine,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

func (i *Instance) ID() string        { return i.id }
func (i *Instance) SessionID() string { return i.sessionID }
func (i *Instance) Route() string     { return i.graph.Name() }

// OnComplete registers the hook fired once when the run reaches a terminal
// outcome. Interrupted runs do not fire it; the router tears the session
// down itself in that path.
func (i *Instance) OnComplete(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onComplete = fn
}

// SetActivityCallback registers the single activity subscriber, replacing
// any previous registration.
func (i *Instance) SetActivityCallback(fn func(string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onActivity = fn
}

// Pending reports how many enqueued messages no node has drained yet.
func (i *Instance) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.inbox)
}

// Cancel aborts the background run. Waiters receive the run's context
// error.
func (i *Instance) Cancel() {
	i.cancel()
}

// Send enqueues a message and blocks until the run resolves the current
// turn, either by suspending with an interim response, finishing, or
// raising an interrupt. Sends that arrive while a turn is already pending
// join that turn and share its result.
func (i *Instance) Send(ctx context.Context, msg Message) (TurnOutcome, error) {
	i.mu.Lock()
	if i.finished {
		i.mu.Unlock()
		return TurnOutcome{}, ErrCompleted
	}
	if i.turn == nil || i.turn.done() {
		i.turn = newOneshot()
	}
	t := i.turn
	i.inbox = append(i.inbox, msg)
	if !i.started {
		i.started = true
		go i.run()
	}
	i.mu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}

	select {
	case <-t.ch:
		return t.val.out, t.val.err
	case <-ctx.Done():
		return TurnOutcome{}, ctx.Err()
	}
}

func (i *Instance) run() {
	first, err := i.WaitMessage(i.ctx)
	if err != nil {
		i.finish(TurnOutcome{Terminal: true}, err, false)
		return
	}

	run := graph.NewRun(i.sessionID, first, i)
	i.mu.Lock()
	i.active = run
	i.mu.Unlock()
	i.applyEnvelope(run)

	out, err := i.engine.Run(i.ctx, i.graph, run)
	if err != nil {
		i.finish(TurnOutcome{Terminal: true}, err, false)
		return
	}

	switch out.Kind {
	case graph.Interrupted:
		i.finish(TurnOutcome{Interrupt: out.Interrupt, Terminal: true}, nil, false)
	default:
		i.finish(TurnOutcome{Response: out.Response, Terminal: true}, nil, true)
	}
}

// finish marks the instance done, resolves any pending turn, and fires the
// completion hook when the run completed normally.
func (i *Instance) finish(out TurnOutcome, err error, completed bool) {
	i.mu.Lock()
	i.finished = true
	t := i.turn
	hook := i.onComplete
	i.mu.Unlock()

	// The hook runs before waiters wake so a caller never observes the
	// session still registered after its terminal response.
	if completed && hook != nil {
		hook()
	}
	if t != nil && !t.done() {
		t.resolve(out, err)
	}
}

// DeliverInterim resolves the pending turn with a non-terminal response.
// When no turn is waiting the text is forwarded as an activity line so the
// content is not lost entirely.
func (i *Instance) DeliverInterim(resp *protocol.Response) {
	i.mu.Lock()
	t := i.turn
	i.mu.Unlock()

	if t != nil && !t.done() {
		t.resolve(TurnOutcome{Response: resp}, nil)
		return
	}
	if resp != nil && resp.Message != "" {
		i.NotifyActivity(resp.Message)
	}
}

// WaitMessage flushes every message that arrived before this call, joined
// with a blank line in arrival order, and otherwise blocks for the next
// one. Bursts sent while the run was busy therefore coalesce into a single
// logical utterance. Drained metadata is republished to the active run so
// resumed nodes see the context that accompanied the resuming message.
func (i *Instance) WaitMessage(ctx context.Context) (string, error) {
	for {
		i.mu.Lock()
		if len(i.inbox) > 0 {
			texts := make([]string, len(i.inbox))
			for n, msg := range i.inbox {
				texts[n] = msg.Text
				if msg.Type != "" {
					i.msgType = msg.Type
				}
				if msg.Context != "" {
					i.msgContext = msg.Context
				}
				if msg.Channel != "" {
					i.msgChannel = msg.Channel
				}
			}
			i.inbox = nil
			run := i.active
			i.mu.Unlock()
			if run != nil {
				i.applyEnvelope(run)
			}
			return strings.Join(texts, "\n\n"), nil
		}
		i.mu.Unlock()

		select {
		case <-i.wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// applyEnvelope writes the latest drained metadata into the run's values.
// It only runs on the run goroutine, so it never races node bodies.
func (i *Instance) applyEnvelope(run *graph.Run) {
	i.mu.Lock()
	msgType, msgContext, msgChannel := i.msgType, i.msgContext, i.msgChannel
	i.mu.Unlock()
	run.Set(KeyMessageType, msgType)
	run.Set(KeyMessageContext, msgContext)
	run.Set(KeySideChannel, msgChannel)
}

// NotifyActivity forwards a progress line to the registered subscriber.
func (i *Instance) NotifyActivity(activity string) {
	i.mu.Lock()
	fn := i.onActivity
	i.mu.Unlock()
	if fn != nil {
		fn(activity)
	}
}
