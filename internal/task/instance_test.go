package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/protocol"
)

func echoGraph() *graph.Graph {
	g := graph.New("echo", "reply")
	g.Node("reply", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
		return &protocol.Response{Message: "you said: " + run.Message}, nil
	})
	return g
}

func TestSendTerminalAndCompletionHook(t *testing.T) {
	inst := New("t1", "s1", echoGraph(), graph.NewEngine())

	completions := 0
	inst.OnComplete(func() { completions++ })

	out, err := inst.Send(context.Background(), Message{Text: "hello", Type: "text"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !out.Terminal {
		t.Fatalf("Send() terminal = false, want true")
	}
	if out.Response == nil || out.Response.Message != "you said: hello" {
		t.Fatalf("Send() response = %+v", out.Response)
	}
	if completions != 1 {
		t.Fatalf("completion hook fired %d times, want 1", completions)
	}

	if _, err := inst.Send(context.Background(), Message{Text: "again"}); !errors.Is(err, ErrCompleted) {
		t.Fatalf("Send() after completion error = %v, want ErrCompleted", err)
	}
}

func TestSendSuspendThenResume(t *testing.T) {
	g := graph.New("amount", "ask")
	g.Node("ask", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
		return &protocol.Response{Message: "How much?"}, nil
	}).Suspend().Then("confirm")
	g.Node("confirm", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
		return &protocol.Response{Message: "Sending " + run.Message}, nil
	})

	inst := New("t1", "s1", g, graph.NewEngine())

	out, err := inst.Send(context.Background(), Message{Text: "send usdc"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Terminal {
		t.Fatalf("first turn terminal = true, want interim")
	}
	if out.Response.Message != "How much?" {
		t.Fatalf("first turn response = %q", out.Response.Message)
	}

	out, err = inst.Send(context.Background(), Message{Text: "5"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !out.Terminal || out.Response.Message != "Sending 5" {
		t.Fatalf("second turn = %+v, want terminal Sending 5", out)
	}
}

func TestSendEnvelopeFollowsResumedMessage(t *testing.T) {
	g := graph.New("amount", "ask")
	g.Node("ask", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
		return &protocol.Response{Message: "How much?"}, nil
	}).Suspend().Then("confirm")
	g.Node("confirm", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
		return &protocol.Response{
			Message: run.GetString(KeyMessageContext) + " via " + run.GetString(KeySideChannel),
		}, nil
	})

	inst := New("t1", "s1", g, graph.NewEngine())

	if _, err := inst.Send(context.Background(), Message{Text: "send usdc", Context: "first", Channel: "telegram"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// The resumed message carries fresh context; its empty channel keeps
	// the previous value.
	out, err := inst.Send(context.Background(), Message{Text: "5", Context: "second"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Response.Message != "second via telegram" {
		t.Fatalf("resumed envelope = %q, want %q", out.Response.Message, "second via telegram")
	}
}

func TestSendBurstCoalescesInArrivalOrder(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	var drained string

	g := graph.New("burst", "busy")
	g.Node("busy", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
		close(entered)
		<-gate
		return &protocol.Response{Message: "ready for more"}, nil
	}).Suspend().Then("drain")
	g.Node("drain", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
		drained = run.Message
		return &protocol.Response{Message: "ok"}, nil
	})

	inst := New("t1", "s1", g, graph.NewEngine())

	var wg sync.WaitGroup
	send := func(text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inst.Send(context.Background(), Message{Text: text}); err != nil {
				t.Errorf("Send(%q) error = %v", text, err)
			}
		}()
	}

	send("a")
	<-entered

	send("b")
	waitPending(t, inst, 1)
	send("c")
	waitPending(t, inst, 2)

	close(gate)
	wg.Wait()

	// Give the run goroutine time to drain past the suspend point.
	deadline := time.After(2 * time.Second)
	for drained == "" {
		select {
		case <-deadline:
			t.Fatalf("drain node never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if drained != "b\n\nc" {
		t.Fatalf("drained = %q, want burst joined by blank line in order", drained)
	}
}

func waitPending(t *testing.T, inst *Instance, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for inst.Pending() != want {
		select {
		case <-deadline:
			t.Fatalf("Pending() = %d, want %d", inst.Pending(), want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestSendInterruptSkipsCompletionHook(t *testing.T) {
	g := graph.New("transfer", "start")
	g.Node("start", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
		return nil, &graph.Interrupt{Payload: `{"intent":"crypto_price_query","message":"eth price"}`}
	})

	inst := New("t1", "s1", g, graph.NewEngine())
	hookFired := false
	inst.OnComplete(func() { hookFired = true })

	out, err := inst.Send(context.Background(), Message{Text: "send"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !out.Terminal || out.Interrupt == nil {
		t.Fatalf("Send() = %+v, want terminal interrupt", out)
	}
	if hookFired {
		t.Fatalf("completion hook fired on interrupt, want skipped")
	}
}

func TestSendActivityCallback(t *testing.T) {
	g := graph.New("price", "quote")
	g.Node("quote", func(_ context.Context, run *graph.Run) (*protocol.Response, error) {
		run.Notify("Fetching quote")
		return &protocol.Response{Message: "done"}, nil
	})

	inst := New("t1", "s1", g, graph.NewEngine())
	var activities []string
	var mu sync.Mutex
	inst.SetActivityCallback(func(a string) {
		mu.Lock()
		activities = append(activities, a)
		mu.Unlock()
	})

	if _, err := inst.Send(context.Background(), Message{Text: "price"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(activities) != 1 || activities[0] != "Fetching quote" {
		t.Fatalf("activities = %v, want [Fetching quote]", activities)
	}
}

func TestSendCallerContextCancel(t *testing.T) {
	gate := make(chan struct{})
	g := graph.New("stall", "busy")
	g.Node("busy", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
		<-gate
		return &protocol.Response{Message: "done"}, nil
	})

	inst := New("t1", "s1", g, graph.NewEngine())
	defer close(gate)
	defer inst.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inst.Send(ctx, Message{Text: "go"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
}

func TestOneshotDoubleSetPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("second resolve did not panic")
		}
	}()

	slot := newOneshot()
	slot.resolve(TurnOutcome{}, nil)
	slot.resolve(TurnOutcome{}, nil)
}
