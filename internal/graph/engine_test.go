package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/edoventura/crossbar/internal/protocol"
)

type fakeRuntime struct {
	interim    []*protocol.Response
	inbox      []string
	waitErr    error
	activities []string
}

func (f *fakeRuntime) DeliverInterim(resp *protocol.Response) {
	f.interim = append(f.interim, resp)
}

func (f *fakeRuntime) NotifyActivity(activity string) {
	f.activities = append(f.activities, activity)
}

func (f *fakeRuntime) WaitMessage(_ context.Context) (string, error) {
	if f.waitErr != nil {
		return "", f.waitErr
	}
	if len(f.inbox) == 0 {
		return "", errors.New("no queued messages")
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, nil
}

func respond(message string) Body {
	return func(_ context.Context, _ *Run) (*protocol.Response, error) {
		return &protocol.Response{Message: message}, nil
	}
}

func TestRunSuspendResumeRoundTrip(t *testing.T) {
	g := New("amount", "ask")
	g.Node("ask", respond("How much would you like to send?")).Suspend().Then("confirm")
	g.Node("confirm", func(_ context.Context, run *Run) (*protocol.Response, error) {
		return &protocol.Response{Message: "Sending " + run.Message + "."}, nil
	})

	rt := &fakeRuntime{inbox: []string{"5 USDC"}}
	out, err := NewEngine().Run(context.Background(), g, NewRun("s1", "send money", rt))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != Completed {
		t.Fatalf("Run() kind = %v, want Completed", out.Kind)
	}
	if len(rt.interim) != 1 || rt.interim[0].Message != "How much would you like to send?" {
		t.Fatalf("interim = %+v, want the suspend prompt", rt.interim)
	}
	if out.Response.Message != "Sending 5 USDC." {
		t.Fatalf("terminal message = %q, want resumed input echoed", out.Response.Message)
	}
}

func TestRunHistoryOrderAcrossSuspend(t *testing.T) {
	g := New("amount", "ask")
	g.Node("ask", respond("How much?")).Suspend().Then("done")
	g.Node("done", respond("Done."))

	rt := &fakeRuntime{inbox: []string{"m"}}
	run := NewRun("s1", "send money", rt)
	if _, err := NewEngine().Run(context.Background(), g, run); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []HistoryEntry{
		{Sender: SenderUser, Content: "send money"},
		{Sender: SenderAssistant, Content: "How much?"},
		{Sender: SenderUser, Content: "m"},
		{Sender: SenderAssistant, Content: "Done."},
	}
	if len(run.History) != len(want) {
		t.Fatalf("History = %+v, want %d entries", run.History, len(want))
	}
	for i, entry := range want {
		if run.History[i] != entry {
			t.Fatalf("History[%d] = %+v, want %+v", i, run.History[i], entry)
		}
	}
}

func TestRunNotifyForwardsActivity(t *testing.T) {
	g := New("price", "quote")
	g.Node("quote", func(_ context.Context, run *Run) (*protocol.Response, error) {
		run.Notify("Fetching the latest quote")
		return &protocol.Response{Message: "done"}, nil
	})

	rt := &fakeRuntime{}
	if _, err := NewEngine().Run(context.Background(), g, NewRun("s1", "price", rt)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rt.activities) != 1 || rt.activities[0] != "Fetching the latest quote" {
		t.Fatalf("activities = %v, want the notify line", rt.activities)
	}
}

func TestRunNodeErrorYieldsTerminalResponse(t *testing.T) {
	boom := errors.New("provider down")
	g := New("price", "quote")
	g.Node("quote", func(_ context.Context, _ *Run) (*protocol.Response, error) {
		return nil, boom
	})

	out, err := NewEngine().Run(context.Background(), g, NewRun("s1", "price?", &fakeRuntime{}))
	if err != nil {
		t.Fatalf("Run() error = %v, want node failure absorbed", err)
	}
	if out.Kind != Completed {
		t.Fatalf("Run() kind = %v, want Completed", out.Kind)
	}
	if out.Response == nil || out.Response.Message != "provider down" {
		t.Fatalf("Run() response = %+v, want the error text as terminal message", out.Response)
	}
	if !errors.Is(out.Err, boom) {
		t.Fatalf("Run() outcome err = %v, want wrapped %v", out.Err, boom)
	}
}

func TestRunInterruptFromBody(t *testing.T) {
	g := New("transfer", "start")
	g.Node("start", func(_ context.Context, _ *Run) (*protocol.Response, error) {
		return nil, &Interrupt{Payload: `{"intent":"crypto_price_query","message":"price of eth"}`}
	})

	out, err := NewEngine().Run(context.Background(), g, NewRun("s1", "send", &fakeRuntime{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != Interrupted {
		t.Fatalf("Run() kind = %v, want Interrupted", out.Kind)
	}
	if out.Interrupt == nil || out.Interrupt.Payload == "" {
		t.Fatalf("Run() interrupt = %+v, want payload carried through", out.Interrupt)
	}
}

func TestRunInterruptWhileSuspended(t *testing.T) {
	g := New("transfer", "ask")
	g.Node("ask", respond("Which token?")).Suspend().Then("done")
	g.Node("done", respond("ok"))

	rt := &fakeRuntime{waitErr: &Interrupt{Payload: `{"intent":null,"message":"never mind"}`}}
	out, err := NewEngine().Run(context.Background(), g, NewRun("s1", "send", rt))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != Interrupted {
		t.Fatalf("Run() kind = %v, want Interrupted", out.Kind)
	}
}

func TestRunDecideRevisitsNodes(t *testing.T) {
	visits := 0
	g := New("retry", "attempt")
	g.Node("attempt", func(_ context.Context, run *Run) (*protocol.Response, error) {
		visits++
		run.Set("ok", visits >= 3)
		return nil, nil
	}).Decide(func(run *Run) string {
		if ok, _ := run.Get("ok"); ok == true {
			return "done"
		}
		return "attempt"
	})
	g.Node("done", respond("took a few tries"))

	out, err := NewEngine().Run(context.Background(), g, NewRun("s1", "go", &fakeRuntime{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if visits != 3 {
		t.Fatalf("visits = %d, want 3", visits)
	}
	if out.Response.Message != "took a few tries" {
		t.Fatalf("terminal message = %q", out.Response.Message)
	}
}

func TestRunStepLimit(t *testing.T) {
	g := New("loop", "a")
	g.Node("a", func(_ context.Context, _ *Run) (*protocol.Response, error) {
		return nil, nil
	}).Then("a")

	_, err := NewEngine().Run(context.Background(), g, NewRun("s1", "go", &fakeRuntime{}))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run() error = %v, want ErrStepLimit", err)
	}
}

func TestValidate(t *testing.T) {
	g := New("bad", "missing")
	if err := g.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want missing start error")
	}

	g = New("bad", "a")
	g.Node("a", respond("x")).Then("ghost")
	if err := g.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want missing successor error")
	}
}
