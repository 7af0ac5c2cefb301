package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/protocol"
	"github.com/edoventura/crossbar/internal/session"
)

type countingClassifier struct {
	calls atomic.Int64
	route string
}

func (c *countingClassifier) Classify(_ context.Context, _ string) (intent.Classification, error) {
	c.calls.Add(1)
	return intent.Classification{Route: c.route, Confidence: 90}, nil
}

func replyGraph(message string) Builder {
	return func(_ string) *graph.Graph {
		g := graph.New("reply", "done")
		g.Node("done", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
			return &protocol.Response{Message: message}, nil
		})
		return g
	}
}

func interruptGraph(payload string) Builder {
	return func(_ string) *graph.Graph {
		g := graph.New("interrupting", "start")
		g.Node("start", func(_ context.Context, _ *graph.Run) (*protocol.Response, error) {
			return nil, &graph.Interrupt{Payload: payload}
		})
		return g
	}
}

func newRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = &countingClassifier{route: intent.RouteExplanation}
	}
	if cfg.Table == nil {
		cfg.Table = Table{FallbackRoute: replyGraph("hello")}
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestSendRequiredRouteSkipsClassifier(t *testing.T) {
	classifier := &countingClassifier{route: intent.RouteExplanation}
	var builtFor string
	table := Table{
		FallbackRoute: replyGraph("hello"),
		intent.RouteTransfer: func(sessionID string) *graph.Graph {
			builtFor = sessionID
			return replyGraph("transfer done")("")
		},
	}
	r := newRouter(t, Config{Classifier: classifier, Table: table})

	resp, err := r.Send(context.Background(), Request{
		SessionID:     "chat-1|t|tg",
		Message:       "send 5 usdc to bob",
		RequiredRoute: intent.RouteTransfer,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Message != "transfer done" {
		t.Fatalf("Send() message = %q", resp.Message)
	}
	if got := classifier.calls.Load(); got != 0 {
		t.Fatalf("classifier calls = %d, want 0 under required route", got)
	}
	if want := "chat-1|t|tg:transfer_crypto_action"; builtFor != want {
		t.Fatalf("instance session id = %q, want %q", builtFor, want)
	}
}

func TestSendRetryExhausted(t *testing.T) {
	var attempts atomic.Int64
	table := Table{
		FallbackRoute: func(sessionID string) *graph.Graph {
			attempts.Add(1)
			return interruptGraph(`{"intent": null, "message": "x"}`)("")
		},
	}
	classifier := &countingClassifier{route: intent.RouteNone}
	r := newRouter(t, Config{Classifier: classifier, Table: table, MaxRetries: 3})

	_, err := r.Send(context.Background(), Request{SessionID: "s", Message: "hi"})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Send() error = %v, want ErrRetryExhausted", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 4", got)
	}
	if got := classifier.calls.Load(); got != 4 {
		t.Fatalf("classifier calls = %d, want one per attempt", got)
	}
}

func TestSendAllowListRejectsRoute(t *testing.T) {
	sessions := session.NewManager()
	r := newRouter(t, Config{
		Sessions:   sessions,
		Classifier: &countingClassifier{route: intent.RouteSwap},
	})

	_, err := r.Send(context.Background(), Request{
		SessionID:     "s",
		Message:       "swap it all",
		AllowedRoutes: []string{intent.RoutePriceQuery, intent.RouteNewsQuery},
	})
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("Send() error = %v, want ErrInvalidRoute", err)
	}
	if sessions.Len() != 0 {
		t.Fatalf("sessions = %d, want none created on routing error", sessions.Len())
	}
}

func TestSendPinnedOutOfScopeReturnsRecommendations(t *testing.T) {
	table := Table{
		FallbackRoute:        replyGraph("hello"),
		intent.RouteTransfer: interruptGraph(`{"intent":"crypto_price_query","message":"price of eth?"}`),
	}
	classifier := &countingClassifier{route: intent.RoutePriceQuery}
	sessions := session.NewManager()
	r := newRouter(t, Config{Sessions: sessions, Classifier: classifier, Table: table})

	resp, err := r.Send(context.Background(), Request{
		SessionID:     "s",
		Message:       "price of eth?",
		RequiredRoute: intent.RouteTransfer,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Message != "" {
		t.Fatalf("Send() message = %q, want empty for recommendation response", resp.Message)
	}
	if len(resp.RouteRecommendations) != 1 || resp.RouteRecommendations[0] != intent.RouteTokenAnalysis {
		t.Fatalf("RouteRecommendations = %v, want [token_analysis_query]", resp.RouteRecommendations)
	}
	if sessions.Len() != 0 {
		t.Fatalf("sessions = %d, want pinned session removed", sessions.Len())
	}
}

func TestSendMalformedInterruptPropagates(t *testing.T) {
	table := Table{FallbackRoute: interruptGraph(`{"intent":"a"} {"intent":"b"}`)}
	r := newRouter(t, Config{Table: table, Classifier: &countingClassifier{route: intent.RouteNone}})

	_, err := r.Send(context.Background(), Request{SessionID: "s", Message: "hi"})
	if !errors.Is(err, protocol.ErrMalformedInterrupt) {
		t.Fatalf("Send() error = %v, want ErrMalformedInterrupt", err)
	}
}

func TestSendRemovesSessionOnCompletion(t *testing.T) {
	sessions := session.NewManager()
	r := newRouter(t, Config{Sessions: sessions})

	resp, err := r.Send(context.Background(), Request{SessionID: "s", Message: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Message != "hello" {
		t.Fatalf("Send() message = %q", resp.Message)
	}
	if sessions.Len() != 0 {
		t.Fatalf("sessions = %d, want 0 after terminal turn", sessions.Len())
	}
}

func TestSendUnknownRouteFallsBack(t *testing.T) {
	r := newRouter(t, Config{
		Classifier: &countingClassifier{route: "route_nobody_registered"},
		Table:      Table{FallbackRoute: replyGraph("general assistance")},
	})

	resp, err := r.Send(context.Background(), Request{SessionID: "s", Message: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Message != "general assistance" {
		t.Fatalf("Send() message = %q, want fallback builder output", resp.Message)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatalf("New(empty) error = nil, want error")
	}

	_, err = New(Config{
		Sessions:   session.NewManager(),
		Classifier: &countingClassifier{route: intent.RouteNone},
		Table:      Table{},
	})
	if err == nil {
		t.Fatalf("New(no fallback) error = nil, want error")
	}
}
