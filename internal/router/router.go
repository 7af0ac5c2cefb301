// Package router owns the route table. It classifies inbound messages,
// finds or creates the session's task instance, and consumes re-route
// interrupts raised by running tasks.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/edoventura/crossbar/internal/graph"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/observability"
	"github.com/edoventura/crossbar/internal/protocol"
	"github.com/edoventura/crossbar/internal/session"
	"github.com/edoventura/crossbar/internal/task"
)

var (
	// ErrInvalidRoute means the classified route fell outside the
	// caller's allow-list; no task was created.
	ErrInvalidRoute = errors.New("classified route not allowed")
	// ErrRetryExhausted means re-route interrupts kept firing past the
	// retry budget.
	ErrRetryExhausted = errors.New("re-route retry budget exhausted")
)

// FallbackRoute keys the general-assistance builder used for unrecognized
// or empty routes.
const FallbackRoute = "general"

const requiredRouteConfidence = 100

// Builder constructs a fresh task graph for one session.
type Builder func(sessionID string) *graph.Graph

// Table maps route labels to graph builders. It must carry a FallbackRoute
// entry.
type Table map[string]Builder

// Request carries one inbound message and its transport envelope.
type Request struct {
	UserChatID       string
	SideChannelInfo  string
	SessionID        string
	Message          string
	MessageType      string
	Context          string
	UserAddress      string
	RequiredRoute    string
	AllowedRoutes    []string
	ActivityCallback func(string)
}

// Config wires a Router. Metrics may be nil.
type Config struct {
	Sessions   *session.Manager
	Classifier intent.Classifier
	Table      Table
	Engine     *graph.Engine
	Buckets    intent.Buckets
	MaxRetries int
	Metrics    *observability.Metrics
}

type Router struct {
	sessions   *session.Manager
	classifier intent.Classifier
	table      Table
	engine     *graph.Engine
	buckets    intent.Buckets
	maxRetries int
	metrics    *observability.Metrics
}

const defaultMaxRetries = 3

func New(cfg Config) (*Router, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("router: session manager is required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("router: classifier is required")
	}
	if _, ok := cfg.Table[FallbackRoute]; !ok {
		return nil, fmt.Errorf("router: table is missing the %q builder", FallbackRoute)
	}
	if cfg.Engine == nil {
		cfg.Engine = graph.NewEngine()
	}
	if cfg.Buckets == nil {
		cfg.Buckets = intent.DefaultBuckets()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Router{
		sessions:   cfg.Sessions,
		classifier: cfg.Classifier,
		table:      cfg.Table,
		engine:     cfg.Engine,
		buckets:    cfg.Buckets,
		maxRetries: cfg.MaxRetries,
		metrics:    cfg.Metrics,
	}, nil
}

// Send routes one message to its session's task and returns the turn's
// response.
func (r *Router) Send(ctx context.Context, req Request) (*protocol.Response, error) {
	started := time.Now()
	resp, err := r.send(ctx, req, 0)
	if r.metrics != nil {
		r.metrics.TurnLatency.Observe(time.Since(started).Seconds())
	}
	return resp, err
}

func (r *Router) send(ctx context.Context, req Request, retryCount int) (*protocol.Response, error) {
	route, sessionID, err := r.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RoutedMessages.WithLabelValues(route).Inc()
	}

	inst, found := r.sessions.Get(sessionID)
	if !found || route == intent.RouteTerminate {
		inst = r.startInstance(route, sessionID)
	}
	if req.ActivityCallback != nil {
		inst.SetActivityCallback(req.ActivityCallback)
	}

	out, err := inst.Send(ctx, task.Message{
		Text:    req.Message,
		Type:    req.MessageType,
		Context: req.Context,
		Channel: req.SideChannelInfo,
	})
	if errors.Is(err, task.ErrCompleted) {
		// The instance finished between lookup and send. Drop the stale
		// entry and route against a fresh one.
		r.sessions.Remove(sessionID)
		return r.send(ctx, req, retryCount)
	}
	if err != nil {
		return nil, err
	}

	if out.Interrupt != nil {
		return r.handleInterrupt(ctx, req, sessionID, out.Interrupt, retryCount)
	}
	return out.Response, nil
}

func (r *Router) resolveRoute(ctx context.Context, req Request) (route, sessionID string, err error) {
	if req.RequiredRoute != "" {
		// Pinned conversations get their own session key so they never
		// collide with an unconstrained conversation for the same chat.
		return req.RequiredRoute, req.SessionID + ":" + req.RequiredRoute, nil
	}

	cls, err := r.classifier.Classify(ctx, req.Message)
	if err != nil {
		return "", "", fmt.Errorf("classify message: %w", err)
	}
	if len(req.AllowedRoutes) > 0 && !contains(req.AllowedRoutes, cls.Route) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRoute, cls.Route)
	}
	return cls.Route, req.SessionID, nil
}

func (r *Router) startInstance(route, sessionID string) *task.Instance {
	builder, ok := r.table[route]
	if !ok {
		builder = r.table[FallbackRoute]
	}

	inst := task.New(uuid.NewString(), sessionID, builder(sessionID), r.engine)
	inst.OnComplete(func() {
		r.sessions.Remove(sessionID)
		r.trackSessions()
	})
	r.sessions.Create(sessionID, inst)
	r.trackSessions()
	return inst
}

func (r *Router) trackSessions() {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(r.sessions.Len()))
	}
}

func (r *Router) handleInterrupt(ctx context.Context, req Request, sessionID string, intr *graph.Interrupt, retryCount int) (*protocol.Response, error) {
	r.sessions.Remove(sessionID)
	r.trackSessions()
	if r.metrics != nil {
		r.metrics.RouteInterrupts.Inc()
	}

	if req.RequiredRoute != "" {
		// The caller pinned this conversation to one workflow and the
		// message fell outside it. Offer a coarse recommendation instead
		// of silently switching workflows.
		cls, err := r.classifier.Classify(ctx, req.Message)
		if err != nil {
			return nil, fmt.Errorf("classify out-of-scope message: %w", err)
		}
		return &protocol.Response{
			RouteRecommendations: []string{r.buckets.Recommend(cls.Route)},
		}, nil
	}

	if retryCount >= r.maxRetries {
		if r.metrics != nil {
			r.metrics.RetryExhausted.Inc()
		}
		return nil, fmt.Errorf("%w after %d attempts", ErrRetryExhausted, retryCount+1)
	}

	payload, err := protocol.ParseInterruptPayload(intr.Payload)
	if err != nil {
		// Malformed payloads are programming defects; surface them
		// unmodified rather than retrying.
		return nil, err
	}
	log.Printf("session %s: re-routing after interrupt (hint=%q, attempt=%d)", sessionID, payload.Intent, retryCount+1)

	next := req
	next.Message = payload.Message
	return r.send(ctx, next, retryCount+1)
}

func contains(routes []string, route string) bool {
	for _, r := range routes {
		if r == route {
			return true
		}
	}
	return false
}
