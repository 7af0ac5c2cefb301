// Package ingress exposes the router over HTTP. Chat turns stream out as
// server-sent events or websocket frames carrying processing, done, and
// error events.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/edoventura/crossbar/internal/observability"
	"github.com/edoventura/crossbar/internal/protocol"
	"github.com/edoventura/crossbar/internal/router"
	"github.com/edoventura/crossbar/internal/session"
	"github.com/edoventura/crossbar/internal/transcript"
)

const timeoutMessage = "Timed out waiting for a response. Please send your message again."

// ServerConfig wires a Server. Clock defaults to the wall clock and
// IdleTimeout to one minute.
type ServerConfig struct {
	Router      *router.Router
	Sessions    *session.Manager
	Transcripts transcript.Store
	Metrics     *observability.Metrics
	Clock       clock.Clock
	IdleTimeout time.Duration
}

type Server struct {
	router      *router.Router
	sessions    *session.Manager
	transcripts transcript.Store
	metrics     *observability.Metrics
	clock       clock.Clock
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	return &Server{
		router:      cfg.Router,
		sessions:    cfg.Sessions,
		transcripts: cfg.Transcripts,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		idleTimeout: cfg.IdleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Post("/v1/chat/messages", s.handleMessages)
	r.Get("/v1/chat/ws", s.handleWS)
	r.Get("/v1/transcripts/{sessionID}", s.handleTranscript)

	return r
}

type chatRequest struct {
	Sender        string   `json:"sender"`
	Thread        string   `json:"thread"`
	Client        string   `json:"client"`
	Message       string   `json:"message"`
	MessageType   string   `json:"message_type"`
	Context       string   `json:"context"`
	UserAddress   string   `json:"user_address"`
	RequiredRoute string   `json:"required_route"`
	AllowedRoutes []string `json:"allowed_routes"`
}

func (c chatRequest) validate() error {
	if c.Sender == "" {
		return errors.New("sender is required")
	}
	if c.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// effectiveSessionID mirrors the router's pinned-session suffix so the
// idle-timeout teardown removes the entry the router actually registered.
func (c chatRequest) effectiveSessionID() string {
	id := session.MakeID(c.Sender, c.Thread, c.Client)
	if c.RequiredRoute != "" {
		id += ":" + c.RequiredRoute
	}
	return id
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.runTurn(r.Context(), req, func(ev protocol.Event) bool {
		buf, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", buf); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	outbound := make(chan protocol.Event, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range outbound {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()
	defer func() {
		close(outbound)
		<-writerDone
	}()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := req.validate(); err != nil {
			outbound <- protocol.Event{Type: protocol.TypeError, Error: err.Error()}
			continue
		}
		s.runTurn(r.Context(), req, func(ev protocol.Event) bool {
			select {
			case outbound <- ev:
				return true
			case <-writerDone:
				return false
			}
		})
	}
}

// runTurn drives one router send and multiplexes its result, activity
// notifications, and the idle timeout into outbound events. The timeout is
// the only cancellation the core applies; on firing it the session is
// forcibly removed.
func (s *Server) runTurn(ctx context.Context, req chatRequest, emit func(protocol.Event) bool) {
	sessionID := session.MakeID(req.Sender, req.Thread, req.Client)
	s.record(ctx, sessionID, "user", req.Message)

	activities := make(chan string, 16)
	type turnResult struct {
		resp *protocol.Response
		err  error
	}
	results := make(chan turnResult, 1)

	go func() {
		resp, err := s.router.Send(ctx, router.Request{
			UserChatID:      req.Sender,
			SideChannelInfo: req.Client,
			SessionID:       sessionID,
			Message:         req.Message,
			MessageType:     req.MessageType,
			Context:         req.Context,
			UserAddress:     req.UserAddress,
			RequiredRoute:   req.RequiredRoute,
			AllowedRoutes:   req.AllowedRoutes,
			ActivityCallback: func(activity string) {
				select {
				case activities <- activity:
				default:
				}
			},
		})
		results <- turnResult{resp: resp, err: err}
	}()

	timer := s.clock.Timer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case activity := <-activities:
			if !s.emit(emit, protocol.Event{Type: protocol.TypeProcessing, Activity: activity}) {
				return
			}
			timer.Reset(s.idleTimeout)

		case res := <-results:
			// Activities already queued happened before the result; flush
			// them so processing events never trail the terminal one.
			for flushed := false; !flushed; {
				select {
				case activity := <-activities:
					if !s.emit(emit, protocol.Event{Type: protocol.TypeProcessing, Activity: activity}) {
						return
					}
				default:
					flushed = true
				}
			}
			if res.err != nil {
				s.emit(emit, protocol.Event{Type: protocol.TypeError, Error: res.err.Error()})
				return
			}
			if res.resp != nil && res.resp.Message != "" {
				s.record(ctx, sessionID, "assistant", res.resp.Message)
			}
			s.emit(emit, protocol.Event{Type: protocol.TypeDone, Response: res.resp})
			return

		case <-timer.C:
			log.Printf("session %s: idle timeout, removing", req.effectiveSessionID())
			if inst, ok := s.sessions.Get(req.effectiveSessionID()); ok {
				inst.Cancel()
			}
			s.sessions.Remove(req.effectiveSessionID())
			if s.metrics != nil {
				s.metrics.IngressTimeouts.Inc()
			}
			s.emit(emit, protocol.Event{Type: protocol.TypeError, Error: timeoutMessage})
			return

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) emit(emit func(protocol.Event) bool, ev protocol.Event) bool {
	if s.metrics != nil {
		s.metrics.IngressEvents.WithLabelValues(string(ev.Type)).Inc()
	}
	return emit(ev)
}

func (s *Server) record(ctx context.Context, sessionID, sender, content string) {
	if s.transcripts == nil {
		return
	}
	err := s.transcripts.Append(ctx, transcript.Entry{
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
	})
	if err != nil {
		log.Printf("session %s: transcript append failed: %v", sessionID, err)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "transcripts not configured")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.transcripts.Recent(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
