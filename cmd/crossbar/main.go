package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edoventura/crossbar/internal/config"
	"github.com/edoventura/crossbar/internal/flows"
	"github.com/edoventura/crossbar/internal/ingress"
	"github.com/edoventura/crossbar/internal/intent"
	"github.com/edoventura/crossbar/internal/llm"
	"github.com/edoventura/crossbar/internal/market"
	"github.com/edoventura/crossbar/internal/observability"
	"github.com/edoventura/crossbar/internal/resolve"
	"github.com/edoventura/crossbar/internal/router"
	"github.com/edoventura/crossbar/internal/session"
	"github.com/edoventura/crossbar/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics := observability.New()

	llmClient, err := llm.NewClient(llm.Config{
		Mode:    cfg.LLMMode,
		HTTPURL: cfg.LLMHTTPURL,
		Timeout: cfg.LLMTimeout,
		OnError: metrics.LLMErrors.Inc,
	})
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}

	provider, err := market.NewProvider(market.Config{
		Mode:      cfg.MarketMode,
		HTTPURL:   cfg.MarketHTTPURL,
		TokensTTL: cfg.MarketTokensTTL,
		QuotesTTL: cfg.MarketQuotesTTL,
	})
	if err != nil {
		log.Fatalf("build market provider: %v", err)
	}

	var store transcript.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = transcript.NewPostgresStore(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("open transcript store: %v", err)
		}
	} else {
		log.Printf("no database configured, keeping transcripts in memory")
		store = transcript.NewMemoryStore()
	}
	defer store.Close()

	sessions := session.NewManager()
	classifier := intent.NewKeywordClassifier()
	resolver := resolve.New(llmClient,
		resolve.WithCutoff(cfg.ResolverCutoff),
		resolve.WithLimit(cfg.ResolverLimit),
		resolve.WithStageObserver(func(stage string, seconds float64) {
			metrics.ResolverLatency.WithLabelValues(stage).Observe(seconds)
		}),
	)

	table := flows.NewTable(flows.Deps{
		LLM:                 llmClient,
		Market:              provider,
		Resolver:            resolver,
		Classifier:          classifier,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})

	rt, err := router.New(router.Config{
		Sessions:   sessions,
		Classifier: classifier,
		Table:      table,
		MaxRetries: cfg.RouterMaxRetries,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatalf("build router: %v", err)
	}

	srv := ingress.NewServer(ingress.ServerConfig{
		Router:      rt,
		Sessions:    sessions,
		Transcripts: store,
		Metrics:     metrics,
		IdleTimeout: cfg.IngressIdleTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
