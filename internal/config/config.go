// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DatabaseURL string

	LLMMode    string
	LLMHTTPURL string
	LLMTimeout time.Duration

	MarketMode      string
	MarketHTTPURL   string
	MarketTokensTTL time.Duration
	MarketQuotesTTL time.Duration

	RouterMaxRetries    int
	ResolverCutoff      float64
	ResolverLimit       int
	ConfidenceThreshold float64

	IngressIdleTimeout time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:      envOrDefault("CROSSBAR_HTTP_ADDR", ":8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("CROSSBAR_DATABASE_URL")),
		LLMMode:       envOrDefault("CROSSBAR_LLM_MODE", "auto"),
		LLMHTTPURL:    strings.TrimSpace(os.Getenv("CROSSBAR_LLM_HTTP_URL")),
		MarketMode:    envOrDefault("CROSSBAR_MARKET_MODE", "auto"),
		MarketHTTPURL: strings.TrimSpace(os.Getenv("CROSSBAR_MARKET_HTTP_URL")),
	}

	var err error
	if cfg.LLMTimeout, err = durationFromEnv("CROSSBAR_LLM_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MarketTokensTTL, err = durationFromEnv("CROSSBAR_MARKET_TOKENS_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MarketQuotesTTL, err = durationFromEnv("CROSSBAR_MARKET_QUOTES_TTL", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RouterMaxRetries, err = intFromEnv("CROSSBAR_ROUTER_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.ResolverCutoff, err = floatFromEnv("CROSSBAR_RESOLVER_CUTOFF", 70); err != nil {
		return Config{}, err
	}
	if cfg.ResolverLimit, err = intFromEnv("CROSSBAR_RESOLVER_LIMIT", 5); err != nil {
		return Config{}, err
	}
	if cfg.ConfidenceThreshold, err = floatFromEnv("CROSSBAR_CONFIDENCE_THRESHOLD", 60); err != nil {
		return Config{}, err
	}
	if cfg.IngressIdleTimeout, err = durationFromEnv("CROSSBAR_INGRESS_IDLE_TIMEOUT", time.Minute); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("CROSSBAR_HTTP_ADDR must not be empty")
	}
	if c.RouterMaxRetries < 1 {
		return fmt.Errorf("CROSSBAR_ROUTER_MAX_RETRIES must be at least 1, got %d", c.RouterMaxRetries)
	}
	if c.ResolverCutoff < 0 || c.ResolverCutoff > 100 {
		return fmt.Errorf("CROSSBAR_RESOLVER_CUTOFF must be in [0,100], got %v", c.ResolverCutoff)
	}
	if c.ResolverLimit < 1 {
		return fmt.Errorf("CROSSBAR_RESOLVER_LIMIT must be at least 1, got %d", c.ResolverLimit)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("CROSSBAR_CONFIDENCE_THRESHOLD must be in (0,100], got %v", c.ConfidenceThreshold)
	}
	if c.IngressIdleTimeout < time.Second {
		return fmt.Errorf("CROSSBAR_INGRESS_IDLE_TIMEOUT must be at least 1s, got %v", c.IngressIdleTimeout)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return f, nil
}
